package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nao1215/notifystream/pkg/event"
)

// Stream は指定パスのSSEストリームを購読し、受信したイベントごとにfnを呼び出す。
//
// lastIDが0より大きい場合はLast-Event-IDヘッダーで再開位置を伝える。
// fnがエラーを返すか、コンテキストがキャンセルされるか、サーバーが接続を閉じると戻る。
// サーバーが接続を閉じた場合はnilを返す。
func (c *Client) Stream(ctx context.Context, path string, lastID int64, fn func(event.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", event.ContentTypeSSE)
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("ストリームへの接続に失敗: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, event.ContentTypeSSE) {
		return fmt.Errorf("SSEではないレスポンスです: Content-Type=%q", ct)
	}

	reader := event.NewReader(resp.Body)
	for {
		e, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
