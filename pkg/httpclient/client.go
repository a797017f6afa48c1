package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client はnotifystreamサーバーとの通信用HTTPクライアント。
type Client struct {
	// httpClient は通常のJSON API呼び出しに使用するHTTPクライアント。
	httpClient *http.Client
	// streamClient はストリーム購読に使用するHTTPクライアント。
	// 長時間接続のため全体タイムアウトを持たない。
	streamClient *http.Client
	// baseURL は接続先サーバーのベースURL。
	baseURL string
}

// defaultTimeout はJSON API呼び出しの既定のタイムアウト。
const defaultTimeout = 30 * time.Second

// maxErrorBody はエラーレスポンスから読み込む最大バイト数。
const maxErrorBody = 64 << 10

// Option はクライアントの生成オプション。
type Option func(*Client)

// WithTimeout はJSON API呼び出しのタイムアウトを設定する。ストリームには適用されない。
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithTransport は両方のHTTPクライアントが使うTransportを差し替える。
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.httpClient.Transport = rt
		c.streamClient.Transport = rt
	}
}

// New は新しいHTTPクライアントを生成する。
// baseURLには接続先サーバーのベースURL（例: "http://localhost:8080"）を指定する。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		baseURL:      strings.TrimSuffix(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HTTPError は2xx以外のレスポンスを表すエラー。
type HTTPError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Message はサーバーが {"error": "..."} 形式で返したメッセージ。無ければ空。
	Message string
	// Body はレスポンスボディ。
	Body string
}

// Error はエラーメッセージを返す。
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// PostJSON は指定パスにJSONボディでPOSTリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) PostJSON(ctx context.Context, path string, body any, result any) error {
	return c.doJSON(ctx, http.MethodPost, path, body, result)
}

// GetJSON は指定パスにGETリクエストを送信する。
// レスポンスボディをresultにデシリアライズする。
func (c *Client) GetJSON(ctx context.Context, path string, result any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, result)
}

// doJSON はJSON形式のHTTPリクエストを実行する共通処理。
func (c *Client) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの送信に失敗: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
		}
	}
	return nil
}

// newRequest はコンテキストの認証トークンを付与したリクエストを生成する。
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}
	if token, ok := ctx.Value(contextKeyToken).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// checkStatus は2xx以外のレスポンスをHTTPErrorに変換する。
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		httpErr.Message = payload.Error
	}
	return httpErr
}

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyToken はコンテキストに認証トークンを格納するためのキー。
const contextKeyToken contextKey = "token"

// WithToken はコンテキストに認証トークンを設定する。
// 設定されたトークンはAuthorizationヘッダーとして送信される。
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyToken, token)
}
