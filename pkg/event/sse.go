package event

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-contrib/sse"
)

// ContentTypeSSE はServer-Sent EventsのContent-Type。
const ContentTypeSSE = "text/event-stream"

// heartbeatFrame はSSEのコメント行。クライアントのEventSourceは無視する。
const heartbeatFrame = ": ping\n\n"

// WriteSSE はイベントを1つのSSEフレームとして書き込む。
//
// 通知は "id:<id>\ndata:<json>\n\n"、エラーは "event:error\ndata:<json>\n\n"、
// ハートビートはコメント行として出力する。
func WriteSSE(w io.Writer, e Event) error {
	switch e.Type {
	case TypeHeartbeat:
		_, err := io.WriteString(w, heartbeatFrame)
		return err
	case TypeNotification:
		return sse.Encode(w, sse.Event{
			Id:   strconv.FormatInt(e.ID, 10),
			Data: string(e.Data),
		})
	case TypeError:
		return sse.Encode(w, sse.Event{
			Event: string(TypeError),
			Data:  string(e.Data),
		})
	default:
		return fmt.Errorf("未知のイベント種別です: %q", e.Type)
	}
}

// Reader はSSEストリームからイベントを1件ずつ読み出す。
// コメント行（ハートビート）はTypeHeartbeatとして返す。
type Reader struct {
	// scanner は行単位の読み出しに使用する。
	scanner *bufio.Scanner
}

// NewReader は新しいSSEリーダーを生成する。
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next は次のイベントを返す。ストリームが終端に達した場合はio.EOFを返す。
func (r *Reader) Next() (Event, error) {
	var (
		e       Event
		data    []string
		started bool
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if !started {
				continue
			}
			if e.Type == "" {
				e.Type = TypeNotification
			}
			e.Data = []byte(strings.Join(data, "\n"))
			return e, nil
		}

		if strings.HasPrefix(line, ":") {
			if !started {
				return Heartbeat(), nil
			}
			continue
		}

		started = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Event{}, fmt.Errorf("イベントIDが不正です: %q: %w", value, err)
			}
			e.ID = id
		case "event":
			e.Type = Type(value)
		case "data":
			data = append(data, value)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("SSEストリームの読み込みに失敗: %w", err)
	}
	if started {
		return Event{}, errors.New("SSEフレームが途中で終了しました")
	}
	return Event{}, io.EOF
}
