package stream

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nao1215/notifystream/pkg/event"
)

// Sink はイベントの送出先。
// Sendはセッションのゴルーチンからのみ呼ばれる。
type Sink interface {
	// Send はイベントを1件書き込む。deadlineを過ぎた書き込みは失敗させてよい。
	Send(e event.Event, deadline time.Time) error
}

// SSESink はHTTPレスポンスにSSEフレームを書き込むSink。
type SSESink struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

var _ Sink = (*SSESink)(nil)

// NewSSESink はSSESinkを生成する。
func NewSSESink(w http.ResponseWriter) *SSESink {
	return &SSESink{w: w, rc: http.NewResponseController(w)}
}

// Start はSSE用のレスポンスヘッダーを送出する。
func (s *SSESink) Start() error {
	h := s.w.Header()
	h.Set("Content-Type", event.ContentTypeSSE)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.rc.Flush()
}

// Send はイベントをSSEフレームとして書き込み、即座にフラッシュする。
func (s *SSESink) Send(e event.Event, deadline time.Time) error {
	// 書き込み期限を設定できない環境ではウォッチドッグのみで打ち切る
	if err := s.rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	if err := event.WriteSSE(s.w, e); err != nil {
		return err
	}
	return s.rc.Flush()
}

// WebSocketSink はWebSocket接続にJSONメッセージを書き込むSink。
// ハートビートはPingフレームとして送る。
type WebSocketSink struct {
	conn *websocket.Conn
}

var _ Sink = (*WebSocketSink)(nil)

// NewWebSocketSink はWebSocketSinkを生成する。
func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

// Send はイベントを1件書き込む。
func (s *WebSocketSink) Send(e event.Event, deadline time.Time) error {
	if e.Type == event.TypeHeartbeat {
		return s.conn.WriteControl(websocket.PingMessage, nil, deadline)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(e)
}
