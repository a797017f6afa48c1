package notification

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nao1215/notifystream/internal/dispatch"
	"github.com/nao1215/notifystream/internal/stream"
)

// wsReadLimit はクライアントから受け付けるメッセージの最大長。
// クライアントからのメッセージは読み捨てる。
const wsReadLimit = 512

// handleStream はユーザーの通知をSSEで配信するハンドラ。
// クライアントが切断するかサーバーが停止するまで戻らない。
func (s *Server) handleStream() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		lastID, err := resumeCursor(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sink := stream.NewSSESink(c.Writer)
		if err := sink.Start(); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("SSEストリームを開始できませんでした")
			return
		}

		err = s.gateway.Serve(c.Request.Context(), userID, lastID, stream.TransportSSE, sink)
		logSessionEnd(s.log, userID, stream.TransportSSE, err)
	}
}

// handleWebSocket はユーザーの通知をWebSocketで配信するハンドラ。
func (s *Server) handleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Param("userId")
		lastID, err := resumeCursor(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Upgradeは失敗時にエラーレスポンスを書き込む
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("WebSocketへのアップグレードに失敗しました")
			return
		}
		defer conn.Close()

		// ハイジャック後はクライアントの切断がリクエストのコンテキストに反映されないため、
		// 読み込みの失敗で切断を検知する
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go readPump(conn, cancel)

		err = s.gateway.Serve(ctx, userID, lastID, stream.TransportWebSocket, stream.NewWebSocketSink(conn))
		logSessionEnd(s.log, userID, stream.TransportWebSocket, err)

		msg := websocket.FormatCloseMessage(closeCode(err), "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
}

// readPump はクライアントからのメッセージを読み捨て、接続が切れたらcancelを呼ぶ。
// Pong等の制御フレームもここで処理される。
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

// closeCode はセッションの終了原因をWebSocketのクローズコードに変換する。
func closeCode(err error) int {
	var sinkErr *stream.SinkWriteError
	switch {
	case err == nil:
		return websocket.CloseNormalClosure
	case errors.Is(err, stream.ErrShutdown):
		return websocket.CloseGoingAway
	case errors.Is(err, dispatch.ErrSlowConsumer), errors.Is(err, dispatch.ErrUndelivered), errors.As(err, &sinkErr):
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseInternalServerErr
	}
}

// logSessionEnd はセッションの終了をログに記録する。
// クライアント切断とサーバー停止は正常終了として扱う。
func logSessionEnd(log zerolog.Logger, userID, transport string, err error) {
	if err == nil || errors.Is(err, stream.ErrShutdown) {
		return
	}
	log.Warn().
		Err(err).
		Str("user_id", userID).
		Str("transport", transport).
		Msg("ストリームが異常終了しました")
}
