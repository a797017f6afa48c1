package notification

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
)

// createRequest は通知作成リクエストのJSON構造。
type createRequest struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"userId" binding:"required"`
	// Payload は通知内容。任意のJSON値を受け付ける。
	Payload json.RawMessage `json:"payload"`
}

// healthResponse はヘルスチェックのJSONレスポンス構造。
type healthResponse struct {
	// Status は "ok" または "unavailable"。
	Status string `json:"status"`
	// Service はサービス名。
	Service string `json:"service"`
	// Subscriptions は接続中のストリーム数。
	Subscriptions int `json:"subscriptions"`
	// Users はストリームを接続しているユーザー数。
	Users int `json:"users"`
}

const (
	// queryKeyLastID は再開位置を指定するクエリパラメータ。
	queryKeyLastID = "lastId"
	// headerLastEventID はEventSourceが再接続時に送るヘッダー。
	headerLastEventID = "Last-Event-ID"
)

// resumeCursor はクライアントが最後に受信した通知IDを取り出す。
// lastIdクエリパラメータ、Last-Event-IDヘッダーの順に参照し、どちらも無ければ0を返す。
func resumeCursor(c *gin.Context) (int64, error) {
	raw := c.Query(queryKeyLastID)
	if raw == "" {
		raw = c.GetHeader(headerLastEventID)
	}
	if raw == "" {
		return 0, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("lastIdが不正です: %q", raw)
	}
	if id < 0 {
		return 0, errors.New("lastIdは0以上でなければなりません")
	}
	return id, nil
}
