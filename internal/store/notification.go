package store

import (
	"encoding/json"
	"time"
)

// Notification はストアに保存された不変の通知レコード。
type Notification struct {
	// ID はストアが採番した単調増加の識別子。
	ID int64 `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"userId"`
	// Payload は不透明な通知内容（JSON形式）。
	Payload json.RawMessage `json:"payload"`
	// CreatedAt は通知が保存された日時（UTC）。
	CreatedAt time.Time `json:"createdAt"`
}

// NewNotification は保存前の通知。IDと作成日時はストアが割り当てる。
type NewNotification struct {
	// UserID は通知先のユーザーID。
	UserID string
	// Payload は通知内容（JSON形式）。空の場合はnullとして保存する。
	Payload json.RawMessage
}
