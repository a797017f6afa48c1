// Package event はストリームに流れるワイヤーイベントを定義する。
//
// 同じEventをSSEフレームとWebSocketメッセージの両方に変換して送出する。
package event

import (
	"encoding/json"
)

// Type はストリームイベントの種類を表す。
type Type string

const (
	// TypeNotification は通知1件を運ぶイベント。IDに通知IDが入る。
	TypeNotification Type = "notification"
	// TypeError はストリームを終了させる致命的なエラーを通知するイベント。
	TypeError Type = "error"
	// TypeHeartbeat は接続維持のためのハートビート。データを持たない。
	TypeHeartbeat Type = "heartbeat"
)

// Event はクライアントへ送出する1件のストリームイベント。
type Event struct {
	// Type はイベントの種類。
	Type Type `json:"type"`
	// ID は通知ID。通知イベント以外では0。
	ID int64 `json:"id,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorData はエラーイベントのデータ。
type ErrorData struct {
	// Error はエラーメッセージ。
	Error string `json:"error"`
}
