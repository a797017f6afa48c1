package event

import (
	"encoding/json"
	"fmt"
)

// NewNotification は通知イベントを生成する。
// dataには通知本体を渡す。JSON形式にシリアライズされる。
func NewNotification(id int64, data any) (Event, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("イベントデータのシリアライズに失敗: %w", err)
	}
	return Event{Type: TypeNotification, ID: id, Data: jsonData}, nil
}

// NewError はエラーイベントを生成する。
func NewError(message string) Event {
	// ErrorDataのMarshalは失敗しない
	jsonData, _ := json.Marshal(ErrorData{Error: message})
	return Event{Type: TypeError, Data: jsonData}
}

// Heartbeat はハートビートイベントを返す。
func Heartbeat() Event {
	return Event{Type: TypeHeartbeat}
}

// DecodeData はイベントのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](e *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("イベントデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
