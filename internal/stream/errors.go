package stream

import (
	"errors"
)

var (
	// ErrWriteTimeout は送出先への書き込みが制限時間内に終わらなかったことを表す。
	ErrWriteTimeout = errors.New("ストリームへの書き込みがタイムアウトしました")
	// ErrBackfill はバックフィル中にストアからの読み込みに失敗したことを表す。
	ErrBackfill = errors.New("バックフィルに失敗しました")
	// ErrShutdown はサーバー停止によりセッションを終了したことを表す。
	// サーバーはリクエストの親コンテキストをこの原因でキャンセルする。
	ErrShutdown = errors.New("サーバーを停止しています")
)

// SinkWriteError は送出先への書き込み失敗を表す。購読は打ち切られる。
type SinkWriteError struct {
	// Err は失敗の原因。タイムアウトの場合はErrWriteTimeout。
	Err error
}

// Error はエラーメッセージを返す。
func (e *SinkWriteError) Error() string {
	return "ストリームへの書き込みに失敗: " + e.Err.Error()
}

// Unwrap は原因のエラーを返す。
func (e *SinkWriteError) Unwrap() error {
	return e.Err
}
