package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable はストアが利用できないことを表す。
	// ingestでは5xx、バックフィルではストリームの終了として扱われる。
	ErrUnavailable = errors.New("通知ストアが利用できません")
	// ErrNotFound は指定されたIDの通知が存在しないことを表す。
	ErrNotFound = errors.New("通知が見つかりません")
)

// Store は通知ストアのインターフェース。
// 追記はアトミックで、IDは一意かつ単調増加でなければならない。
type Store interface {
	// Append は通知を保存し、IDと作成日時を割り当てた通知を返す。
	Append(ctx context.Context, n NewNotification) (Notification, error)
	// QueryAfter はuserIDの通知のうちIDがafterIDより大きいものをID昇順で返す。
	// limitが0以下の場合は件数を制限しない。
	QueryAfter(ctx context.Context, userID string, afterID int64, limit int) ([]Notification, error)
	// Get はIDで通知を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, id int64) (Notification, error)
}

// Pruner は保持期間を過ぎた通知を削除できるストア。
type Pruner interface {
	// PruneBefore はcutoffより前に作成された通知を削除し、削除件数を返す。
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
