package subscription

import (
	"slices"

	"github.com/puzpuzpuz/xsync/v4"
)

// Registry はアクティブな購読をユーザーごとに管理する。
//
// ユーザーごとの購読集合はコピーオンライトのスライスで、更新は
// xsync.Map.Computeによりユーザー単位で直列化される。
// byIDの更新も同じCompute内で行うため、両者が食い違うことはない。
type Registry struct {
	byUser *xsync.Map[string, []*Subscription]
	byID   *xsync.Map[string, *Subscription]
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{
		byUser: xsync.NewMap[string, []*Subscription](),
		byID:   xsync.NewMap[string, *Subscription](),
	}
}

// Register は購読を登録する。同じ購読を2回登録しても1件として扱う。
func (r *Registry) Register(sub *Subscription) {
	r.byUser.Compute(sub.UserID(), func(old []*Subscription, _ bool) ([]*Subscription, xsync.ComputeOp) {
		if _, loaded := r.byID.LoadOrStore(sub.ID(), sub); loaded {
			return old, xsync.CancelOp
		}
		next := make([]*Subscription, 0, len(old)+1)
		next = append(next, old...)
		next = append(next, sub)
		return next, xsync.UpdateOp
	})
}

// Unregister は購読を登録解除する。未登録のIDに対しては何もしない。
func (r *Registry) Unregister(id string) {
	sub, ok := r.byID.Load(id)
	if !ok {
		return
	}

	r.byUser.Compute(sub.UserID(), func(old []*Subscription, loaded bool) ([]*Subscription, xsync.ComputeOp) {
		if _, removed := r.byID.LoadAndDelete(id); !removed || !loaded {
			return old, xsync.CancelOp
		}
		next := slices.DeleteFunc(slices.Clone(old), func(s *Subscription) bool {
			return s.ID() == id
		})
		if len(next) == 0 {
			return nil, xsync.DeleteOp
		}
		return next, xsync.UpdateOp
	})
}

// MatchingFor はユーザーのアクティブな購読のスナップショットを返す。
// 返り値は呼び出し側が自由に変更できるコピー。
func (r *Registry) MatchingFor(userID string) []*Subscription {
	subs, ok := r.byUser.Load(userID)
	if !ok {
		return nil
	}
	return slices.Clone(subs)
}

// Lookup はIDで購読を取得する。
func (r *Registry) Lookup(id string) (*Subscription, bool) {
	return r.byID.Load(id)
}

// Count は登録中の購読数を返す。
func (r *Registry) Count() int {
	return r.byID.Size()
}

// Users は購読が1件以上あるユーザー数を返す。
func (r *Registry) Users() int {
	return r.byUser.Size()
}
