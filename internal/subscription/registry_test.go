package subscription

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSub(userID string) *Subscription {
	return New(context.Background(), userID, 0, 4)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	t.Run("登録した購読がユーザーごとに取得できること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		a, b, c := newSub("u1"), newSub("u1"), newSub("u2")
		r.Register(a)
		r.Register(b)
		r.Register(c)

		assert.ElementsMatch(t, []*Subscription{a, b}, r.MatchingFor("u1"))
		assert.Equal(t, []*Subscription{c}, r.MatchingFor("u2"))
		assert.Empty(t, r.MatchingFor("u3"))
		assert.Equal(t, 3, r.Count())
		assert.Equal(t, 2, r.Users())
	})

	t.Run("同じ購読を2回登録しても1件であること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		a := newSub("u1")
		r.Register(a)
		r.Register(a)

		assert.Len(t, r.MatchingFor("u1"), 1)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("登録解除は冪等であること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		a, b := newSub("u1"), newSub("u1")
		r.Register(a)
		r.Register(b)

		r.Unregister(a.ID())
		r.Unregister(a.ID())
		r.Unregister("unknown")

		assert.Equal(t, []*Subscription{b}, r.MatchingFor("u1"))
		_, ok := r.Lookup(a.ID())
		assert.False(t, ok)

		r.Unregister(b.ID())
		assert.Empty(t, r.MatchingFor("u1"))
		assert.Equal(t, 0, r.Count())
		assert.Equal(t, 0, r.Users())
	})

	t.Run("スナップショットは後続の変更の影響を受けないこと", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		a := newSub("u1")
		r.Register(a)

		snapshot := r.MatchingFor("u1")
		r.Register(newSub("u1"))
		r.Unregister(a.ID())

		require.Len(t, snapshot, 1)
		assert.Same(t, a, snapshot[0])
	})

	t.Run("並行した登録と解除で整合性が保たれること", func(t *testing.T) {
		t.Parallel()

		r := NewRegistry()
		const n = 64

		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				sub := newSub(fmt.Sprintf("u%d", i%4))
				r.Register(sub)
				if i%2 == 0 {
					r.Unregister(sub.ID())
				}
			}()
		}
		wg.Wait()

		total := 0
		for u := range 4 {
			total += len(r.MatchingFor(fmt.Sprintf("u%d", u)))
		}
		assert.Equal(t, n/2, total)
		assert.Equal(t, n/2, r.Count())
	})
}
