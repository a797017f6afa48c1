package store

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore はテスト用のインメモリSQLiteストアを生成する。
func openTestStore(t *testing.T) *SQLite {
	t.Helper()

	s, err := OpenSQLite(t.Context(), ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// appendTest はテスト用に通知を保存するヘルパー関数。
func appendTest(t *testing.T, s *SQLite, userID, payload string) Notification {
	t.Helper()

	n, err := s.Append(t.Context(), NewNotification{UserID: userID, Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return n
}

// TestSQLiteAppend は通知の保存を検証する。
func TestSQLiteAppend(t *testing.T) {
	t.Parallel()

	t.Run("IDが1から単調増加で採番されること", func(t *testing.T) {
		t.Parallel()
		s := openTestStore(t)

		first := appendTest(t, s, "u1", `"hello"`)
		second := appendTest(t, s, "u2", `{"k":"v"}`)

		assert.EqualValues(t, 1, first.ID)
		assert.EqualValues(t, 2, second.ID)
		assert.Equal(t, "u1", first.UserID)
		assert.JSONEq(t, `"hello"`, string(first.Payload))
		assert.Equal(t, time.UTC, first.CreatedAt.Location())
	})

	t.Run("ペイロード未指定の場合はnullとして保存されること", func(t *testing.T) {
		t.Parallel()
		s := openTestStore(t)

		n, err := s.Append(t.Context(), NewNotification{UserID: "u1"})
		require.NoError(t, err)
		assert.Equal(t, "null", string(n.Payload))

		got, err := s.Get(t.Context(), n.ID)
		require.NoError(t, err)
		assert.Equal(t, "null", string(got.Payload))
	})

	t.Run("並行して保存してもIDが重複しないこと", func(t *testing.T) {
		t.Parallel()
		s := openTestStore(t)

		const workers, perWorker = 8, 25
		var (
			mu  sync.Mutex
			ids = make(map[int64]struct{})
			wg  sync.WaitGroup
		)
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range perWorker {
					n, err := s.Append(t.Context(), NewNotification{UserID: "u1", Payload: json.RawMessage(`1`)})
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					ids[n.ID] = struct{}{}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, ids, workers*perWorker)
	})

	t.Run("閉じたストアへの保存はErrUnavailableになること", func(t *testing.T) {
		t.Parallel()
		s := openTestStore(t)
		require.NoError(t, s.Close())

		_, err := s.Append(t.Context(), NewNotification{UserID: "u1"})
		require.ErrorIs(t, err, ErrUnavailable)
	})
}

// TestSQLiteQueryAfter はカーソル検索を検証する。
func TestSQLiteQueryAfter(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	appendTest(t, s, "u1", `1`) // id 1
	appendTest(t, s, "u2", `2`) // id 2
	appendTest(t, s, "u1", `3`) // id 3
	appendTest(t, s, "u1", `4`) // id 4

	ids := func(ns []Notification) []int64 {
		out := make([]int64, 0, len(ns))
		for _, n := range ns {
			out = append(out, n.ID)
		}
		return out
	}

	tests := []struct {
		name    string
		userID  string
		afterID int64
		limit   int
		want    []int64
	}{
		{name: "カーソル0では対象ユーザーの全件がID昇順で返ること", userID: "u1", afterID: 0, want: []int64{1, 3, 4}},
		{name: "カーソルより後の通知のみ返ること", userID: "u1", afterID: 1, want: []int64{3, 4}},
		{name: "limitで件数が制限されること", userID: "u1", afterID: 0, limit: 2, want: []int64{1, 3}},
		{name: "他ユーザーの通知は含まれないこと", userID: "u2", afterID: 0, want: []int64{2}},
		{name: "最新IDをカーソルにすると空になること", userID: "u1", afterID: 4, want: []int64{}},
		{name: "未知のユーザーは空になること", userID: "nobody", afterID: 0, want: []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := s.QueryAfter(t.Context(), tt.userID, tt.afterID, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

// TestSQLiteGet はIDによる取得を検証する。
func TestSQLiteGet(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	created := appendTest(t, s, "u1", `{"title":"hi"}`)

	t.Run("保存した通知をそのまま取得できること", func(t *testing.T) {
		t.Parallel()

		got, err := s.Get(t.Context(), created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, created.UserID, got.UserID)
		assert.JSONEq(t, string(created.Payload), string(got.Payload))
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("存在しないIDはErrNotFoundになること", func(t *testing.T) {
		t.Parallel()

		_, err := s.Get(t.Context(), 999)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

// TestSQLitePruneBefore は保持期間による削除を検証する。
func TestSQLitePruneBefore(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s.now = func() time.Time { return current }

	appendTest(t, s, "u1", `1`)
	current = base.Add(time.Hour)
	appendTest(t, s, "u1", `2`)
	current = base.Add(2 * time.Hour)
	appendTest(t, s, "u1", `3`)

	deleted, err := s.PruneBefore(t.Context(), base.Add(90*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	rest, err := s.QueryAfter(t.Context(), "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.EqualValues(t, 3, rest[0].ID)

	// 削除後もIDは再利用されない
	n := appendTest(t, s, "u1", `4`)
	assert.EqualValues(t, 4, n.ID)
}
