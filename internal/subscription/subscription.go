package subscription

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nao1215/notifystream/internal/store"
)

// Phase は購読の配信フェーズ。
type Phase int32

const (
	// PhaseReplaying はストアからのバックフィル中。
	PhaseReplaying Phase = iota
	// PhaseStreaming はライブ配信中。
	PhaseStreaming
)

// String はフェーズ名を返す。
func (p Phase) String() string {
	switch p {
	case PhaseReplaying:
		return "replaying"
	case PhaseStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// OfferResult はOfferの結果。
type OfferResult int

const (
	// OfferQueued はメールボックスに格納できた。
	OfferQueued OfferResult = iota
	// OfferLagged はバックフィル中にメールボックスが溢れた。購読者がストアから再取得する。
	OfferLagged
	// OfferOverflow はライブ配信中にメールボックスが溢れた。購読者は遅すぎる。
	OfferOverflow
	// OfferClosed は購読がすでにキャンセルされている。
	OfferClosed
)

// Subscription は1本のストリーム接続を表す。
// 接続を処理するゴルーチンが所有し、Registryは登録中のみ参照する。
type Subscription struct {
	id     string
	userID string
	// cursor は最後に配信に成功した通知ID。
	cursor atomic.Int64
	// mailbox はDispatcherから渡された通知の待ち行列。閉じられることはない。
	mailbox chan store.Notification

	ctx    context.Context
	cancel context.CancelCauseFunc

	// mu はphaseとlaggedを保護する。
	mu     sync.Mutex
	phase  Phase
	lagged bool
}

// New は新しい購読を生成する。
// cursorにはクライアントが最後に受信した通知ID（無ければ0）を渡す。
// parentがキャンセルされると購読もキャンセルされる。
func New(parent context.Context, userID string, cursor int64, mailboxSize int) *Subscription {
	if mailboxSize <= 0 {
		mailboxSize = 1
	}
	ctx, cancel := context.WithCancelCause(parent)
	s := &Subscription{
		id:      uuid.NewString(),
		userID:  userID,
		mailbox: make(chan store.Notification, mailboxSize),
		ctx:     ctx,
		cancel:  cancel,
		phase:   PhaseReplaying,
	}
	s.cursor.Store(cursor)
	return s
}

// ID は購読の一意識別子を返す。
func (s *Subscription) ID() string { return s.id }

// UserID は購読者のユーザーIDを返す。
func (s *Subscription) UserID() string { return s.userID }

// Cursor は最後に配信した通知IDを返す。
func (s *Subscription) Cursor() int64 { return s.cursor.Load() }

// Advance は配信に成功した通知IDまでカーソルを進める。
// カーソルが後退することはない。
func (s *Subscription) Advance(id int64) {
	for {
		cur := s.cursor.Load()
		if id <= cur || s.cursor.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Context は購読のライフタイムを表すコンテキストを返す。
func (s *Subscription) Context() context.Context { return s.ctx }

// Done は購読がキャンセルされると閉じるチャネルを返す。
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

// Err はキャンセルの原因を返す。キャンセルされていなければnil。
func (s *Subscription) Err() error { return context.Cause(s.ctx) }

// Cancel は原因つきで購読をキャンセルする。2回目以降の呼び出しは原因を上書きしない。
func (s *Subscription) Cancel(cause error) { s.cancel(cause) }

// Mailbox は配信待ちの通知を受け取るチャネルを返す。
func (s *Subscription) Mailbox() <-chan store.Notification { return s.mailbox }

// Phase は現在の配信フェーズを返す。
func (s *Subscription) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Offer は通知をブロックせずにメールボックスへ渡す。Dispatcherから呼ばれる。
func (s *Subscription) Offer(n store.Notification) OfferResult {
	if s.ctx.Err() != nil {
		return OfferClosed
	}

	select {
	case s.mailbox <- n:
		return OfferQueued
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseReplaying {
		s.lagged = true
		return OfferLagged
	}
	return OfferOverflow
}

// FinishReplay はバックフィルからライブ配信への切り替えを試みる。
// バックフィル中にメールボックスが溢れていた場合はフラグを下ろしてfalseを返すので、
// 呼び出し側はカーソルから再度バックフィルする。
func (s *Subscription) FinishReplay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lagged {
		s.lagged = false
		return false
	}
	s.phase = PhaseStreaming
	return true
}
