package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nao1215/notifystream/internal/dispatch"
	"github.com/nao1215/notifystream/internal/metrics"
	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/internal/subscription"
	"github.com/nao1215/notifystream/pkg/event"
)

// トランスポート名。メトリクスとログのラベルに使う。
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Querier はバックフィルに使うストアの読み込み操作。
type Querier interface {
	QueryAfter(ctx context.Context, userID string, afterID int64, limit int) ([]store.Notification, error)
}

// Config はセッションの設定。
type Config struct {
	// MailboxSize は購読ごとのメールボックス長。
	MailboxSize int
	// WriteTimeout は1回の書き込みに許す時間。
	WriteTimeout time.Duration
	// HeartbeatInterval はハートビートの送出間隔。
	HeartbeatInterval time.Duration
	// BackfillPageSize はバックフィルで1回に読み込む件数。
	BackfillPageSize int
}

// DefaultConfig は既定のセッション設定を返す。
func DefaultConfig() Config {
	return Config{
		MailboxSize:       256,
		WriteTimeout:      5 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		BackfillPageSize:  500,
	}
}

// Gateway はストリーム接続ごとにセッションを実行する。
type Gateway struct {
	store    Querier
	registry *subscription.Registry
	cfg      Config
	metrics  metrics.Collector
	log      zerolog.Logger
}

// NewGateway はGatewayを生成する。cfgの0値の項目には既定値を使う。
func NewGateway(q Querier, registry *subscription.Registry, cfg Config, m metrics.Collector, log zerolog.Logger) *Gateway {
	def := DefaultConfig()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.BackfillPageSize <= 0 {
		cfg.BackfillPageSize = def.BackfillPageSize
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Gateway{store: q, registry: registry, cfg: cfg, metrics: m, log: log}
}

// Serve はuserIDのストリームをsinkへ送出し、接続が終わるまでブロックする。
//
// lastIDより大きいIDの通知をまずストアから送出し、その後ライブ配信に切り替える。
// ctxのキャンセル（クライアント切断）で終了した場合はnilを返す。
// それ以外の理由で終了した場合はその原因を返す。
func (g *Gateway) Serve(ctx context.Context, userID string, lastID int64, transport string, sink Sink) error {
	sub := subscription.New(ctx, userID, lastID, g.cfg.MailboxSize)
	log := g.log.With().
		Str("subscription_id", sub.ID()).
		Str("user_id", userID).
		Str("transport", transport).
		Logger()

	// バックフィルより前に登録し、その間に保存された通知を取りこぼさない
	g.registry.Register(sub)
	g.metrics.SubscriptionOpened(transport)
	log.Debug().Int64("last_id", lastID).Msg("ストリームを開始しました")

	s := &session{
		gateway: g,
		sub:     sub,
		sink:    sink,
		log:     log,
	}
	err := s.run()

	g.registry.Unregister(sub.ID())
	sub.Cancel(context.Canceled)

	reason := closeReason(err)
	g.metrics.SubscriptionClosed(transport, reason)
	log.Debug().
		Err(err).
		Str("reason", reason).
		Int64("cursor", sub.Cursor()).
		Msg("ストリームを終了しました")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// closeReason はセッションの終了原因をメトリクスのラベルに変換する。
func closeReason(err error) string {
	var sinkErr *SinkWriteError
	switch {
	case errors.Is(err, ErrShutdown):
		return metrics.ReasonShutdown
	case errors.Is(err, dispatch.ErrSlowConsumer):
		return metrics.ReasonSlowConsumer
	case errors.Is(err, dispatch.ErrUndelivered):
		return metrics.ReasonUndelivered
	case errors.As(err, &sinkErr):
		return metrics.ReasonSinkError
	case errors.Is(err, ErrBackfill):
		return metrics.ReasonStoreError
	default:
		return metrics.ReasonClientGone
	}
}

// session は1本のストリーム接続の状態。
type session struct {
	gateway *Gateway
	sub     *subscription.Subscription
	sink    Sink
	log     zerolog.Logger
}

// run はバックフィルとライブ配信を順に実行する。
func (s *session) run() error {
	for {
		if err := s.replay(); err != nil {
			return err
		}
		if s.sub.FinishReplay() {
			break
		}
		// バックフィル中にメールボックスが溢れたので、カーソルから読み直す
		s.log.Debug().Int64("cursor", s.sub.Cursor()).Msg("バックフィルをやり直します")
	}
	return s.live()
}

// replay はカーソルより後の通知をページ単位でストアから送出する。
func (s *session) replay() error {
	pageSize := s.gateway.cfg.BackfillPageSize
	for {
		if err := s.sub.Context().Err(); err != nil {
			return context.Cause(s.sub.Context())
		}

		page, err := s.gateway.store.QueryAfter(s.sub.Context(), s.sub.UserID(), s.sub.Cursor(), pageSize)
		if err != nil {
			if s.sub.Context().Err() != nil {
				return context.Cause(s.sub.Context())
			}
			s.log.Error().Err(err).Int64("cursor", s.sub.Cursor()).Msg("バックフィルの読み込みに失敗しました")
			if werr := s.write(event.NewError("通知の取得に失敗しました")); werr != nil {
				s.log.Debug().Err(werr).Msg("エラーイベントを送出できませんでした")
			}
			return fmt.Errorf("%w: %w", ErrBackfill, err)
		}

		for _, n := range page {
			if err := s.deliver(n); err != nil {
				return err
			}
		}
		s.gateway.metrics.BackfillDelivered(len(page))

		if len(page) < pageSize {
			return nil
		}
	}
}

// live はメールボックスに届いた通知を送出し、一定間隔でハートビートを送る。
func (s *session) live() error {
	ticker := time.NewTicker(s.gateway.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.sub.Done():
			return context.Cause(s.sub.Context())
		case n := <-s.sub.Mailbox():
			if err := s.deliver(n); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.write(event.Heartbeat()); err != nil {
				return err
			}
		}
	}
}

// deliver は通知を1件送出してカーソルを進める。
// カーソル以下のIDはバックフィルで送出済みなので読み飛ばす。
func (s *session) deliver(n store.Notification) error {
	if n.ID <= s.sub.Cursor() {
		return nil
	}
	e, err := event.NewNotification(n.ID, n)
	if err != nil {
		return err
	}
	if err := s.write(e); err != nil {
		return err
	}
	s.sub.Advance(n.ID)
	return nil
}

// write はウォッチドッグつきでイベントを書き込む。
// 制限時間を過ぎると書き込みの完了を待たずに購読を登録解除してキャンセルする。
func (s *session) write(e event.Event) error {
	timeout := s.gateway.cfg.WriteTimeout
	watchdog := time.AfterFunc(timeout, func() {
		s.gateway.registry.Unregister(s.sub.ID())
		s.sub.Cancel(&SinkWriteError{Err: ErrWriteTimeout})
		s.gateway.metrics.DeliveryDropped(metrics.ReasonSinkError)
		s.log.Warn().Dur("timeout", timeout).Msg("書き込みが制限時間を超えたため購読を切断しました")
	})

	err := s.sink.Send(e, time.Now().Add(timeout))
	if !watchdog.Stop() {
		// ウォッチドッグが先に発火した
		return context.Cause(s.sub.Context())
	}
	if err != nil {
		return &SinkWriteError{Err: err}
	}
	return nil
}
