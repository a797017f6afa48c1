package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"

	"github.com/nao1215/notifystream/internal/metrics"
	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/internal/subscription"
)

var (
	// ErrClosed はDispatcherが停止済みであることを表す。
	ErrClosed = errors.New("dispatcherは停止しています")
	// ErrSlowConsumer は購読者のメールボックスが溢れたため購読を打ち切ったことを表す。
	// クライアントは最後に受信したIDを指定して再接続すれば欠落なく受信を再開できる。
	ErrSlowConsumer = errors.New("購読者の受信が追いついていません")
	// ErrUndelivered は保存済みの通知を配信キューへ投入できなかったため購読を打ち切ったことを表す。
	// 再接続時のバックフィルでその通知から受信を再開できる。
	ErrUndelivered = errors.New("保存済みの通知を配信できませんでした")
)

const (
	// DefaultShards はシャード数の既定値。
	DefaultShards = 8
	// DefaultQueueSize はシャードごとのキュー長の既定値。
	DefaultQueueSize = 1024
)

// Appender は通知を保存できるストア。
type Appender interface {
	Append(ctx context.Context, n store.NewNotification) (store.Notification, error)
}

// Options はDispatcherの生成オプション。
type Options struct {
	// Shards はシャード（ワーカー）数。0以下の場合はDefaultShards。
	Shards int
	// QueueSize はシャードごとのキュー長。0以下の場合はDefaultQueueSize。
	QueueSize int
	// Metrics はメトリクスの記録先。nilの場合は記録しない。
	Metrics metrics.Collector
	// Logger はロガー。
	Logger zerolog.Logger
}

// job は配信キューの1要素。subsは投入時点で登録されていた購読。
type job struct {
	n    store.Notification
	subs []*subscription.Subscription
}

// Dispatcher は通知を購読者へファンアウトする。
type Dispatcher struct {
	registry *subscription.Registry
	metrics  metrics.Collector
	log      zerolog.Logger

	// shards はシャードごとの配信キュー。
	shards []chan job
	// stripes はIngestで保存と投入を直列化するユーザー単位のロック。shardsと同じ添字を使う。
	stripes []sync.Mutex

	// mu はclosedとキューへの送信を保護する。
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New はDispatcherを生成し、シャードごとのワーカーを起動する。
func New(registry *subscription.Registry, opts Options) *Dispatcher {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}

	d := &Dispatcher{
		registry: registry,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		shards:   make([]chan job, opts.Shards),
		stripes:  make([]sync.Mutex, opts.Shards),
	}
	for i := range d.shards {
		q := make(chan job, opts.QueueSize)
		d.shards[i] = q
		d.wg.Add(1)
		go d.worker(q)
	}
	return d
}

// Registry はDispatcherが参照する購読レジストリを返す。
func (d *Dispatcher) Registry() *subscription.Registry { return d.registry }

// Ingest は通知を保存し、保存できた通知を配信キューへ投入する。
//
// 同じユーザーの保存と投入は直列化されるので、キューに積まれる順序はIDの順序と一致する。
// 保存後の投入はctxのキャンセルでは中断しない。キューが満杯の間は、同じシャードに
// 割り当てられた他のユーザーのIngestも空きが出るまで待たされる。
// 停止済みなどで投入できなかった場合は、対象の購読をErrUndeliveredで打ち切り、
// 再接続時のバックフィルで受信させる。このときも保存結果を返す。
func (d *Dispatcher) Ingest(ctx context.Context, appender Appender, nn store.NewNotification) (store.Notification, error) {
	stripe := &d.stripes[d.shardFor(nn.UserID)]
	stripe.Lock()
	defer stripe.Unlock()

	n, err := appender.Append(ctx, nn)
	if err != nil {
		return store.Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	d.metrics.NotificationIngested()

	subs := d.registry.MatchingFor(n.UserID)
	if err := d.enqueue(context.WithoutCancel(ctx), job{n: n, subs: subs}); err != nil {
		d.log.Warn().Err(err).
			Int64("id", n.ID).
			Str("user_id", n.UserID).
			Int("subscribers", len(subs)).
			Msg("通知をキューに投入できなかったため購読を切断します")
		d.abandon(subs, err)
	}
	return n, nil
}

// Publish は保存済みの通知を配信キューへ投入する。
// 配信先は呼び出し時点で登録されている購読で、これより後に登録された購読には届かない。
// キューが満杯の場合は空きが出るかctxが終了するまで待つ。
func (d *Dispatcher) Publish(ctx context.Context, n store.Notification) error {
	return d.enqueue(ctx, job{n: n, subs: d.registry.MatchingFor(n.UserID)})
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}

	q := d.shards[d.shardFor(j.n.UserID)]
	select {
	case q <- j:
		return nil
	default:
	}
	select {
	case q <- j:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("通知のキュー投入を中断: %w", ctx.Err())
	}
}

// abandon は配信できなかった通知の宛先だった購読を打ち切る。
func (d *Dispatcher) abandon(subs []*subscription.Subscription, cause error) {
	for _, sub := range subs {
		d.registry.Unregister(sub.ID())
		sub.Cancel(fmt.Errorf("%w: %w", ErrUndelivered, cause))
		d.metrics.DeliveryDropped(metrics.ReasonUndelivered)
	}
}

// Close は新規の投入を止め、キューに残った通知を配信し終えてからワーカーを停止する。
// 2回目以降の呼び出しは何もしない。
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.shards {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) shardFor(userID string) int {
	return int(xxh3.HashString(userID) % uint64(len(d.shards)))
}

func (d *Dispatcher) worker(q <-chan job) {
	defer d.wg.Done()
	for j := range q {
		d.deliver(j.n, j.subs)
	}
}

// deliver は投入時点で登録されていた購読それぞれに通知を1回ずつ渡す。
func (d *Dispatcher) deliver(n store.Notification, subs []*subscription.Subscription) {
	for _, sub := range subs {
		switch sub.Offer(n) {
		case subscription.OfferQueued, subscription.OfferClosed:
		case subscription.OfferLagged:
			d.log.Debug().
				Str("subscription_id", sub.ID()).
				Int64("id", n.ID).
				Msg("バックフィル中にメールボックスが溢れました")
		case subscription.OfferOverflow:
			d.registry.Unregister(sub.ID())
			sub.Cancel(ErrSlowConsumer)
			d.metrics.DeliveryDropped(metrics.ReasonSlowConsumer)
			d.log.Warn().
				Str("subscription_id", sub.ID()).
				Str("user_id", n.UserID).
				Int64("id", n.ID).
				Int64("cursor", sub.Cursor()).
				Msg("受信が追いつかない購読を切断しました")
		}
	}
	d.metrics.NotificationDispatched(len(subs))
}
