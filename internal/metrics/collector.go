package metrics

// 購読の終了理由。
const (
	ReasonClientGone   = "client_gone"
	ReasonSlowConsumer = "slow_consumer"
	ReasonUndelivered  = "undelivered"
	ReasonSinkError    = "sink_error"
	ReasonStoreError   = "store_error"
	ReasonShutdown     = "shutdown"
)

// Collector は配信パイプラインのメトリクスを記録する。
type Collector interface {
	// NotificationIngested は通知が1件保存されたことを記録する。
	NotificationIngested()
	// NotificationDispatched は通知1件をsubscribers件の購読へ配信試行したことを記録する。
	NotificationDispatched(subscribers int)
	// DeliveryDropped は購読への配信を諦めたことを理由つきで記録する。
	DeliveryDropped(reason string)
	// SubscriptionOpened は購読の開始を記録する。
	SubscriptionOpened(transport string)
	// SubscriptionClosed は購読の終了を記録する。
	SubscriptionClosed(transport, reason string)
	// BackfillDelivered はバックフィルでn件送出したことを記録する。
	BackfillDelivered(n int)
}

// Nop は何も記録しないCollector。
type Nop struct{}

var _ Collector = Nop{}

// NotificationIngested は何もしない。
func (Nop) NotificationIngested() {}

// NotificationDispatched は何もしない。
func (Nop) NotificationDispatched(int) {}

// DeliveryDropped は何もしない。
func (Nop) DeliveryDropped(string) {}

// SubscriptionOpened は何もしない。
func (Nop) SubscriptionOpened(string) {}

// SubscriptionClosed は何もしない。
func (Nop) SubscriptionClosed(string, string) {}

// BackfillDelivered は何もしない。
func (Nop) BackfillDelivered(int) {}
