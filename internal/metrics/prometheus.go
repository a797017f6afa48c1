package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus はPrometheusへメトリクスを記録するCollector。
type Prometheus struct {
	ingested            prometheus.Counter
	dispatched          prometheus.Counter
	fanout              prometheus.Histogram
	dropped             *prometheus.CounterVec
	subscriptionsActive *prometheus.GaugeVec
	subscriptionsClosed *prometheus.CounterVec
	backfilled          prometheus.Counter
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus はPrometheus向けのCollectorを生成し、regに登録する。
// regがnilの場合はprometheus.DefaultRegistererを、namespaceが空の場合は "notifystream" を使用する。
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "notifystream"
	}

	p := &Prometheus{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "notifications_total",
			Help:      "Total notifications appended to the store.",
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total notifications processed by the dispatch core.",
		}),
		fanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "fanout_subscribers",
			Help:      "Number of matching subscriptions per dispatched notification.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Deliveries abandoned, by reason.",
		}, []string{"reason"}),
		subscriptionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscriptions_active",
			Help:      "Currently open stream subscriptions, by transport.",
		}, []string{"transport"}),
		subscriptionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscriptions_closed_total",
			Help:      "Closed stream subscriptions, by transport and reason.",
		}, []string{"transport", "reason"}),
		backfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "backfill_notifications_total",
			Help:      "Notifications replayed from the store before live streaming.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.ingested, p.dispatched, p.fanout, p.dropped,
		p.subscriptionsActive, p.subscriptionsClosed, p.backfilled,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("メトリクスの登録に失敗: %w", err)
		}
	}
	return p, nil
}

// NotificationIngested は保存件数を加算する。
func (p *Prometheus) NotificationIngested() {
	p.ingested.Inc()
}

// NotificationDispatched は配信件数とファンアウト数を記録する。
func (p *Prometheus) NotificationDispatched(subscribers int) {
	p.dispatched.Inc()
	p.fanout.Observe(float64(subscribers))
}

// DeliveryDropped は破棄件数を理由別に加算する。
func (p *Prometheus) DeliveryDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

// SubscriptionOpened はアクティブな購読数を増やす。
func (p *Prometheus) SubscriptionOpened(transport string) {
	p.subscriptionsActive.WithLabelValues(transport).Inc()
}

// SubscriptionClosed はアクティブな購読数を減らし、終了件数を加算する。
func (p *Prometheus) SubscriptionClosed(transport, reason string) {
	p.subscriptionsActive.WithLabelValues(transport).Dec()
	p.subscriptionsClosed.WithLabelValues(transport, reason).Inc()
}

// BackfillDelivered はバックフィル件数を加算する。
func (p *Prometheus) BackfillDelivered(n int) {
	p.backfilled.Add(float64(n))
}
