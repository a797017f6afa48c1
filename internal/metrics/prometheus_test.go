package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus(t *testing.T) {
	t.Parallel()

	t.Run("各メトリクスが記録されること", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		p, err := NewPrometheus(reg, "test")
		require.NoError(t, err)

		p.NotificationIngested()
		p.NotificationIngested()
		p.NotificationDispatched(3)
		p.DeliveryDropped(ReasonSlowConsumer)
		p.SubscriptionOpened("sse")
		p.SubscriptionOpened("sse")
		p.SubscriptionClosed("sse", ReasonClientGone)
		p.BackfillDelivered(5)

		assert.InDelta(t, 2, testutil.ToFloat64(p.ingested), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(p.dispatched), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(p.dropped.WithLabelValues(ReasonSlowConsumer)), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(p.subscriptionsActive.WithLabelValues("sse")), 0)
		assert.InDelta(t, 1, testutil.ToFloat64(p.subscriptionsClosed.WithLabelValues("sse", ReasonClientGone)), 0)
		assert.InDelta(t, 5, testutil.ToFloat64(p.backfilled), 0)

		families, err := reg.Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "test_ingest_notifications_total")
		assert.Contains(t, names, "test_dispatch_fanout_subscribers")
	})

	t.Run("同じレジストリへの二重登録はエラーになること", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		_, err := NewPrometheus(reg, "dup")
		require.NoError(t, err)

		_, err = NewPrometheus(reg, "dup")
		require.Error(t, err)
	})
}
