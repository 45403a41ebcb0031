package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/respondr-uk/respondr/internal/domain"
)

const namespace = "respondr"

// Delivery outcomes.
const (
	outcomeSent   = "sent"
	outcomeRetry  = "retry"
	outcomeFailed = "failed"
)

var (
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_depth",
			Help:      "Queued incident notifications by status",
		},
		[]string{"status"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Delivery attempts by channel, message type and outcome",
		},
		[]string{"channel", "message_type", "outcome"},
	)

	deliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "delivery_duration_seconds",
			Help:      "Render and send time of successful deliveries",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	claimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "claimed_total",
			Help:      "Queue items claimed by workers",
		},
	)

	recovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "recovered_total",
			Help:      "Queue items returned to pending after a worker left them in processing",
		},
	)
)

func recordDelivery(item *QueueItem, outcome string) {
	deliveries.WithLabelValues(channelLabel(item.ChannelType), string(item.MessageType), outcome).Inc()
}

func recordDeliveryDuration(channel domain.ChannelType, d time.Duration) {
	deliveryDuration.WithLabelValues(channelLabel(channel)).Observe(d.Seconds())
}

func channelLabel(t domain.ChannelType) string {
	if t.IsValid() {
		return string(t)
	}
	return "unknown"
}

// RecordQueueStats publishes the queue depth per status.
func RecordQueueStats(stats *QueueStats) {
	for status, n := range stats.ByStatus() {
		queueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
