package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the notification pipeline.
type Metrics struct {
	EventsIngestedTotal   prometheus.Counter
	EventsSuppressedTotal *prometheus.CounterVec
	ChannelEnqueuedTotal  *prometheus.CounterVec
	FanoutPublishedTotal  prometheus.Counter
	FanoutDroppedTotal    prometheus.Counter
	DeliveriesTotal       *prometheus.CounterVec
	DeliveryLatency       *prometheus.HistogramVec
	RetriesTotal          *prometheus.CounterVec
	DLQTotal              *prometheus.CounterVec
	DLQSize               prometheus.Gauge
}

// NewMetrics creates and registers the pipeline metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsIngestedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_events_ingested_total",
			Help: "Total number of events consumed from the ingress queue.",
		}),
		EventsSuppressedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_events_suppressed_total",
			Help: "Total number of events dropped before fan-out, by reason.",
		}, []string{"reason"}),
		ChannelEnqueuedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_channel_enqueued_total",
			Help: "Total number of messages fanned out to channel queues.",
		}, []string{"channel", "priority"}),
		FanoutPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_fanout_published_total",
			Help: "Total number of events published on the ingress topic.",
		}),
		FanoutDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifyd_fanout_dropped_total",
			Help: "Total number of events dropped after exhausting publish retries.",
		}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_deliveries_total",
			Help: "Total number of processed channel messages by outcome.",
		}, []string{"channel", "outcome"}),
		DeliveryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notifyd_delivery_latency_seconds",
			Help:    "End-to-end processing latency of one channel message.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_delivery_retries_total",
			Help: "Total number of delivery retry attempts by channel.",
		}, []string{"channel"}),
		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_dlq_messages_total",
			Help: "Total number of messages dead-lettered by channel.",
		}, []string{"channel"}),
		DLQSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "notifyd_dlq_size",
			Help: "Current number of entries in the dead letter queue.",
		}),
	}
}

// RecordDelivery records a processed channel message with its outcome.
func (m *Metrics) RecordDelivery(channel, outcome string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(channel, outcome).Inc()
	m.DeliveryLatency.WithLabelValues(channel).Observe(latencySeconds)
}
