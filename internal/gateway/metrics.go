package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	RejectReasonAuth      = "auth"
	RejectReasonMalformed = "malformed"
	RejectReasonQueueFull = "queue_full"
)

// Metrics counts intake activity. Ack latency is observed around the
// whole /slack/events handler.
type Metrics struct {
	Received   prometheus.Counter
	Duplicates prometheus.Counter
	Ignored    prometheus.Counter
	Rejected   *prometheus.CounterVec
	Enqueued   prometheus.Counter
	AckSeconds prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		Received: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "events_received_total",
			Help:      "Inbound webhook deliveries received.",
		}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "events_duplicate_total",
			Help:      "Deliveries suppressed by the dedup store.",
		}),
		Ignored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "events_ignored_total",
			Help:      "Deliveries acknowledged but not processed (bot messages, other event types).",
		}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "events_rejected_total",
			Help:      "Deliveries rejected before acknowledgment.",
		}, []string{"reason"}),
		Enqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "events_enqueued_total",
			Help:      "Deliveries handed to the async dispatcher.",
		}),
		AckSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "finnygate",
			Subsystem: "gateway",
			Name:      "ack_seconds",
			Help:      "Webhook acknowledgment latency.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 3},
		}),
	}
}
