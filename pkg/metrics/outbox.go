package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts outbox delivery results per event type.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	lag        prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_deliveries_total",
		Help: "Outbox rows handled by the publisher, by event type and result.",
	}, []string{"event_type", "result"})
	lag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_publish_lag_seconds",
		Help:    "Delay between an outbox row being written and published.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 15, 60, 300},
	})
	reg.MustRegister(deliveries, lag)
	return &OutboxMetrics{deliveries: deliveries, lag: lag}
}

// IncDelivery records a publish result: published, retry or parked.
func (m *OutboxMetrics) IncDelivery(eventType, result string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func (m *OutboxMetrics) ObserveLag(seconds float64) {
	if m == nil || m.lag == nil || seconds < 0 {
		return
	}
	m.lag.Observe(seconds)
}
