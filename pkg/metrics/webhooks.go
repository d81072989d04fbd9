package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CallMetrics counts webhook outcomes, archival results and allocation attempts.
type CallMetrics struct {
	webhooks      *prometheus.CounterVec
	billedMinutes prometheus.Counter
	archival      *prometheus.CounterVec
	allocations   *prometheus.CounterVec
}

// NewCallMetrics registers the call pipeline metrics on reg. A nil registerer
// yields a no-op recorder.
func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	if reg == nil {
		return &CallMetrics{}
	}
	webhooks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vapi_webhooks_total",
		Help: "Voice provider webhooks by outcome.",
	}, []string{"outcome"})
	billed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billed_minutes_total",
		Help: "Minutes decremented from account ledgers.",
	})
	archival := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recording_archival_total",
		Help: "Recording archival attempts by result.",
	}, []string{"result"})
	allocations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "virtual_number_allocations_total",
		Help: "Virtual number allocation attempts by result.",
	}, []string{"result"})
	reg.MustRegister(webhooks, billed, archival, allocations)
	return &CallMetrics{
		webhooks:      webhooks,
		billedMinutes: billed,
		archival:      archival,
		allocations:   allocations,
	}
}

// IncWebhook records a webhook outcome (applied, duplicate, ignored, rejected...).
func (m *CallMetrics) IncWebhook(outcome string) {
	if m == nil || m.webhooks == nil {
		return
	}
	m.webhooks.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *CallMetrics) AddBilledMinutes(minutes int) {
	if m == nil || m.billedMinutes == nil || minutes <= 0 {
		return
	}
	m.billedMinutes.Add(float64(minutes))
}

func (m *CallMetrics) IncArchival(result string) {
	if m == nil || m.archival == nil {
		return
	}
	m.archival.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *CallMetrics) IncAllocation(result string) {
	if m == nil || m.allocations == nil {
		return
	}
	m.allocations.WithLabelValues(normalizeLabel(result)).Inc()
}
