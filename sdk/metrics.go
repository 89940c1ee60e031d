package shivai

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus instrumentation for a session. Optional: a nil
// *Metrics is safe everywhere and records nothing.
type Metrics struct {
	SessionsTotal     prometheus.Counter
	SessionsActive    prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	DedupSuppressions prometheus.Counter
	ErrorsTotal       prometheus.Counter
}

// NewMetrics creates session metrics registered on the given registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "shivai"
	}

	m := &Metrics{
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_sessions_total",
			Help:      "Total realtime sessions started",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_sessions_active",
			Help:      "Number of active realtime sessions",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_messages_total",
			Help:      "Canonical messages emitted",
		}, []string{"channel"}),
		DedupSuppressions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_dedup_suppressions_total",
			Help:      "Duplicate messages suppressed by the dedup window",
		}),
		ErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "Errors surfaced through the error callback",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsTotal,
			m.SessionsActive,
			m.MessagesTotal,
			m.DedupSuppressions,
			m.ErrorsTotal,
		)
	}
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) messageNormalized(channel Channel) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(string(channel)).Inc()
}

func (m *Metrics) dedupSuppressed() {
	if m == nil {
		return
	}
	m.DedupSuppressions.Inc()
}

func (m *Metrics) errorReported() {
	if m == nil {
		return
	}
	m.ErrorsTotal.Inc()
}
