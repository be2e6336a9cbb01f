package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the edge gate.
type Metrics struct {
	Decisions          *prometheus.CounterVec
	SessionErrors      prometheus.Counter
	EvaluationDuration prometheus.Histogram
}

// New registers gate metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_gate_decisions_total",
			Help: "Gate decisions by outcome and the rule that produced them",
		}, []string{"outcome", "rule"}),
		SessionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "profilegate_gate_session_errors_total",
			Help: "Requests whose session could not be read and whose cookies were cleared",
		}),
		EvaluationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "profilegate_gate_evaluation_duration_ms",
			Help:    "Time spent evaluating the gate for one request in milliseconds",
			Buckets: []float64{0.5, 1, 5, 10, 25, 50, 100, 250, 1000, 3000},
		}),
	}
}

func (m *Metrics) IncDecision(outcome, rule string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome, rule).Inc()
}

func (m *Metrics) IncSessionError() {
	if m == nil {
		return
	}
	m.SessionErrors.Inc()
}

func (m *Metrics) ObserveEvaluation(ms float64) {
	if m == nil {
		return
	}
	m.EvaluationDuration.Observe(ms)
}
