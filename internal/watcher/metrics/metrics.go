package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the session watcher.
type Metrics struct {
	Events      *prometheus.CounterVec
	Navigations *prometheus.CounterVec
	Discarded   *prometheus.CounterVec
	Connections prometheus.Gauge
}

// New registers watcher metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_watcher_events_total",
			Help: "Session events handled by watchers, by event type",
		}, []string{"type"}),
		Navigations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_watcher_navigations_total",
			Help: "Client navigations pushed by watchers, by rule",
		}, []string{"rule"}),
		Discarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_watcher_discarded_total",
			Help: "Events dropped without navigation, by reason",
		}, []string{"reason"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "profilegate_watcher_connections",
			Help: "Open page connections hosting a watcher",
		}),
	}
}

// Discard reasons.
const (
	ReasonQueueFull = "queue_full"
	ReasonTeardown  = "teardown"
)

func (m *Metrics) IncEvent(eventType string) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncNavigation(rule string) {
	if m == nil {
		return
	}
	m.Navigations.WithLabelValues(rule).Inc()
}

func (m *Metrics) IncDiscarded(reason string) {
	if m == nil {
		return
	}
	m.Discarded.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}
