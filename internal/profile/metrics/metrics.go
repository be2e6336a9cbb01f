package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for profile resolution.
type Metrics struct {
	Resolutions       *prometheus.CounterVec
	ResolveFailures   *prometheus.CounterVec
	DuplicateProfiles prometheus.Counter
	ResolveDurationMs prometheus.Histogram
	CacheHits         prometheus.Counter
	CacheErrors       prometheus.Counter
}

// New registers profile metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_profile_resolutions_total",
			Help: "Profile state resolutions by resulting state",
		}, []string{"state"}),
		ResolveFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_profile_resolve_failures_total",
			Help: "Profile lookups that degraded to no profile, by reason",
		}, []string{"reason"}),
		DuplicateProfiles: f.NewCounter(prometheus.CounterOpts{
			Name: "profilegate_profile_duplicates_total",
			Help: "Lookups that found more than one profile row for a user",
		}),
		ResolveDurationMs: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "profilegate_profile_resolve_duration_ms",
			Help:    "Duration of profile store lookups in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 3000},
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "profilegate_profile_cache_hits_total",
			Help: "Completeness answers served from the cache",
		}),
		CacheErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "profilegate_profile_cache_errors_total",
			Help: "Profile cache read or write failures",
		}),
	}
}

// Failure reasons.
const (
	ReasonStoreError  = "store_error"
	ReasonTimeout     = "timeout"
	ReasonCircuitOpen = "circuit_open"
)

func (m *Metrics) IncResolution(state string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(state).Inc()
}

func (m *Metrics) IncFailure(reason string) {
	if m == nil {
		return
	}
	m.ResolveFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncDuplicate() {
	if m == nil {
		return
	}
	m.DuplicateProfiles.Inc()
}

func (m *Metrics) ObserveResolveDuration(ms float64) {
	if m == nil {
		return
	}
	m.ResolveDurationMs.Observe(ms)
}

func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

func (m *Metrics) IncCacheError() {
	if m == nil {
		return
	}
	m.CacheErrors.Inc()
}
