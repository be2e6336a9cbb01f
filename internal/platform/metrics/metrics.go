package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds HTTP-level Prometheus metrics for the edge server.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	AuthCallbacks   *prometheus.CounterVec
	SignOuts        *prometheus.CounterVec
}

// New registers HTTP metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profilegate_http_request_duration_seconds",
			Help:    "Latency of requests by route pattern, method and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "profilegate_http_in_flight_requests",
			Help: "Requests currently being served",
		}),
		AuthCallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_auth_callbacks_total",
			Help: "OAuth callback outcomes",
		}, []string{"outcome"}),
		SignOuts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "profilegate_sign_outs_total",
			Help: "Sign-outs by whether the identity provider confirmed them",
		}, []string{"provider_confirmed"}),
	}
}

// Instrument records latency by chi route pattern so path parameters do not
// explode label cardinality. Unmatched requests are labelled "other".
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.InFlight.Inc()
		defer m.InFlight.Dec()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "other"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.RequestDuration.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).
			Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) IncAuthCallback(outcome string) {
	if m == nil {
		return
	}
	m.AuthCallbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSignOut(providerConfirmed bool) {
	if m == nil {
		return
	}
	m.SignOuts.WithLabelValues(strconv.FormatBool(providerConfirmed)).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
