// Package httptransport assembles the edge server: platform middleware, the
// auth endpoints, the watcher socket, probes and the gated passthrough.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"profilegate/internal/gate"
	"profilegate/internal/platform/health"
	"profilegate/internal/platform/metrics"
	"profilegate/internal/platform/middleware"
	"profilegate/internal/routes"
	"profilegate/pkg/platform/middleware/device"
)

// RouterConfig carries the handlers the router mounts. Nil optional handlers
// are skipped.
type RouterConfig struct {
	Logger   *slog.Logger
	Gate     *gate.Gate
	Auth     *AuthHandler
	Watcher  http.Handler
	Health   *health.Handler
	Routes   *routes.Table
	Upstream http.Handler
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Device   device.Config
}

// NewRouter wires all public endpoints with middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(cfg.Metrics.Instrument)
	r.Use(device.Device(cfg.Device))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/internal/routes", RouteTableHandler(cfg.Routes))
	if cfg.Auth != nil {
		cfg.Auth.Register(r)
	}
	if cfg.Watcher != nil {
		r.Get("/ws/session", cfg.Watcher.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(cfg.Gate.Middleware)
		r.Handle("/*", cfg.Upstream)
	})

	return r
}
