package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"profilegate/internal/audit"
	"profilegate/internal/gate"
	gatemetrics "profilegate/internal/gate/metrics"
	"profilegate/internal/identity/events"
	"profilegate/internal/identity/gotrue"
	identitymodels "profilegate/internal/identity/models"
	"profilegate/internal/platform/config"
	"profilegate/internal/platform/database"
	"profilegate/internal/platform/health"
	"profilegate/internal/platform/kafka/producer"
	"profilegate/internal/platform/logger"
	"profilegate/internal/platform/metrics"
	redisclient "profilegate/internal/platform/redis"
	"profilegate/internal/policy"
	"profilegate/internal/profile/cache"
	profilemetrics "profilegate/internal/profile/metrics"
	"profilegate/internal/profile/service"
	"profilegate/internal/profile/store"
	"profilegate/internal/routes"
	httptransport "profilegate/internal/transport/http"
	"profilegate/internal/watcher"
	watchermetrics "profilegate/internal/watcher/metrics"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/platform/tracer"
)

const (
	poolStatsInterval = 15 * time.Second
	// refreshPublishTimeout bounds the event publish done inline with a
	// gated request.
	refreshPublishTimeout = 2 * time.Second
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("profilegate stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("initializing profilegate",
		"addr", cfg.Addr,
		"env", cfg.Environment,
		"upstream", cfg.UpstreamURL != "",
	)

	table, err := loadRoutes(cfg.RoutesFile)
	if err != nil {
		return err
	}
	p := policy.New(table)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tr := tracer.NewOTel()
	healthHandler := health.New(cfg.Environment)

	// Profiles: Postgres when configured, otherwise an empty in-memory store.
	if cfg.MigrateOnStart && cfg.Database.URL != "" {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		log.Info("database migrations applied")
	}
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	dbCfg.MaxIdleConns = cfg.Database.MaxIdleConns
	pool, err := database.New(dbCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	var profileStore service.Store
	if pool != nil {
		profileStore = store.NewPostgres(pool.DB())
		healthHandler.RegisterCheck("postgres", pool.Health)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory profile store")
		profileStore = store.NewInMemory()
	}

	// Redis backs the session event bus and the completeness cache.
	rdb, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	resolverOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(profilemetrics.New(reg)),
		service.WithTracer(tr),
		service.WithTimeout(cfg.ResolveTimeout),
	}
	var bus events.Bus
	if rdb != nil {
		resolverOpts = append(resolverOpts, service.WithCache(cache.NewRedis(rdb.Client, cfg.Redis.ProfileCacheTTL)))
		bus = events.NewRedisBus(rdb.Client, log)
		healthHandler.RegisterCheck("redis", rdb.Health)
	} else {
		log.Warn("REDIS_URL not set, session events stay within this process")
		bus = events.NewMemoryBus()
	}
	resolver := service.New(profileStore, resolverOpts...)

	// Audit stream.
	var auditProducer audit.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		prod, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = prod.Close(closeCtx)
		}()
		auditProducer = prod
		healthHandler.RegisterCheck("kafka", prod.Health)
	}
	auditor := audit.NewPublisher(auditProducer, cfg.Kafka.AuditTopic, log)

	provider := newProvider(cfg.Identity, bus, log)

	upstream, err := httptransport.NewUpstream(cfg.UpstreamURL, log)
	if err != nil {
		return err
	}

	httpMetrics := metrics.New(reg)
	deviceCfg := device.DefaultConfig()
	deviceCfg.Secure = cfg.Identity.CookieSecure
	deviceCfg.Domain = cfg.Identity.CookieDomain

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger: log,
		Gate: gate.New(p, provider, resolver,
			gate.WithLogger(log),
			gate.WithMetrics(gatemetrics.New(reg)),
			gate.WithTracer(tr),
			gate.WithAudit(auditor),
		),
		Auth: httptransport.NewAuthHandler(provider, resolver, bus, auditor, p, httpMetrics, log),
		Watcher: watcher.NewHost(bus, p, resolver,
			watcher.WithHostLogger(log),
			watcher.WithHostMetrics(watchermetrics.New(reg)),
			watcher.WithHostTracer(tr),
			watcher.WithHostResolveTimeout(cfg.ResolveTimeout),
			watcher.WithAllowedOrigins(cfg.WatcherOrigins...),
		),
		Health:   healthHandler,
		Routes:   table,
		Upstream: upstream,
		Metrics:  httpMetrics,
		Gatherer: reg,
		Device:   deviceCfg,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rdb != nil {
		g.Go(func() error {
			return rdb.RunPoolStatsRecorder(gctx, poolStatsInterval, redisclient.NewPoolMetrics(reg))
		})
	}

	return g.Wait()
}

func loadRoutes(file string) (*routes.Table, error) {
	if file == "" {
		return routes.Default(), nil
	}
	table, err := routes.LoadFile(file)
	if err != nil {
		return nil, fmt.Errorf("load route table: %w", err)
	}
	return table, nil
}

// newProvider builds the session reader. Refreshes detected at the edge are
// announced so open pages know their session rotated.
func newProvider(cfg config.IdentityConfig, bus events.Bus, log *slog.Logger) *gotrue.Provider {
	var client gotrue.TokenClient
	if cfg.URL != "" {
		client = gotrue.NewClient(cfg.URL, cfg.APIKey, cfg.HTTPTimeout)
	} else {
		log.Warn("GOTRUE_URL not set, sessions cannot be refreshed or exchanged")
	}

	return gotrue.NewProvider(gotrue.NewVerifier(cfg.JWTSecret), client,
		gotrue.WithLogger(log),
		gotrue.WithCookieConfig(gotrue.CookieConfig{
			Secure: cfg.CookieSecure,
			Domain: cfg.CookieDomain,
			MaxAge: gotrue.DefaultCookieMaxAge,
		}),
		gotrue.WithRefreshHook(announceRefresh(bus, log)),
	)
}

// announceRefresh publishes TOKEN_REFRESHED for the requesting device. It runs
// inline with the gated request, so the publish is bounded.
func announceRefresh(bus events.Bus, log *slog.Logger) func(*http.Request, *identitymodels.Session) {
	return func(r *http.Request, session *identitymodels.Session) {
		deviceID, ok := device.DeviceIDFromContext(r.Context())
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), refreshPublishTimeout)
		defer cancel()
		err := bus.Publish(ctx, identitymodels.Event{
			Type:     identitymodels.EventTokenRefreshed,
			DeviceID: deviceID,
			UserID:   session.UserID(),
			At:       time.Now(),
		})
		if err != nil {
			log.WarnContext(r.Context(), "failed to publish token refresh", "error", err)
		}
	}
}
