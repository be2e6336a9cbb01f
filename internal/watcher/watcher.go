// Package watcher reacts to session transitions that happen while a page is
// open. It applies the same policy as the edge gate and pushes navigations
// to the page instead of answering a request.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"profilegate/internal/identity/events"
	"profilegate/internal/identity/models"
	"profilegate/internal/policy"
	"profilegate/internal/routes"
	"profilegate/internal/watcher/metrics"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/tracer"
)

const (
	DefaultResolveTimeout = 3 * time.Second
	defaultQueueSize      = 16
)

// Navigator moves the page to another route.
type Navigator interface {
	Navigate(ctx context.Context, to string) error
}

// ProfileResolver never fails: unreadable profiles resolve to ProfileNone.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID id.UserID) policy.ProfileState
}

// Watcher follows one page of one browser.
type Watcher struct {
	bus      events.Bus
	policy   *policy.Policy
	profiles ProfileResolver
	nav      Navigator
	deviceID id.DeviceID
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer

	mu    sync.RWMutex
	route string
}

type Option func(*Watcher)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Watcher) {
		w.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(w *Watcher) {
		w.tracer = t
	}
}

// WithResolveTimeout bounds profile resolution after a sign-in.
func WithResolveTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithRoute sets the route the page was loaded on.
func WithRoute(route string) Option {
	return func(w *Watcher) {
		w.route = routes.Normalize(route)
	}
}

func New(bus events.Bus, p *policy.Policy, profiles ProfileResolver, deviceID id.DeviceID, nav Navigator, opts ...Option) *Watcher {
	w := &Watcher{
		bus:      bus,
		policy:   p,
		profiles: profiles,
		nav:      nav,
		deviceID: deviceID,
		timeout:  DefaultResolveTimeout,
		logger:   slog.Default(),
		tracer:   tracer.NewNoop(),
		route:    "/",
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SetRoute records a client-side navigation reported by the page.
func (w *Watcher) SetRoute(route string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.route = routes.Normalize(route)
}

// Route returns the page's current route.
func (w *Watcher) Route() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.route
}

// Run subscribes once and handles events one at a time until ctx is done.
// The subscription is released before Run returns.
func (w *Watcher) Run(ctx context.Context) error {
	queue := make(chan models.Event, defaultQueueSize)
	unsubscribe, err := w.bus.Subscribe(ctx, w.deviceID, func(e models.Event) {
		select {
		case queue <- e:
		default:
			w.metrics.IncDiscarded(metrics.ReasonQueueFull)
			w.logger.Warn("watcher queue full, dropping session event",
				"device_id", w.deviceID.String(),
				"event", e.Type,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe to session events: %w", err)
	}
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-queue:
			w.handle(ctx, e)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, e models.Event) {
	if ctx.Err() != nil {
		return
	}
	ctx, span := w.tracer.Start(ctx, tracer.SpanWatcherEvent,
		tracer.String(tracer.AttrEventType, string(e.Type)),
	)
	defer span.End(nil)
	w.metrics.IncEvent(string(e.Type))

	switch e.Type {
	case models.EventSignedIn:
		w.signedIn(ctx, span, e)
	case models.EventSignedOut:
		w.navigate(ctx, w.policy.Routes().LandingPath(), "signed_out")
	case models.EventTokenRefreshed:
		// Session identity is unchanged; nothing to re-evaluate.
	}
}

func (w *Watcher) signedIn(ctx context.Context, span tracer.Span, e models.Event) {
	resolveCtx, cancel := context.WithTimeout(ctx, w.timeout)
	state := w.profiles.Resolve(resolveCtx, e.UserID)
	timedOut := resolveCtx.Err() != nil
	cancel()

	if ctx.Err() != nil {
		w.metrics.IncDiscarded(metrics.ReasonTeardown)
		w.logger.Debug("page closed during profile resolution, discarding result",
			"device_id", w.deviceID.String(),
		)
		return
	}
	if timedOut {
		state = policy.ProfileNone
	}

	route := w.Route()
	decision := w.policy.Decide(route, true, state)
	span.SetAttributes(
		tracer.String(tracer.AttrRoute, route),
		tracer.String(tracer.AttrProfileState, state.String()),
		tracer.String(tracer.AttrDecisionRule, string(decision.Rule)),
	)
	if decision.IsRedirect() {
		w.navigate(ctx, decision.Location(), string(decision.Rule))
	}
}

func (w *Watcher) navigate(ctx context.Context, to, rule string) {
	if err := w.nav.Navigate(ctx, to); err != nil {
		w.logger.Warn("failed to push navigation",
			"device_id", w.deviceID.String(),
			"to", to,
			"error", err,
		)
		return
	}
	w.metrics.IncNavigation(rule)
	w.SetRoute(stripQuery(to))
}

func stripQuery(location string) string {
	path, _, _ := strings.Cut(location, "?")
	return path
}
