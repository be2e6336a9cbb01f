// Package service resolves a user's profile state for the gate and the
// session watcher.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"profilegate/internal/policy"
	"profilegate/internal/profile/metrics"
	"profilegate/internal/profile/models"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/circuit"
	"profilegate/pkg/platform/tracer"
)

// Store reads profile rows.
// Error Contract: ListByUser returns an empty slice, not an error, when the
// user has no rows. Rows come back in a stable store order.
type Store interface {
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Profile, error)
}

// Cache remembers users whose profile was found complete.
type Cache interface {
	IsComplete(ctx context.Context, userID id.UserID) (bool, error)
	MarkComplete(ctx context.Context, userID id.UserID) error
	Invalidate(ctx context.Context, userID id.UserID) error
}

const DefaultResolveTimeout = 3 * time.Second

// Resolver turns profile rows into a policy.ProfileState. Every failure path
// yields ProfileNone, which the policy treats as "not onboarded".
type Resolver struct {
	store   Store
	cache   Cache
	breaker *circuit.Breaker
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  tracer.Tracer
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(r *Resolver) {
		r.tracer = t
	}
}

// WithCache enables the completeness cache.
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(r *Resolver) {
		r.breaker = b
	}
}

// WithTimeout bounds each store lookup. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func New(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		timeout: DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.tracer == nil {
		r.tracer = tracer.NewNoop()
	}
	if r.breaker == nil {
		r.breaker = circuit.New("profiles")
	}
	return r
}

// Resolve returns the profile state for userID. It never fails: store
// errors, timeouts and an open circuit all resolve to ProfileNone.
func (r *Resolver) Resolve(ctx context.Context, userID id.UserID) policy.ProfileState {
	ctx, span := r.tracer.Start(ctx, tracer.SpanProfileResolve)
	state := r.resolve(ctx, span, userID)
	span.SetAttributes(tracer.String(tracer.AttrProfileState, state.String()))
	span.End(nil)

	r.metrics.IncResolution(state.String())
	return state
}

func (r *Resolver) resolve(ctx context.Context, span tracer.Span, userID id.UserID) policy.ProfileState {
	if r.cachedComplete(ctx, userID) {
		span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
		return policy.ProfileComplete
	}

	if !r.breaker.Allow() {
		span.SetAttributes(tracer.String(tracer.AttrCircuitState, r.breaker.State().String()))
		r.metrics.IncFailure(metrics.ReasonCircuitOpen)
		r.logger.DebugContext(ctx, "profile store circuit open, treating profile as missing",
			"user_id", userID.String(),
		)
		return policy.ProfileNone
	}

	rows, err := r.list(ctx, userID)
	if err != nil {
		r.recordFailure(ctx, userID, err)
		return policy.ProfileNone
	}
	if change := r.breaker.RecordSuccess(); change.Closed {
		r.logger.InfoContext(ctx, "profile store circuit closed")
	}

	span.SetAttributes(tracer.Int(tracer.AttrProfileRows, len(rows)))
	if len(rows) > 1 {
		r.metrics.IncDuplicate()
		r.logger.WarnContext(ctx, "multiple profile rows for user",
			"user_id", userID.String(),
			"rows", len(rows),
		)
	}

	best := models.SelectBest(rows)
	switch {
	case best == nil:
		return policy.ProfileNone
	case best.IsComplete():
		r.remember(ctx, userID)
		return policy.ProfileComplete
	default:
		return policy.ProfileIncomplete
	}
}

func (r *Resolver) list(ctx context.Context, userID id.UserID) ([]*models.Profile, error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanProfileQuery)
	start := time.Now()

	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.store.ListByUser(queryCtx, userID)
	elapsed := time.Since(start)
	r.metrics.ObserveResolveDuration(float64(elapsed.Milliseconds()))
	span.SetAttributes(tracer.Duration(tracer.AttrResolveTimeMs, elapsed))
	if err == nil && queryCtx.Err() != nil {
		// A store that ignores its context must not turn a late answer into a
		// decision.
		err = queryCtx.Err()
	}
	span.End(err)
	return rows, err
}

func (r *Resolver) recordFailure(ctx context.Context, userID id.UserID, err error) {
	if ctx.Err() != nil {
		// The caller went away; that says nothing about the store.
		r.breaker.Abandon()
		return
	}

	reason := metrics.ReasonStoreError
	if errors.Is(err, context.DeadlineExceeded) {
		reason = metrics.ReasonTimeout
	}
	r.metrics.IncFailure(reason)
	r.logger.WarnContext(ctx, "profile lookup failed, treating profile as missing",
		"user_id", userID.String(),
		"reason", reason,
		"error", err,
	)
	if change := r.breaker.RecordFailure(); change.Opened {
		r.logger.ErrorContext(ctx, "profile store circuit opened",
			"breaker", r.breaker.Name(),
		)
	}
}

func (r *Resolver) cachedComplete(ctx context.Context, userID id.UserID) bool {
	if r.cache == nil {
		return false
	}
	complete, err := r.cache.IsComplete(ctx, userID)
	if err != nil {
		r.metrics.IncCacheError()
		r.logger.WarnContext(ctx, "profile cache read failed", "error", err)
		return false
	}
	if complete {
		r.metrics.IncCacheHit()
	}
	return complete
}

func (r *Resolver) remember(ctx context.Context, userID id.UserID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.MarkComplete(ctx, userID); err != nil {
		r.metrics.IncCacheError()
		r.logger.WarnContext(ctx, "profile cache write failed", "error", err)
	}
}

// Invalidate forgets any cached completeness for userID.
func (r *Resolver) Invalidate(ctx context.Context, userID id.UserID) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		r.metrics.IncCacheError()
		r.logger.WarnContext(ctx, "profile cache invalidation failed",
			"user_id", userID.String(),
			"error", err,
		)
	}
}
