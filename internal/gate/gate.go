// Package gate is the per-request edge interceptor. It reads the visitor's
// session, resolves their profile state, asks the policy for a decision and
// either passes the request through untouched or answers with a redirect.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"profilegate/internal/audit"
	"profilegate/internal/gate/metrics"
	"profilegate/internal/identity/models"
	"profilegate/internal/policy"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/platform/tracer"
)

// SessionProvider reads and clears the identity provider's session cookies.
// CurrentSession returns (nil, nil) for an anonymous visitor.
type SessionProvider interface {
	CurrentSession(w http.ResponseWriter, r *http.Request) (*models.Session, error)
	ClearSession(w http.ResponseWriter)
}

// ProfileResolver never fails: unreadable profiles resolve to ProfileNone.
type ProfileResolver interface {
	Resolve(ctx context.Context, userID id.UserID) policy.ProfileState
}

// AuditPublisher records redirects and cleared sessions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

type sessionKey struct{}

// SessionFromContext returns the session the gate admitted the request with.
func SessionFromContext(ctx context.Context) *models.Session {
	s, _ := ctx.Value(sessionKey{}).(*models.Session)
	return s
}

// Gate evaluates every non-exempt request against the policy.
type Gate struct {
	policy   *policy.Policy
	sessions SessionProvider
	profiles ProfileResolver
	exempt   exemptions
	audit    AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(g *Gate) {
		g.tracer = t
	}
}

func WithAudit(a AuditPublisher) Option {
	return func(g *Gate) {
		g.audit = a
	}
}

// WithExemptPrefixes replaces DefaultExemptPrefixes.
func WithExemptPrefixes(prefixes ...string) Option {
	return func(g *Gate) {
		g.exempt = newExemptions(prefixes)
	}
}

func New(p *policy.Policy, sessions SessionProvider, profiles ProfileResolver, opts ...Option) *Gate {
	g := &Gate{
		policy:   p,
		sessions: sessions,
		profiles: profiles,
		exempt:   newExemptions(DefaultExemptPrefixes),
		logger:   slog.Default(),
		tracer:   tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware enforces the policy before next is reached.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.exempt.match(r.URL.Path, g.policy.Routes()) {
			next.ServeHTTP(w, r)
			return
		}

		decision, session := g.Evaluate(w, r)
		if decision.IsRedirect() {
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, decision.Location(), http.StatusFound)
			return
		}

		ctx := r.Context()
		if session != nil {
			ctx = context.WithValue(ctx, sessionKey{}, session)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Evaluate computes the decision for r. It may rewrite session cookies on w
// but never writes a status or body.
func (g *Gate) Evaluate(w http.ResponseWriter, r *http.Request) (policy.Decision, *models.Session) {
	start := time.Now()
	ctx, span := g.tracer.Start(r.Context(), tracer.SpanGateEvaluate,
		tracer.String(tracer.AttrRoute, r.URL.Path),
	)
	defer span.End(nil)

	session := g.currentSession(ctx, w, r)
	match := g.policy.Routes().Classify(r.URL.Path)

	state := policy.ProfileNone
	if session != nil {
		state = g.profiles.Resolve(ctx, session.UserID())
	}

	decision := g.policy.Decide(match.Path, session != nil, state)

	span.SetAttributes(
		tracer.String(tracer.AttrCategory, string(match.Category)),
		tracer.Bool(tracer.AttrSession, session != nil),
		tracer.String(tracer.AttrProfileState, state.String()),
		tracer.String(tracer.AttrDecisionRule, string(decision.Rule)),
		tracer.String(tracer.AttrDecisionOut, string(decision.Outcome)),
	)
	g.metrics.IncDecision(string(decision.Outcome), string(decision.Rule))
	g.metrics.ObserveEvaluation(float64(time.Since(start).Microseconds()) / 1000)

	if decision.IsRedirect() {
		g.logger.DebugContext(ctx, "gate redirect",
			"path", match.Path,
			"category", match.Category,
			"profile_state", state.String(),
			"rule", decision.Rule,
			"location", decision.Location(),
		)
		g.emit(ctx, audit.Event{
			Action: audit.ActionGateRedirect,
			Path:   match.Path,
			Target: decision.Location(),
			Rule:   string(decision.Rule),
			UserID: userIDOf(session),
		})
	}
	return decision, session
}

// currentSession treats any provider error as an anonymous visit and drops
// the stale cookies so the next request starts clean.
func (g *Gate) currentSession(ctx context.Context, w http.ResponseWriter, r *http.Request) *models.Session {
	session, err := g.sessions.CurrentSession(w, r)
	if err == nil {
		return session
	}
	g.sessions.ClearSession(w)
	g.metrics.IncSessionError()
	g.logger.WarnContext(ctx, "session lookup failed, treating visitor as signed out",
		"error", err,
		"path", r.URL.Path,
	)
	g.emit(ctx, audit.Event{
		Action: audit.ActionSessionCleared,
		Path:   r.URL.Path,
		Reason: err.Error(),
	})
	return nil
}

func (g *Gate) emit(ctx context.Context, event audit.Event) {
	if g.audit == nil {
		return
	}
	if deviceID, ok := device.DeviceIDFromContext(ctx); ok {
		event.DeviceID = deviceID.String()
	}
	g.audit.Emit(ctx, event)
}

func userIDOf(s *models.Session) string {
	if s == nil {
		return ""
	}
	return s.UserID().String()
}
