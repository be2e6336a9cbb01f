package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"profilegate/internal/audit"
	"profilegate/internal/identity/models"
	"profilegate/internal/platform/metrics"
	"profilegate/internal/policy"
	id "profilegate/pkg/domain"
	dErrors "profilegate/pkg/domain-errors"
	"profilegate/pkg/platform/middleware/device"
)

// Callback failure codes appended to the login URL as ?error=.
const (
	ErrorNoCode       = "no_code"
	ErrorAuth         = "auth_error"
	ErrorNoSession    = "no_session"
	ErrorUnexpected   = "unexpected_error"
	callbackOutcomeOK = "signed_in"
	publishTimeout    = 2 * time.Second
)

// AuthProvider is the identity provider as seen by the auth endpoints.
type AuthProvider interface {
	CurrentSession(w http.ResponseWriter, r *http.Request) (*models.Session, error)
	ExchangeCode(w http.ResponseWriter, r *http.Request, code string) (*models.Session, error)
	SignOut(ctx context.Context, session *models.Session) error
	ClearSession(w http.ResponseWriter)
}

// ProfileService resolves and forgets profile completeness.
type ProfileService interface {
	Resolve(ctx context.Context, userID id.UserID) policy.ProfileState
	Invalidate(ctx context.Context, userID id.UserID)
}

// EventPublisher announces session transitions to the browser's open pages.
type EventPublisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// AuditPublisher records sign-ins and sign-outs.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event)
}

// AuthHandler serves the OAuth callback and sign-out.
type AuthHandler struct {
	provider AuthProvider
	profiles ProfileService
	events   EventPublisher
	audit    AuditPublisher
	policy   *policy.Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewAuthHandler(
	provider AuthProvider,
	profiles ProfileService,
	events EventPublisher,
	audit AuditPublisher,
	p *policy.Policy,
	m *metrics.Metrics,
	logger *slog.Logger,
) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		provider: provider,
		profiles: profiles,
		events:   events,
		audit:    audit,
		policy:   p,
		metrics:  m,
		logger:   logger,
	}
}

// Register mounts the auth routes.
func (h *AuthHandler) Register(r chi.Router) {
	r.Get("/auth/callback", h.HandleCallback)
	r.Post("/auth/signout", h.HandleSignOut)
}

// HandleCallback exchanges the OAuth code for a session and sends the visitor
// to where the policy says a fresh sign-in belongs.
func (h *AuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.URL.Query().Get("code")
	if code == "" {
		h.callbackFailed(w, r, ErrorNoCode, nil)
		return
	}

	session, err := h.provider.ExchangeCode(w, r, code)
	if err != nil {
		reason := ErrorAuth
		if dErrors.HasCode(err, dErrors.CodeUnavailable) || dErrors.HasCode(err, dErrors.CodeTimeout) {
			reason = ErrorUnexpected
		}
		h.callbackFailed(w, r, reason, err)
		return
	}
	if session == nil {
		h.callbackFailed(w, r, ErrorNoSession, nil)
		return
	}

	state := h.profiles.Resolve(ctx, session.UserID())
	target := h.policy.Landing(state)

	h.publish(ctx, models.EventSignedIn, session.UserID())
	h.emit(ctx, audit.Event{
		Action: audit.ActionSignedIn,
		Path:   r.URL.Path,
		Target: target,
		UserID: session.UserID().String(),
	})
	h.metrics.IncAuthCallback(callbackOutcomeOK)
	h.logger.InfoContext(ctx, "sign-in completed",
		"user_id", session.UserID().String(),
		"profile_state", state.String(),
		"target", target,
	)
	redirect(w, r, target)
}

// HandleSignOut revokes the session, clears cookies and tells open pages.
// The visitor always ends up signed out locally, even when the provider
// cannot be reached.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.provider.CurrentSession(w, r)
	if err != nil {
		h.logger.DebugContext(ctx, "no readable session at sign-out", "error", err)
		session = nil
	}

	confirmed := true
	if session != nil {
		if err := h.provider.SignOut(ctx, session); err != nil {
			confirmed = false
			h.logger.WarnContext(ctx, "provider sign-out failed, clearing local session anyway",
				"user_id", session.UserID().String(),
				"error", err,
			)
		}
		h.profiles.Invalidate(ctx, session.UserID())
	}
	h.provider.ClearSession(w)

	var userID id.UserID
	if session != nil {
		userID = session.UserID()
	}
	h.publish(ctx, models.EventSignedOut, userID)
	h.emit(ctx, audit.Event{
		Action: audit.ActionSignedOut,
		Path:   r.URL.Path,
		UserID: userIDString(userID),
	})
	h.metrics.IncSignOut(confirmed)
	redirect(w, r, h.policy.Routes().LandingPath())
}

func (h *AuthHandler) callbackFailed(w http.ResponseWriter, r *http.Request, reason string, err error) {
	ctx := r.Context()
	if err != nil {
		h.logger.WarnContext(ctx, "auth callback failed", "reason", reason, "error", err)
	} else {
		h.logger.InfoContext(ctx, "auth callback rejected", "reason", reason)
	}
	h.emit(ctx, audit.Event{
		Action: audit.ActionCallbackFailed,
		Path:   r.URL.Path,
		Reason: reason,
	})
	h.metrics.IncAuthCallback(reason)

	q := url.Values{}
	q.Set("error", reason)
	redirect(w, r, h.policy.Routes().LoginPath()+"?"+q.Encode())
}

// publish is best effort: a page that misses the event still converges on
// its next navigation through the gate.
func (h *AuthHandler) publish(ctx context.Context, t models.EventType, userID id.UserID) {
	if h.events == nil {
		return
	}
	deviceID, ok := device.DeviceIDFromContext(ctx)
	if !ok {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	err := h.events.Publish(pubCtx, models.Event{
		Type:     t,
		DeviceID: deviceID,
		UserID:   userID,
		At:       time.Now(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to publish session event", "event", t, "error", err)
	}
}

func (h *AuthHandler) emit(ctx context.Context, event audit.Event) {
	if h.audit == nil {
		return
	}
	if deviceID, ok := device.DeviceIDFromContext(ctx); ok {
		event.DeviceID = deviceID.String()
	}
	h.audit.Emit(ctx, event)
}

func redirect(w http.ResponseWriter, r *http.Request, location string) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, location, http.StatusFound)
}

func userIDString(userID id.UserID) string {
	if userID.IsNil() {
		return ""
	}
	return userID.String()
}
