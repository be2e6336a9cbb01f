// Package gotrue reads identity-provider sessions from GoTrue (Supabase Auth)
// cookies and talks to its REST API for refresh, code exchange and logout.
package gotrue

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"profilegate/internal/identity/models"
	id "profilegate/pkg/domain"
	dErrors "profilegate/pkg/domain-errors"
)

// DefaultCookieMaxAge keeps the cookie pair around long enough to refresh an
// expired access token.
const DefaultCookieMaxAge = 7 * 24 * time.Hour

// TokenClient is the subset of the GoTrue API the provider needs.
type TokenClient interface {
	RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*TokenResponse, error)
	Logout(ctx context.Context, accessToken string) error
}

// CookieConfig controls the session cookie attributes.
type CookieConfig struct {
	Secure bool
	Domain string
	MaxAge time.Duration
}

// Provider implements session lookup over the sb-* cookie pair.
type Provider struct {
	verifier  *Verifier
	client    TokenClient
	cookies   CookieConfig
	logger    *slog.Logger
	onRefresh func(r *http.Request, session *models.Session)
	refreshes singleflight.Group
}

type Option func(*Provider)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

func WithCookieConfig(cfg CookieConfig) Option {
	return func(p *Provider) {
		p.cookies = cfg
	}
}

// WithRefreshHook registers fn to run after a session was refreshed and the
// new cookies were written.
func WithRefreshHook(fn func(r *http.Request, session *models.Session)) Option {
	return func(p *Provider) {
		p.onRefresh = fn
	}
}

// NewProvider builds a provider. client may be nil, in which case expired
// sessions cannot be refreshed and are reported as errors.
func NewProvider(verifier *Verifier, client TokenClient, opts ...Option) *Provider {
	p := &Provider{
		verifier: verifier,
		client:   client,
		cookies:  CookieConfig{Secure: true, MaxAge: DefaultCookieMaxAge},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cookies.MaxAge <= 0 {
		p.cookies.MaxAge = DefaultCookieMaxAge
	}
	return p
}

// CurrentSession returns the visitor's session, or (nil, nil) when no session
// cookies are present. An expired access token is refreshed transparently
// and the cookie pair rewritten on w. Any other problem is an error; callers
// treat that as "no session".
func (p *Provider) CurrentSession(w http.ResponseWriter, r *http.Request) (*models.Session, error) {
	access := cookieValue(r, models.AccessTokenCookie)
	refresh := cookieValue(r, models.RefreshTokenCookie)
	if access == "" && refresh == "" {
		return nil, nil
	}

	if access != "" {
		session, err := p.sessionFromAccessToken(access, refresh)
		if err == nil {
			return session, nil
		}
		if !dErrors.HasCode(err, dErrors.CodeSessionExpired) {
			return nil, err
		}
	}

	if refresh == "" {
		return nil, dErrors.New(dErrors.CodeSessionExpired, "access token expired and no refresh token present")
	}
	session, err := p.refresh(r.Context(), refresh)
	if err != nil {
		return nil, err
	}
	p.setCookies(w, session)
	p.logger.DebugContext(r.Context(), "session refreshed", "user_id", session.UserID().String())
	if p.onRefresh != nil {
		p.onRefresh(r, session)
	}
	return session, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*models.Session, error) {
	if p.client == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "session refresh not configured")
	}
	// Parallel requests from one browser carry the same refresh token; GoTrue
	// rotates it on first use, so only one refresh may go out.
	v, err, _ := p.refreshes.Do(refreshToken, func() (any, error) {
		tok, err := p.client.RefreshToken(context.WithoutCancel(ctx), refreshToken)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeSessionExpired, "refresh session")
		}
		return p.sessionFromTokens(tok)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Session), nil
}

// ExchangeCode completes the OAuth callback and writes the session cookies.
func (p *Provider) ExchangeCode(w http.ResponseWriter, r *http.Request, code string) (*models.Session, error) {
	if p.client == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "code exchange not configured")
	}
	tok, err := p.client.ExchangeCode(r.Context(), code, cookieValue(r, models.CodeVerifierCookie))
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, nil
	}
	session, err := p.sessionFromTokens(tok)
	if err != nil {
		return nil, err
	}
	p.setCookies(w, session)
	p.deleteCookie(w, models.CodeVerifierCookie)
	return session, nil
}

// SignOut revokes the session at the provider. One retry is attempted since
// a failed revoke leaves a live refresh token behind.
func (p *Provider) SignOut(ctx context.Context, session *models.Session) error {
	if p.client == nil || session == nil || session.AccessToken == "" {
		return nil
	}
	err := p.client.Logout(ctx, session.AccessToken)
	if err == nil || ctx.Err() != nil {
		return err
	}
	p.logger.WarnContext(ctx, "provider sign-out failed, retrying", "error", err)
	return p.client.Logout(ctx, session.AccessToken)
}

// ClearSession deletes both session cookies.
func (p *Provider) ClearSession(w http.ResponseWriter) {
	p.deleteCookie(w, models.AccessTokenCookie)
	p.deleteCookie(w, models.RefreshTokenCookie)
}

func (p *Provider) sessionFromAccessToken(access, refresh string) (*models.Session, error) {
	claims, userID, err := p.verifier.Verify(access)
	if err != nil {
		return nil, err
	}
	session := &models.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         models.User{ID: userID, Email: claims.Email},
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

func (p *Provider) sessionFromTokens(tok *TokenResponse) (*models.Session, error) {
	session, err := p.sessionFromAccessToken(tok.AccessToken, tok.RefreshToken)
	if err != nil {
		return nil, err
	}
	if tok.User.ID != "" {
		if userID, err := id.ParseUserID(tok.User.ID); err == nil && userID != session.User.ID {
			return nil, dErrors.New(dErrors.CodeInvalidToken, "token user does not match access token subject")
		}
	}
	if session.User.Email == "" {
		session.User.Email = tok.User.Email
	}
	return session, nil
}

func (p *Provider) setCookies(w http.ResponseWriter, session *models.Session) {
	p.setCookie(w, models.AccessTokenCookie, session.AccessToken, int(p.cookies.MaxAge.Seconds()))
	if session.RefreshToken != "" {
		p.setCookie(w, models.RefreshTokenCookie, session.RefreshToken, int(p.cookies.MaxAge.Seconds()))
	}
}

func (p *Provider) deleteCookie(w http.ResponseWriter, name string) {
	p.setCookie(w, name, "", -1)
}

func (p *Provider) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   p.cookies.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   p.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
