// Package device assigns each browser a stable device id cookie. The id keys
// the session event stream so every open page of one browser observes the
// same sign-in and sign-out transitions. It is not a session credential.
package device

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mssola/useragent"

	id "profilegate/pkg/domain"
)

// CookieName is the default device id cookie.
const CookieName = "pg-device-id"

// Config holds configuration for the Device middleware.
type Config struct {
	CookieName string
	MaxAge     time.Duration
	Secure     bool
	Domain     string
}

// DefaultConfig returns a one-year, secure, lax cookie named pg-device-id.
func DefaultConfig() Config {
	return Config{
		CookieName: CookieName,
		MaxAge:     365 * 24 * time.Hour,
		Secure:     true,
	}
}

type deviceIDKey struct{}
type labelKey struct{}

// Device reads the device id cookie, issuing a fresh id when it is missing or
// malformed, and stores the id and a readable device label on the context.
func Device(cfg Config) func(http.Handler) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = CookieName
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID, ok := fromCookie(r, cfg.CookieName)
			if !ok {
				deviceID = id.NewDeviceID()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.CookieName,
					Value:    deviceID.String(),
					Path:     "/",
					Domain:   cfg.Domain,
					MaxAge:   int(cfg.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := WithDeviceID(r.Context(), deviceID)
			ctx = context.WithValue(ctx, labelKey{}, ParseUserAgent(r.UserAgent()))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func fromCookie(r *http.Request, name string) (id.DeviceID, bool) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return id.DeviceID{}, false
	}
	deviceID, err := id.ParseDeviceID(cookie.Value)
	if err != nil {
		return id.DeviceID{}, false
	}
	return deviceID, true
}

// WithDeviceID stores deviceID on ctx.
func WithDeviceID(ctx context.Context, deviceID id.DeviceID) context.Context {
	return context.WithValue(ctx, deviceIDKey{}, deviceID)
}

// DeviceIDFromContext returns the device id set by the middleware.
func DeviceIDFromContext(ctx context.Context) (id.DeviceID, bool) {
	deviceID, ok := ctx.Value(deviceIDKey{}).(id.DeviceID)
	return deviceID, ok && !deviceID.IsNil()
}

// Label returns the device label set by the middleware, e.g. "Chrome on Linux".
func Label(ctx context.Context) string {
	if label, ok := ctx.Value(labelKey{}).(string); ok {
		return label
	}
	return ""
}

// ParseUserAgent renders a User-Agent as "Browser on OS".
func ParseUserAgent(userAgentString string) string {
	if userAgentString == "" {
		return "Unknown Device"
	}

	ua := useragent.New(userAgentString)
	browser, _ := ua.Browser()
	os := ua.OS()

	if ua.Mobile() {
		if platform := ua.Platform(); platform != "" {
			return strings.TrimSpace(browser + " on " + platform)
		}
	}
	if browser == "" {
		browser = "Unknown Browser"
	}
	if os == "" {
		os = "Unknown OS"
	}
	return strings.TrimSpace(browser + " on " + os)
}
