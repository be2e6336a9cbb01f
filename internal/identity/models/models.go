package models

import (
	"time"

	id "profilegate/pkg/domain"
)

// Cookie names written by the identity provider's browser helpers.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
	CodeVerifierCookie = "sb-code-verifier"
)

// User is the authenticated identity carried by a session.
type User struct {
	ID    id.UserID
	Email string
}

// Session is a verified identity-provider session. A nil *Session means the
// visitor is anonymous.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// UserID is a shorthand for s.User.ID.
func (s *Session) UserID() id.UserID {
	return s.User.ID
}

// EventType names a session lifecycle transition.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed:
		return true
	default:
		return false
	}
}

// Event is one session transition observed for a browser. UserID is set for
// SIGNED_IN and TOKEN_REFRESHED.
type Event struct {
	Type     EventType
	DeviceID id.DeviceID
	UserID   id.UserID
	At       time.Time
}
