// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "profilegate/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a DeviceID where a UserID is expected.
type (
	UserID    uuid.UUID
	ProfileID uuid.UUID
	DeviceID  uuid.UUID
)

// Parse functions - use at trust boundaries (cookies, token claims, store rows).

func ParseUserID(s string) (UserID, error) {
	id, err := parseUUID(s, "user ID")
	return UserID(id), err
}

func ParseProfileID(s string) (ProfileID, error) {
	id, err := parseUUID(s, "profile ID")
	return ProfileID(id), err
}

func ParseDeviceID(s string) (DeviceID, error) {
	id, err := parseUUID(s, "device ID")
	return DeviceID(id), err
}

// NewDeviceID generates a random device identifier for the device cookie.
func NewDeviceID() DeviceID { return DeviceID(uuid.New()) }

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id ProfileID) String() string { return uuid.UUID(id).String() }
func (id DeviceID) String() string  { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ProfileID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DeviceID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs are rejected: every
// identifier crossing a trust boundary here must name a real subject.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}
