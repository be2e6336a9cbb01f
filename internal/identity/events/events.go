// Package events carries session transitions from the edge (sign-in
// callback, sign-out, token refresh) to the live pages of the same browser.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"profilegate/internal/identity/models"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/sentinel"
)

// Handler receives events for one subscription. It is called from the bus's
// delivery goroutine and must not block.
type Handler func(models.Event)

// Unsubscribe cancels a subscription. It is idempotent; after it returns the
// handler is not called again.
type Unsubscribe func()

// Bus publishes session events and fans them out per device.
type Bus interface {
	Publish(ctx context.Context, event models.Event) error
	Subscribe(ctx context.Context, deviceID id.DeviceID, handler Handler) (Unsubscribe, error)
}

// Channel returns the pub/sub channel name for deviceID.
func Channel(deviceID id.DeviceID) string {
	return "auth:events:" + deviceID.String()
}

type wireEvent struct {
	Type     models.EventType `json:"type"`
	DeviceID string           `json:"device_id"`
	UserID   string           `json:"user_id,omitempty"`
	At       time.Time        `json:"at"`
}

func encode(e models.Event) ([]byte, error) {
	w := wireEvent{Type: e.Type, DeviceID: e.DeviceID.String(), At: e.At}
	if !e.UserID.IsNil() {
		w.UserID = e.UserID.String()
	}
	return json.Marshal(w)
}

func decode(payload []byte) (models.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	if !w.Type.IsValid() {
		return models.Event{}, fmt.Errorf("decode event: unknown type %q", w.Type)
	}
	deviceID, err := id.ParseDeviceID(w.DeviceID)
	if err != nil {
		return models.Event{}, fmt.Errorf("decode event: %w", err)
	}
	e := models.Event{Type: w.Type, DeviceID: deviceID, At: w.At}
	if w.UserID != "" {
		userID, err := id.ParseUserID(w.UserID)
		if err != nil {
			return models.Event{}, fmt.Errorf("decode event: %w", err)
		}
		e.UserID = userID
	}
	return e, nil
}

func validate(e models.Event) error {
	if !e.Type.IsValid() {
		return fmt.Errorf("publish event: unknown type %q: %w", e.Type, sentinel.ErrInvalidInput)
	}
	if e.DeviceID.IsNil() {
		return fmt.Errorf("publish event: missing device id: %w", sentinel.ErrInvalidInput)
	}
	return nil
}
