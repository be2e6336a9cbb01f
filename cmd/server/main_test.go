package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profilegate/internal/identity/events"
	identitymodels "profilegate/internal/identity/models"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/middleware/device"
	"profilegate/pkg/testutil"
)

// stallingBus blocks every publish until the caller's context ends.
type stallingBus struct {
	deadline time.Time
	bounded  bool
	event    identitymodels.Event
}

func (b *stallingBus) Publish(ctx context.Context, event identitymodels.Event) error {
	b.event = event
	b.deadline, b.bounded = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func (b *stallingBus) Subscribe(context.Context, id.DeviceID, events.Handler) (events.Unsubscribe, error) {
	return func() {}, nil
}

func TestAnnounceRefreshIsBounded(t *testing.T) {
	bus := &stallingBus{}
	hook := announceRefresh(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req = req.WithContext(device.WithDeviceID(req.Context(), testutil.TestIDs.DeviceID1))
	session := &identitymodels.Session{User: identitymodels.User{ID: testutil.TestIDs.UserID1}}

	start := time.Now()
	hook(req, session)

	require.True(t, bus.bounded, "publish must carry a deadline")
	assert.WithinDuration(t, start.Add(refreshPublishTimeout), bus.deadline, time.Second)
	assert.Less(t, time.Since(start), refreshPublishTimeout+time.Second)
	assert.Equal(t, identitymodels.EventTokenRefreshed, bus.event.Type)
	assert.Equal(t, testutil.TestIDs.DeviceID1, bus.event.DeviceID)
	assert.Equal(t, testutil.TestIDs.UserID1, bus.event.UserID)
}

func TestAnnounceRefreshNeedsDevice(t *testing.T) {
	bus := &stallingBus{}
	hook := announceRefresh(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	hook(httptest.NewRequest(http.MethodGet, "/feed", nil), &identitymodels.Session{})

	assert.Empty(t, bus.event.Type, "no device, nothing to announce")
}
