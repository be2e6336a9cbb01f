package events

import (
	"context"
	"sync"
	"time"

	"profilegate/internal/identity/models"
	id "profilegate/pkg/domain"
)

// MemoryBus delivers events within one process. Used in tests and
// single-instance deployments without Redis.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[id.DeviceID]map[uint64]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[id.DeviceID]map[uint64]Handler)}
}

// Publish delivers event synchronously to every subscriber of its device.
func (b *MemoryBus) Publish(_ context.Context, event models.Event) error {
	if err := validate(event); err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.DeviceID]))
	for _, h := range b.subs[event.DeviceID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, deviceID id.DeviceID, handler Handler) (Unsubscribe, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	subID := b.nextID
	if b.subs[deviceID] == nil {
		b.subs[deviceID] = make(map[uint64]Handler)
	}
	b.subs[deviceID][subID] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[deviceID], subID)
			if len(b.subs[deviceID]) == 0 {
				delete(b.subs, deviceID)
			}
		})
	}, nil
}

// Subscribers returns the number of live subscriptions for deviceID.
func (b *MemoryBus) Subscribers(deviceID id.DeviceID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[deviceID])
}
