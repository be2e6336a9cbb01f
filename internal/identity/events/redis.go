package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"profilegate/internal/identity/models"
	id "profilegate/pkg/domain"
	"profilegate/pkg/platform/sentinel"
)

// RedisBus fans events out across gate instances with Redis pub/sub on one
// channel per device.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{client: client, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, event models.Event) error {
	if err := validate(event); err != nil {
		return err
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	payload, err := encode(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(event.DeviceID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, so events published
// after it returns are not missed.
func (b *RedisBus) Subscribe(ctx context.Context, deviceID id.DeviceID, handler Handler) (Unsubscribe, error) {
	pubsub := b.client.Subscribe(ctx, Channel(deviceID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w: %w", Channel(deviceID), sentinel.ErrUnavailable, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			event, err := decode([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("dropping malformed session event", "channel", msg.Channel, "error", err)
				continue
			}
			handler(event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				b.logger.Debug("closing session event subscription", "error", err)
			}
			<-done
		})
	}, nil
}
