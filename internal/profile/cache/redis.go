// Package cache remembers which users have a complete profile. Only the
// complete state is cached: incomplete and missing profiles always hit the
// store so a user finishing onboarding is never held back by a stale entry.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	id "profilegate/pkg/domain"
)

const (
	keyPrefix  = "profilegate:profile_complete:"
	DefaultTTL = 5 * time.Minute
)

// RedisCache stores completeness markers in Redis with a TTL.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedis builds a cache over client. A non-positive ttl uses DefaultTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func key(userID id.UserID) string {
	return keyPrefix + userID.String()
}

// IsComplete reports whether a completeness marker exists for userID.
func (c *RedisCache) IsComplete(ctx context.Context, userID id.UserID) (bool, error) {
	err := c.client.Get(ctx, key(userID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read completeness marker: %w", err)
	}
	return true, nil
}

// MarkComplete records that userID has a complete profile.
func (c *RedisCache) MarkComplete(ctx context.Context, userID id.UserID) error {
	if err := c.client.Set(ctx, key(userID), "1", c.ttl).Err(); err != nil {
		return fmt.Errorf("write completeness marker: %w", err)
	}
	return nil
}

// Invalidate drops the marker for userID, e.g. on sign-out.
func (c *RedisCache) Invalidate(ctx context.Context, userID id.UserID) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("delete completeness marker: %w", err)
	}
	return nil
}
