package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"PROFILEGATE_ADDR", "PROFILE_RESOLVE_TIMEOUT", "KAFKA_BROKERS", "COOKIE_SECURE", "REDIS_POOL_SIZE"} {
		t.Setenv(key, "")
	}

	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 3*time.Second, cfg.ResolveTimeout)
	assert.True(t, cfg.Identity.CookieSecure)
	assert.Equal(t, 10, cfg.Redis.PoolSize)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "profilegate.audit", cfg.Kafka.AuditTopic)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PROFILEGATE_ADDR", ":9090")
	t.Setenv("PROFILE_RESOLVE_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,,")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("REDIS_POOL_SIZE", "not-a-number")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, 750*time.Millisecond, cfg.ResolveTimeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Identity.CookieSecure)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "invalid values fall back to the default")
}
