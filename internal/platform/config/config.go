// Package config reads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Environment     string
	Addr            string
	UpstreamURL     string
	RoutesFile      string
	ShutdownTimeout time.Duration
	ResolveTimeout  time.Duration
	LogLevel        string
	MigrateOnStart  bool
	// WatcherOrigins lists page origins allowed to open the session socket.
	// Empty means same-origin only.
	WatcherOrigins []string
	Identity       IdentityConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Kafka          KafkaConfig
}

// IdentityConfig configures the GoTrue-compatible identity provider client.
type IdentityConfig struct {
	URL          string
	APIKey       string
	JWTSecret    string
	CookieSecure bool
	CookieDomain string
	HTTPTimeout  time.Duration
}

// DatabaseConfig configures the Postgres profile store.
type DatabaseConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig configures the event bus and profile cache client.
type RedisConfig struct {
	URL             string
	PoolSize        int
	MinIdleConns    int
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ProfileCacheTTL time.Duration
}

// KafkaConfig configures the audit producer.
type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Environment:     getEnv("PROFILEGATE_ENV", "development"),
		Addr:            getEnv("PROFILEGATE_ADDR", ":8080"),
		UpstreamURL:     os.Getenv("UPSTREAM_URL"),
		RoutesFile:      os.Getenv("ROUTES_FILE"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		ResolveTimeout:  getDuration("PROFILE_RESOLVE_TIMEOUT", 3*time.Second),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		MigrateOnStart:  getBool("MIGRATE_ON_START", false),
		WatcherOrigins:  splitList(os.Getenv("WATCHER_ALLOWED_ORIGINS")),
		Identity: IdentityConfig{
			URL:       os.Getenv("GOTRUE_URL"),
			APIKey:    os.Getenv("GOTRUE_API_KEY"),
			JWTSecret: getEnv("GOTRUE_JWT_SECRET", "dev-secret-key-change-in-production"),
			// Secure cookies unless explicitly disabled for local http.
			CookieSecure: getBool("COOKIE_SECURE", true),
			CookieDomain: os.Getenv("COOKIE_DOMAIN"),
			HTTPTimeout:  getDuration("GOTRUE_HTTP_TIMEOUT", 5*time.Second),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:             os.Getenv("REDIS_URL"),
			PoolSize:        getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:    getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:     getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:     getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:    getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			ProfileCacheTTL: getDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:    splitList(os.Getenv("KAFKA_BROKERS")),
			AuditTopic: getEnv("KAFKA_AUDIT_TOPIC", "profilegate.audit"),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
