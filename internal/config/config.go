// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Change feed backends.
const (
	FeedLocal = "local"
	FeedRedis = "redis"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                  string
	DatabasePath          string
	JWTSecret             string
	OperatorTokenDuration time.Duration
	RateLimitPerMinute    int
	CORSAllowedOrigins    []string
	TrustedProxies        []string

	SongDuration      time.Duration
	HeartbeatInterval time.Duration
	DebounceWindow    time.Duration
	SubscriberBuffer  int

	ChangeFeed    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	SentryDSN         string
	SentryEnvironment string
	// SentryFrontendDSN is the only DSN the browser tunnel forwards for.
	SentryFrontendDSN string
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DatabasePath:          getEnv("DATABASE_PATH", "./karaoke.db"),
		JWTSecret:             getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		OperatorTokenDuration: getDurationEnv("OPERATOR_TOKEN_DURATION", 12*time.Hour),
		RateLimitPerMinute:    getIntEnv("RATE_LIMIT_PER_MINUTE", 10),
		CORSAllowedOrigins:    getStringSliceEnvDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:        getStringSliceEnv("TRUSTED_PROXIES"),

		SongDuration:      getDurationEnv("SONG_DURATION", 4*time.Minute),
		HeartbeatInterval: getDurationEnv("HEARTBEAT_INTERVAL", 30*time.Second),
		DebounceWindow:    getDurationEnv("DEBOUNCE_WINDOW", 100*time.Millisecond),
		SubscriberBuffer:  getIntEnv("SUBSCRIBER_BUFFER", 16),

		ChangeFeed:    strings.ToLower(getEnv("CHANGE_FEED", FeedLocal)),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_CHANNEL", "karaoke:queue_changes"),

		SentryDSN:         getEnv("SENTRY_DSN", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "production"),
		SentryFrontendDSN: getEnv("SENTRY_DSN_FRONTEND", ""),
	}
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getStringSliceEnvDefault(key string, defaultValue []string) []string {
	if v := getStringSliceEnv(key); len(v) > 0 {
		return v
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
