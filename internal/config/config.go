// config.go

// Environment variable loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all env configuration vars for roomgate.
type Config struct {
	DatabaseURL string
	RedisURL    string
	Port        string
	LogLevel    slog.Level

	// Token lifetimes. Defaults: 720h sliding TTL, 5m grace after rotation.
	TokenTTL    time.Duration
	GracePeriod time.Duration

	// PresenceTTL is the inactivity window after which a user has left a room. Default 60s.
	PresenceTTL time.Duration

	// BlockDuration is the lockout applied when an escalating action is over its limit. Default 24h.
	BlockDuration time.Duration

	// StoreTimeout bounds every shared-store round trip. Default 2s.
	StoreTimeout time.Duration

	// ReconcileInterval schedules the in-process presence reconciler. 0 disables it,
	// e.g. when cmd/reconcile runs out of process. Default 1m.
	ReconcileInterval time.Duration

	// RateLimitHeaders controls X-RateLimit-* response headers. Default true.
	RateLimitHeaders bool

	// AdminUsers may trigger presence reconciliation over HTTP.
	AdminUsers []string

	// BlockedWords feed the username content filter.
	BlockedWords []string

	// TurnstileSecret enables the captcha check on account creation when set.
	TurnstileSecret string

	// ReplyQueueMax caps the AI reply queue. Default 1000.
	ReplyQueueMax int

	// RatePolicies overrides per-action windows, loaded from RATE_POLICY_FILE.
	RatePolicies map[string]RatePolicy
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if required variables (DATABASE_URL, REDIS_URL) are missing
// or RATE_POLICY_FILE is set but unreadable.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	cfg.LogLevel = ParseLogLevel(os.Getenv("LOG_LEVEL"))

	cfg.TokenTTL = envDuration("TOKEN_TTL", 720*time.Hour)
	cfg.GracePeriod = envDuration("TOKEN_GRACE_PERIOD", 5*time.Minute)
	cfg.PresenceTTL = envDuration("PRESENCE_TTL", 60*time.Second)
	cfg.BlockDuration = envDuration("BLOCK_DURATION", 24*time.Hour)
	cfg.StoreTimeout = envDuration("STORE_TIMEOUT", 2*time.Second)
	cfg.ReconcileInterval = envInterval("RECONCILE_INTERVAL", time.Minute)

	// Default true -- only explicit "false" disables.
	cfg.RateLimitHeaders = os.Getenv("RATE_LIMIT_HEADERS") != "false"

	cfg.AdminUsers = envList("ADMIN_USERS")
	cfg.BlockedWords = envList("BLOCKED_WORDS")
	cfg.TurnstileSecret = os.Getenv("TURNSTILE_SECRET")
	cfg.ReplyQueueMax = envInt("REPLY_QUEUE_MAX", 1000)

	if path := os.Getenv("RATE_POLICY_FILE"); path != "" {
		policies, err := LoadRatePolicies(path)
		if err != nil {
			return nil, fmt.Errorf("RATE_POLICY_FILE: %w", err)
		}
		cfg.RatePolicies = policies
	}

	return cfg, nil
}

// ParseLogLevel maps debug/warn/error to slog levels; anything else is info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// envInterval is envDuration that also accepts 0, meaning disabled.
func envInterval(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "0" {
		return 0
	}
	return envDuration(key, def)
}

// envList splits a comma-separated env var, trimming blanks.
func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
