package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultPollDuration is how long a poll and its access tokens live.
	DefaultPollDuration = 2 * time.Hour

	devJWTSecret = "rankvote-development-secret"
)

// Config holds all configuration for the application.
type Config struct {
	Port         string
	Env          string
	RedisURL     string // empty selects the in-memory store
	JWTSecret    string
	PollDuration time.Duration

	// Browser origins allowed for CORS and websocket upgrades
	ClientOrigins []string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := FromEnv(os.Getenv)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// FromEnv builds a Config from lookup without touching the process
// environment.
func FromEnv(lookup func(string) string) (*Config, error) {
	get := func(key, defaultValue string) string {
		if value := lookup(key); value != "" {
			return value
		}
		return defaultValue
	}

	cfg := &Config{
		Port:               get("PORT", "8080"),
		Env:                get("ENV", "development"),
		RedisURL:           lookup("REDIS_URL"),
		JWTSecret:          lookup("JWT_SECRET"),
		AutoBlockEnabled:   get("AUTO_BLOCK_ENABLED", "false") == "true",
		ClientOrigins:      splitList(get("CLIENT_ORIGINS", "*")),
		RateLimitWhitelist: splitList(lookup("RATE_LIMIT_WHITELIST")),
	}

	d, err := parseDuration(get("POLL_DURATION", ""))
	if err != nil {
		return nil, fmt.Errorf("POLL_DURATION: %w", err)
	}
	cfg.PollDuration = d

	// In production, require redis and a real signing secret
	if cfg.Env == "production" {
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET is required in production")
		}
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// parseDuration accepts a Go duration ("90m") or whole seconds ("7200").
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return DefaultPollDuration, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive, got %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// splitList parses a comma-separated list, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
