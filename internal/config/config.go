// Package config handles loading runtime configuration for the match reservation API.
// Every setting (database and Redis URLs, engine timings, side-effect endpoints) comes from
// environment variables instead of being hardcoded, following the 12-factor approach: the
// same binary runs in development, staging and production, and only the environment changes.
package config

import (
	"os"
	"strconv"
	"time"

	// godotenv loads KEY=value pairs from a local .env file into the process environment,
	// which keeps secrets out of shell history during development. Deployed containers get
	// real environment variables and usually have no .env file at all.
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values for the application.
// main loads it once at startup and passes the relevant pieces to each component, so no
// package below cmd/ ever reads the environment itself.
type Config struct {
	Port           string // TCP port the HTTP server listens on
	DatabaseURL    string // PostgreSQL connection string
	RedisURL       string // Redis URL for the advisory lock store and the match cache
	ClerkSecretKey string // Secret key for verifying Clerk authentication tokens
	Env            string // "development", "staging", or "production"
	LogLevel       string // zerolog level name: debug, info, warn, error

	// Reservation engine tuning.
	LockTTL       time.Duration // How long an advisory slot lock lives before the sweeper reclaims it
	SweepInterval time.Duration // How often the lock expiry sweep runs
	OverlapBuffer time.Duration // Window around a confirmed slot in which other pending applications are pruned

	// Side effects.
	NotifyWebhookURL string        // Where lifecycle notifications are POSTed; empty = log only
	ChatServiceURL   string        // Chat collaborator base URL; empty = log only
	ServiceToken     string        // Token sent to sibling services in X-Service-Token
	MatchCacheTTL    time.Duration // TTL of cached match detail views
	DispatchWorkers  int           // Goroutines delivering side effects
	DispatchQueue    int           // Buffered side-effect events before new ones are dropped

	// Per-user rate limit on lifecycle commands.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables and returns a populated Config.
// Optional settings fall back to defaults that work against a local docker-compose stack;
// only DATABASE_URL has no default.
func Load() *Config {
	// The error is ignored on purpose: a missing .env is the normal case in production,
	// where the deployment platform has already set the variables.
	_ = godotenv.Load()

	// A pointer is returned so every component shares the one Config value.
	return &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Required; the server refuses to start without it
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ClerkSecretKey: os.Getenv("CLERK_SECRET_KEY"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		LockTTL:       getEnvDuration("LOCK_TTL", 2*time.Hour),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", time.Minute),
		OverlapBuffer: getEnvDuration("OVERLAP_BUFFER", 2*time.Hour),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		ChatServiceURL:   os.Getenv("CHAT_SERVICE_URL"),
		ServiceToken:     os.Getenv("SERVICE_TOKEN"),
		MatchCacheTTL:    getEnvDuration("MATCH_CACHE_TTL", 5*time.Minute),
		DispatchWorkers:  getEnvInt("DISPATCH_WORKERS", 4),
		DispatchQueue:    getEnvInt("DISPATCH_QUEUE", 1024),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),
	}
}

// IsDevelopment reports whether the server runs in local development mode.
// Auth relaxes token verification in this mode and the logger switches to console output.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv returns the variable's value, or def when it is unset or empty.
// os.LookupEnv distinguishes "unset" from "set to empty"; both mean "use the default" here.
func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// getEnvInt and getEnvFloat parse numeric settings. A value that does not parse falls
// back to the default rather than stopping the server over a typo in a tuning knob.
func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go duration strings such as "90s" or "2h". Zero and negative
// durations are rejected too, since every duration here is a TTL or an interval.
func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
