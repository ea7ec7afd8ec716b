package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultMaxRequestBodySize = 4 * 1024 * 1024 // 4MB

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	// Background-removal service
	FalKey              string
	FalQueueURL         string
	RemovalTimeout      time.Duration
	RemovalPollInterval time.Duration

	// "Select by URL" source downloads
	SourceFetchTimeout time.Duration

	// Sessions
	SessionTTL           time.Duration
	SessionSweepSchedule string
	SessionCookieSecure  bool

	// Identity gate
	AuthSecret string
	SignInURL  string
}

func (c *Config) ServerAddress() string {
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return LoadFromEnv()
}

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:                 getEnvOrDefault("HOST", "0.0.0.0"),
		Port:                 getEnvOrDefault("PORT", "8080"),
		RequestTimeout:       parseDurationOrDefault("REQUEST_TIMEOUT", 120*time.Second),
		MaxRequestBodySize:   parseIntOrDefault("MAX_REQUEST_BODY_SIZE", defaultMaxRequestBodySize),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		FalKey:               strings.TrimSpace(os.Getenv("FAL_KEY")),
		FalQueueURL:          getEnvOrDefault("FAL_QUEUE_URL", "https://queue.fal.run"),
		RemovalTimeout:       parseDurationOrDefault("REMOVAL_TIMEOUT", 90*time.Second),
		RemovalPollInterval:  parseDurationOrDefault("REMOVAL_POLL_INTERVAL", 500*time.Millisecond),
		SourceFetchTimeout:   parseDurationOrDefault("SOURCE_FETCH_TIMEOUT", 15*time.Second),
		SessionTTL:           parseDurationOrDefault("SESSION_TTL", 30*time.Minute),
		SessionSweepSchedule: getEnvOrDefault("SESSION_SWEEP_SCHEDULE", "@every 5m"),
		SessionCookieSecure:  parseBoolOrDefault("SESSION_COOKIE_SECURE", false),
		AuthSecret:           os.Getenv("AUTH_SECRET"),
		SignInURL:            getEnvOrDefault("SIGN_IN_URL", "/sign-in"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.RemovalTimeout <= 0 || c.SourceFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, removal=%s, fetch=%s)",
			c.RequestTimeout, c.RemovalTimeout, c.SourceFetchTimeout)
	}
	if c.RequestTimeout <= c.RemovalTimeout {
		return fmt.Errorf("REQUEST_TIMEOUT must exceed REMOVAL_TIMEOUT (got request=%s, removal=%s)",
			c.RequestTimeout, c.RemovalTimeout)
	}
	if c.RemovalPollInterval <= 0 {
		return fmt.Errorf("REMOVAL_POLL_INTERVAL must be > 0 (got %s)", c.RemovalPollInterval)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0 (got %s)", c.SessionTTL)
	}
	if u, err := url.Parse(c.FalQueueURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid FAL_QUEUE_URL: %q", c.FalQueueURL)
	}
	if len(c.AuthSecret) < 16 {
		return fmt.Errorf("AUTH_SECRET is required and must be at least 16 characters")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
