// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Backends.
const (
	BackendMemory     = "memory"
	BackendRedis      = "redis"
	BackendPrometheus = "prometheus"
)

// ErrInvalidConfig is returned when a value parses but is not usable.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL string `env:"DATABASE_URL,required"`

	// Cache (Redis). Optional: without it the click rate limit and the
	// shared idempotency tier are disabled.
	RedisURL string `env:"REDIS_URL"`

	// Public base URL of the tracking links
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitClickEnabled bool `env:"RATE_LIMIT_CLICK_ENABLED" envDefault:"true"`
	RateLimitClickRPS     int  `env:"RATE_LIMIT_CLICK_RPS" envDefault:"20"`
	RateLimitClickBurst   int  `env:"RATE_LIMIT_CLICK_BURST" envDefault:"10"`
	RateLimitAPIPerMinute int  `env:"RATE_LIMIT_API_PER_MINUTE" envDefault:"120"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`

	// Telegram
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramBotUsername string `env:"TELEGRAM_BOT_USERNAME"`

	// Postbacks
	PostbackSecret   string        `env:"POSTBACK_SECRET" envDefault:"dev_secret"`
	PostbackTimeout  time.Duration `env:"POSTBACK_TIMEOUT" envDefault:"4s"`
	PostbackDedupTTL time.Duration `env:"POSTBACK_DEDUP_TTL" envDefault:"120s"`
	// Allows loopback postback URLs when validating offers.
	PostbackAllowLocal bool `env:"POSTBACK_ALLOW_LOCAL" envDefault:"false"`

	// Idempotency guard
	IdempotencyCapacity int    `env:"IDEMPOTENCY_CAPACITY" envDefault:"5000"`
	IdempotencyBackend  string `env:"IDEMPOTENCY_BACKEND" envDefault:"memory"`

	// Automatic retry worker
	RetrySweepEnabled  bool          `env:"RETRY_SWEEP_ENABLED" envDefault:"false"`
	RetrySweepInterval time.Duration `env:"RETRY_SWEEP_INTERVAL" envDefault:"30s"`
	RetrySweepBatch    int           `env:"RETRY_SWEEP_BATCH" envDefault:"50"`

	// Admin API bearer token, stored as an argon2id PHC hash
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH"`

	// Anti-fraud
	SuspectIPCIDRs   []string      `env:"SUSPECT_IP_CIDRS" envSeparator:","`
	DayTimezone      string        `env:"DAY_TIMEZONE" envDefault:"UTC"`
	PrimaryDailyCap  int           `env:"PRIMARY_DAILY_CAP" envDefault:"3"`
	ReactionDebounce time.Duration `env:"REACTION_DEBOUNCE" envDefault:"60s"`

	// Metrics
	MetricsBackend string `env:"METRICS_BACKEND" envDefault:"prometheus"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// DayLocation returns the timezone whose midnight starts a day.
func (c *Config) DayLocation() (*time.Location, error) {
	if c.DayTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.DayTimezone)
	if err != nil {
		return nil, fmt.Errorf("%w: DAY_TIMEZONE: %v", ErrInvalidConfig, err)
	}
	return loc, nil
}

// UseRedisGuard reports whether the idempotency guard has a Redis tier.
func (c *Config) UseRedisGuard() bool {
	return strings.EqualFold(c.IdempotencyBackend, BackendRedis) && c.RedisURL != ""
}

// Validate checks values that env parsing cannot.
func (c *Config) Validate() error {
	switch strings.ToLower(c.IdempotencyBackend) {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: IDEMPOTENCY_BACKEND %q", ErrInvalidConfig, c.IdempotencyBackend)
	}
	switch strings.ToLower(c.MetricsBackend) {
	case BackendMemory, BackendPrometheus:
	default:
		return fmt.Errorf("%w: METRICS_BACKEND %q", ErrInvalidConfig, c.MetricsBackend)
	}
	if c.IdempotencyCapacity <= 0 {
		return fmt.Errorf("%w: IDEMPOTENCY_CAPACITY must be positive", ErrInvalidConfig)
	}
	if _, err := c.DayLocation(); err != nil {
		return err
	}
	if c.IsProduction() && c.AdminTokenHash == "" {
		return fmt.Errorf("%w: ADMIN_TOKEN_HASH is required in production", ErrInvalidConfig)
	}
	return nil
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
