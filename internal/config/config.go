package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"courier"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"courier"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	// One consumer process per prefix.
	RedisPrefix string `envconfig:"REDIS_PREFIX" default:"courier:"`

	NSQLookupd     string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost       string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP       string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQMaxInFlight int    `envconfig:"NSQ_MAX_IN_FLIGHT" default:"50"`

	// Shared secret every inbound payload must carry.
	Token              string `envconfig:"DELIVERY_TOKEN"`
	DownstreamAuth     string `envconfig:"DOWNSTREAM_AUTH"`
	DownstreamAPIBase  string `envconfig:"DOWNSTREAM_API_BASE" default:"https://discord.com/api"`
	DispatchTimeoutSec int    `envconfig:"DISPATCH_TIMEOUT_SECONDS" default:"15"`

	// Admission
	RateIntervalMs         int     `envconfig:"RATE_INTERVAL_MS" default:"1000"`
	RateIntervalCap        int     `envconfig:"RATE_INTERVAL_CAP" default:"15"`
	MaxConcurrency         int     `envconfig:"MAX_CONCURRENCY" default:"10"`
	BackpressureMultiplier float64 `envconfig:"BACKPRESSURE_MULTIPLIER" default:"2"`

	InvalidRequestThreshold     int `envconfig:"INVALID_REQUEST_THRESHOLD" default:"1000"`
	InvalidRequestWindowSeconds int `envconfig:"INVALID_REQUEST_WINDOW_SECONDS" default:"600"`

	DequeueBatchSize    int `envconfig:"DEQUEUE_BATCH_SIZE" default:"50"`
	DequeueIntervalMs   int `envconfig:"DEQUEUE_INTERVAL_MS" default:"500"`
	RecordRetentionHour int `envconfig:"RECORD_RETENTION_HOURS" default:"72"`

	// Server
	ServerPort    int    `envconfig:"SERVER_PORT" default:"8081"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"LOG_FORMAT" default:"json"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell take precedence over .env files
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("%w: REDIS_ADDR", ErrMissingRequired)
	}
	if c.Token == "" {
		return fmt.Errorf("%w: DELIVERY_TOKEN", ErrMissingRequired)
	}
	if c.RateIntervalMs <= 0 {
		return fmt.Errorf("%w: RATE_INTERVAL_MS must be positive", ErrInvalidValue)
	}
	if c.RateIntervalCap <= 0 {
		return fmt.Errorf("%w: RATE_INTERVAL_CAP must be positive", ErrInvalidValue)
	}
	if c.BackpressureMultiplier < 1 {
		return fmt.Errorf("%w: BACKPRESSURE_MULTIPLIER must be at least 1", ErrInvalidValue)
	}
	if c.DequeueBatchSize <= 0 {
		return fmt.Errorf("%w: DEQUEUE_BATCH_SIZE must be positive", ErrInvalidValue)
	}
	if c.InvalidRequestThreshold > 0 && c.InvalidRequestWindowSeconds <= 0 {
		return fmt.Errorf("%w: INVALID_REQUEST_WINDOW_SECONDS must be positive when INVALID_REQUEST_THRESHOLD is set", ErrInvalidValue)
	}
	if c.DequeueIntervalMs <= 0 {
		return fmt.Errorf("%w: DEQUEUE_INTERVAL_MS must be positive", ErrInvalidValue)
	}
	return nil
}

func (c *Config) RateInterval() time.Duration {
	return time.Duration(c.RateIntervalMs) * time.Millisecond
}

func (c *Config) DequeueInterval() time.Duration {
	return time.Duration(c.DequeueIntervalMs) * time.Millisecond
}

func (c *Config) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutSec) * time.Second
}

func (c *Config) InvalidRequestWindow() time.Duration {
	return time.Duration(c.InvalidRequestWindowSeconds) * time.Second
}

func (c *Config) RecordRetention() time.Duration {
	return time.Duration(c.RecordRetentionHour) * time.Hour
}

func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
