package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the full runtime configuration of the server.
type Config struct {
	Addr string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	JWTSecret  string
	SessionTTL time.Duration

	BlobDir        string
	BlobBaseURL    string
	GCSBucket      string
	GCSCredentials string
	MaxScanBytes   int64

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	WebhookURL    string
	WebhookSecret string

	OutboxInterval    time.Duration
	OutboxBatchSize   int
	OutboxRetention   time.Duration
	RetentionSchedule string

	InboxSize int

	LogLevel  string
	LogFormat string
}

// Default returns the configuration used when no flag or variable overrides a
// value.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DBDriver:          DriverSQLite,
		DBPath:            "./rentdesk.sqlite",
		SessionTTL:        7 * 24 * time.Hour,
		BlobDir:           "./uploads",
		BlobBaseURL:       "/files",
		MaxScanBytes:      1 << 20,
		OutboxInterval:    2 * time.Second,
		OutboxBatchSize:   100,
		OutboxRetention:   7 * 24 * time.Hour,
		RetentionSchedule: "0 3 * * *",
		InboxSize:         50,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// LoadEnv reads variables from envFile into the process environment. A
// missing file is fine; configuration may come from the environment directly.
func LoadEnv(envFile string) error {
	if envFile == "" {
		_ = godotenv.Load()
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed loading env file %s: %w", envFile, err)
	}
	return nil
}

// Validate ensures that required configuration fields are populated and
// consistent.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr must be provided"))
	}
	switch c.DBDriver {
	case DriverSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("db-path must be provided for sqlite"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database-url must be provided for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported db-driver %q", c.DBDriver))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("jwt-secret must be at least 16 characters"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("session-ttl must be positive"))
	}
	if c.GCSBucket == "" && c.BlobDir == "" {
		errs = append(errs, errors.New("either blob-dir or gcs-bucket must be provided"))
	}
	if c.WebhookURL != "" && c.WebhookSecret == "" {
		errs = append(errs, errors.New("webhook-secret must be provided with webhook-url"))
	}
	if c.OutboxRetention < 0 {
		errs = append(errs, errors.New("outbox-retention must not be negative"))
	}
	if c.RetentionSchedule != "" {
		if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
			errs = append(errs, fmt.Errorf("retention-schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == DriverPostgres {
		return c.DatabaseURL
	}
	return c.DBPath
}
