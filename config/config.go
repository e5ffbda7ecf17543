// Package config loads the library's backend and resilience settings from a
// YAML file with environment variable overrides, and can hot-reload the file
// during development.
package config

import (
	"time"

	"itemstore/pkg/errors"
)

// Backend names a store adapter.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendDynamo Backend = "dynamo"
	BackendSQLite Backend = "sqlite"
)

// Config is the root configuration.
type Config struct {
	Backend    Backend       `yaml:"backend"`
	Dynamo     DynamoConfig  `yaml:"dynamo"`
	SQLite     SQLiteConfig  `yaml:"sqlite"`
	Resilience Resilience    `yaml:"resilience"`
	Logging    LoggingConfig `yaml:"logging"`
}

// DynamoConfig holds DynamoDB adapter settings.
type DynamoConfig struct {
	TableName string `yaml:"table_name"`
	Region    string `yaml:"region"`
	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string `yaml:"endpoint"`
}

// SQLiteConfig holds SQLite adapter settings.
type SQLiteConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// Resilience selects the decorator chain behavior.
type Resilience struct {
	EnableRetries bool          `yaml:"enable_retries"`
	MaxRetries    uint          `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`

	EnableBreaker       bool          `yaml:"enable_breaker"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`

	EnableMetrics bool `yaml:"enable_metrics"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Development switches to console encoding and enables hot reload.
	Development bool `yaml:"development"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Backend: BackendMemory,
		SQLite: SQLiteConfig{
			Path:        "itemstore.db",
			BusyTimeout: 30 * time.Second,
		},
		Resilience: Resilience{
			EnableRetries: true,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,

			EnableBreaker:       true,
			BreakerTimeout:      30 * time.Second,
			ConsecutiveFailures: 5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendDynamo:
		if c.Dynamo.TableName == "" {
			return errors.New(errors.KindValidation, "config: dynamo backend requires dynamo.table_name")
		}
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return errors.New(errors.KindValidation, "config: sqlite backend requires sqlite.path")
		}
	default:
		return errors.Newf(errors.KindValidation, "config: unknown backend %q", c.Backend)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.KindValidation, "config: unknown log level %q", c.Logging.Level)
	}
	return nil
}
