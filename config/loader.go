package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"itemstore/pkg/errors"
)

// Load reads the configuration file at path, applies environment variable
// overrides and validates the result. A missing file is not an error; the
// defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.KindInternal, "config: read file")
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, errors.Wrap(err, errors.KindValidation, "config: parse yaml")
			}
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment. Environment wins over
// file, file over defaults.
func applyEnv(cfg *Config) {
	if v := os.Getenv("ITEMSTORE_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("ITEMSTORE_TABLE_NAME"); v != "" {
		cfg.Dynamo.TableName = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Dynamo.Region = v
	}
	if v := os.Getenv("ITEMSTORE_DYNAMO_ENDPOINT"); v != "" {
		cfg.Dynamo.Endpoint = v
	}
	if v := os.Getenv("ITEMSTORE_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("ITEMSTORE_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SQLite.BusyTimeout = d
		}
	}
	if v := os.Getenv("ITEMSTORE_ENABLE_RETRIES"); v != "" {
		cfg.Resilience.EnableRetries = parseBool(v)
	}
	if v := os.Getenv("ITEMSTORE_ENABLE_BREAKER"); v != "" {
		cfg.Resilience.EnableBreaker = parseBool(v)
	}
	if v := os.Getenv("ITEMSTORE_ENABLE_METRICS"); v != "" {
		cfg.Resilience.EnableMetrics = parseBool(v)
	}
	if v := os.Getenv("ITEMSTORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
