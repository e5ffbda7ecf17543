package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itemstore/config"
	"itemstore/pkg/errors"
)

func TestLoadDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.True(t, cfg.Resilience.EnableRetries)
	assert.Equal(t, uint(3), cfg.Resilience.MaxRetries)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: sqlite
sqlite:
  path: /tmp/test.db
  busy_timeout: 5s
resilience:
  enable_retries: false
logging:
  level: debug
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/test.db", cfg.SQLite.Path)
	assert.Equal(t, 5*time.Second, cfg.SQLite.BusyTimeout)
	assert.False(t, cfg.Resilience.EnableRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: memory\n"), 0o644))

	t.Setenv("ITEMSTORE_BACKEND", "dynamo")
	t.Setenv("ITEMSTORE_TABLE_NAME", "items-test")
	t.Setenv("ITEMSTORE_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendDynamo, cfg.Backend)
	assert.Equal(t, "items-test", cfg.Dynamo.TableName)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *config.Config) {}, false},
		{"unknown backend", func(c *config.Config) { c.Backend = "oracle" }, true},
		{"dynamo without table", func(c *config.Config) { c.Backend = config.BackendDynamo }, true},
		{"dynamo with table", func(c *config.Config) {
			c.Backend = config.BackendDynamo
			c.Dynamo.TableName = "items"
		}, false},
		{"sqlite without path", func(c *config.Config) {
			c.Backend = config.BackendSQLite
			c.SQLite.Path = ""
		}, true},
		{"unknown log level", func(c *config.Config) { c.Logging.Level = "loud" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [unterminated"), 0o644))

	_, err := config.Load(path)
	assert.True(t, errors.IsValidation(err))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	initial, err := config.Load(path)
	require.NoError(t, err)

	w, err := config.NewWatcher(path, initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	reloaded := make(chan *config.Config, 1)
	w.OnChange(func(c *config.Config) { reloaded <- c })

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "debug", w.Current().Logging.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcherKeepsLastGoodConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itemstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644))

	initial, err := config.Load(path)
	require.NoError(t, err)

	w, err := config.NewWatcher(path, initial, nil)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("backend: bogus\n"), 0o644))

	// Give the watcher a moment; the invalid file must not replace the
	// current configuration.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, config.BackendMemory, w.Current().Backend)
}
