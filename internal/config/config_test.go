package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ".forgesync/sync.db", cfg.DBPath)
	assert.Equal(t, 100, cfg.Sync.PageSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Sync.PageSize, cfg.Sync.PageSize)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/test.db
log_level: debug
provider:
  token: file-token
sync:
  page_size: 25
  cooldown_minutes: 30
webhook:
  secret: hush
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file-token", cfg.Provider.Token)
	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, "hush", cfg.Webhook.Secret)

	// Untouched fields keep their defaults.
	assert.Equal(t, 50, cfg.Sync.MaxPages)
	assert.Equal(t, ":8090", cfg.Webhook.Addr)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forgesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("provider:\n  token: file-token\n"), 0o644))

	t.Setenv("FORGESYNC_TOKEN", "env-token")
	t.Setenv("FORGESYNC_PAGE_SIZE", "10")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Provider.Token)
	assert.Equal(t, 10, cfg.Sync.PageSize)
}

func TestEnvInvalidInt(t *testing.T) {
	t.Setenv("FORGESYNC_PAGE_SIZE", "lots")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"zero page size", func(c *Config) { c.Sync.PageSize = 0 }},
		{"oversized page", func(c *Config) { c.Sync.PageSize = 500 }},
		{"zero rps", func(c *Config) { c.RateLimit.RequestsPerSecond = 0 }},
		{"inverted water marks", func(c *Config) { c.RateLimit.VeryLowWater = 2000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := Default()
	cfg.Sync.CooldownMinutes = 5
	cfg.Sync.MaxRetries = 7
	cfg.Provider.TimeoutSeconds = 9

	assert.Equal(t, 5*time.Minute, cfg.Orchestrator().Cooldown)
	assert.Equal(t, 7, cfg.Retry().MaxAttempts)
	assert.Equal(t, 9*time.Second, cfg.GitHub().Timeout)
	assert.Equal(t, 15*time.Minute, cfg.SyncInterval())
}
