// Package config loads forgesync configuration from a YAML file with
// environment overrides. Precedence is defaults < file < environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forgesync/forgesync/internal/bulksync"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/ratelimit"
	"github.com/forgesync/forgesync/internal/retry"
	"github.com/forgesync/forgesync/internal/webhook"
)

// Config is the top-level forgesync configuration.
type Config struct {
	// DBPath is the SQLite database location
	// Default: .forgesync/sync.db
	DBPath string `yaml:"db_path"`

	// LogLevel is one of debug, info, warn, error
	// Default: info
	LogLevel string `yaml:"log_level"`

	// LogFile enables rotating file output when set; empty logs to stderr
	LogFile string `yaml:"log_file"`

	Provider  ProviderConfig  `yaml:"provider"`
	Sync      SyncConfig      `yaml:"sync"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
}

// ProviderConfig holds the forge API connection.
type ProviderConfig struct {
	// BaseURL is the GraphQL endpoint
	// Default: https://api.github.com/graphql
	BaseURL string `yaml:"base_url"`

	// Token is the bearer token. Prefer FORGESYNC_TOKEN over the file.
	Token string `yaml:"token"`

	// TimeoutSeconds is the per-request timeout
	// Default: 30
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// SyncConfig holds bulk sync pacing.
type SyncConfig struct {
	// PageSize is the requested page size before rate stepping
	// Default: 100, Range: 1-100
	PageSize int `yaml:"page_size"`

	// MaxPages caps pagination per repository per sync type
	// Default: 50
	MaxPages int `yaml:"max_pages"`

	// CooldownMinutes is the minimum gap between scope runs
	// Default: 10
	CooldownMinutes int `yaml:"cooldown_minutes"`

	// MaxConcurrentRepos is how many repositories sync in parallel
	// Default: 4
	MaxConcurrentRepos int `yaml:"max_concurrent_repos"`

	// IntervalMinutes is the periodic sync interval in daemon mode
	// Default: 15
	IntervalMinutes int `yaml:"interval_minutes"`

	// MaxRetries is the retry budget for transient fetch failures
	// Default: 3
	MaxRetries int `yaml:"max_retries"`
}

// RateLimitConfig holds the governor thresholds.
type RateLimitConfig struct {
	// RequestsPerSecond paces outgoing calls locally
	// Default: 2
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// CriticalFloor pauses sync until reset when remaining drops below it
	// Default: 100
	CriticalFloor int `yaml:"critical_floor"`

	// LowWater halves the page size when remaining drops below it
	// Default: 1000
	LowWater int `yaml:"low_water"`

	// VeryLowWater quarters the page size when remaining drops below it
	// Default: 400
	VeryLowWater int `yaml:"very_low_water"`
}

// WebhookConfig holds the webhook listener.
type WebhookConfig struct {
	// Addr is the listen address
	// Default: :8090
	Addr string `yaml:"addr"`

	// Path is the handler path
	// Default: /webhook
	Path string `yaml:"path"`

	// Secret enables HMAC signature verification when set
	Secret string `yaml:"secret"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		DBPath:   ".forgesync/sync.db",
		LogLevel: "info",
		Provider: ProviderConfig{
			BaseURL:        "https://api.github.com/graphql",
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			PageSize:           100,
			MaxPages:           50,
			CooldownMinutes:    10,
			MaxConcurrentRepos: 4,
			IntervalMinutes:    15,
			MaxRetries:         3,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			CriticalFloor:     100,
			LowWater:          1000,
			VeryLowWater:      400,
		},
		Webhook: WebhookConfig{
			Addr: ":8090",
			Path: "/webhook",
		},
	}
}

// Load reads configuration: defaults, then the YAML file at path (skipped
// if path is empty or missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if err := parseEnvString("FORGESYNC_DB_PATH", &c.DBPath); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_LOG_LEVEL", &c.LogLevel); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_LOG_FILE", &c.LogFile); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_API_URL", &c.Provider.BaseURL); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_TOKEN", &c.Provider.Token); err != nil {
		return err
	}
	if err := parseEnvInt("FORGESYNC_PAGE_SIZE", &c.Sync.PageSize); err != nil {
		return err
	}
	if err := parseEnvInt("FORGESYNC_MAX_PAGES", &c.Sync.MaxPages); err != nil {
		return err
	}
	if err := parseEnvInt("FORGESYNC_COOLDOWN_MINUTES", &c.Sync.CooldownMinutes); err != nil {
		return err
	}
	if err := parseEnvInt("FORGESYNC_SYNC_INTERVAL_MINUTES", &c.Sync.IntervalMinutes); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_WEBHOOK_ADDR", &c.Webhook.Addr); err != nil {
		return err
	}
	if err := parseEnvString("FORGESYNC_WEBHOOK_SECRET", &c.Webhook.Secret); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	if c.Sync.PageSize < 1 || c.Sync.PageSize > 100 {
		return fmt.Errorf("sync.page_size must be between 1 and 100 (got %d)", c.Sync.PageSize)
	}
	if c.Sync.MaxPages < 1 {
		return fmt.Errorf("sync.max_pages must be positive (got %d)", c.Sync.MaxPages)
	}
	if c.Sync.MaxConcurrentRepos < 1 {
		return fmt.Errorf("sync.max_concurrent_repos must be positive (got %d)", c.Sync.MaxConcurrentRepos)
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate_limit.requests_per_second must be positive (got %g)", c.RateLimit.RequestsPerSecond)
	}
	if c.RateLimit.VeryLowWater > c.RateLimit.LowWater {
		return fmt.Errorf("rate_limit.very_low_water must not exceed low_water")
	}
	return nil
}

// GitHub builds the provider client configuration.
func (c Config) GitHub() provider.GitHubConfig {
	return provider.GitHubConfig{
		BaseURL: c.Provider.BaseURL,
		Token:   c.Provider.Token,
		Timeout: time.Duration(c.Provider.TimeoutSeconds) * time.Second,
	}
}

// Governor builds the rate limit governor configuration.
func (c Config) Governor() ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	cfg.RequestsPerSecond = c.RateLimit.RequestsPerSecond
	cfg.CriticalFloor = c.RateLimit.CriticalFloor
	cfg.LowWater = c.RateLimit.LowWater
	cfg.VeryLowWater = c.RateLimit.VeryLowWater
	return cfg
}

// Retry builds the retry policy.
func (c Config) Retry() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Sync.MaxRetries > 0 {
		p.MaxAttempts = c.Sync.MaxRetries
	}
	return p
}

// Orchestrator builds the bulk sync configuration.
func (c Config) Orchestrator() bulksync.Config {
	cfg := bulksync.DefaultConfig()
	cfg.BasePageSize = c.Sync.PageSize
	cfg.MaxPages = c.Sync.MaxPages
	cfg.Cooldown = time.Duration(c.Sync.CooldownMinutes) * time.Minute
	cfg.MaxConcurrentRepos = int64(c.Sync.MaxConcurrentRepos)
	return cfg
}

// WebhookServer builds the webhook receiver configuration.
func (c Config) WebhookServer() webhook.Config {
	return webhook.Config{
		Addr:   c.Webhook.Addr,
		Path:   c.Webhook.Path,
		Secret: c.Webhook.Secret,
	}
}

// SyncInterval returns the periodic sync interval for daemon mode.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalMinutes) * time.Minute
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}
