package shared

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Sync      SyncConfig      `toml:"sync"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// ServerConfig describes how to reach the remote media server.
type ServerConfig struct {
	URL            string       `toml:"url"`
	Token          string       `toml:"token"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	RateLimit      float64      `toml:"rate_limit"`
	OAuth2         OAuth2Config `toml:"oauth2"`
}

// OAuth2Config enables client-credentials auth for servers behind an OAuth2 proxy.
type OAuth2Config struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
}

// Enabled reports whether all client-credentials fields are present.
func (c OAuth2Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.TokenURL != ""
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path          string `toml:"path"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	MaxIdleConns  int    `toml:"max_idle_conns"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	Workers              int     `toml:"workers"`
	BatchSize            int     `toml:"batch_size"`
	QueueBuffer          int     `toml:"queue_buffer"`
	SafetyMarginSeconds  int     `toml:"safety_margin_seconds"`
	FatalCooldownSeconds int     `toml:"fatal_cooldown_seconds"`
	EnableMusic          bool    `toml:"enable_music"`
	Sections             []int64 `toml:"sections"`
	ExcludeSections      []int64 `toml:"exclude_sections"`
	WatchIntervalMinutes int     `toml:"watch_interval_minutes"`
}

// SafetyMargin is the overlap subtracted from a watermark on incremental runs.
func (c SyncConfig) SafetyMargin() time.Duration {
	return time.Duration(c.SafetyMarginSeconds) * time.Second
}

// FatalCooldown is how long to wait before starting a new fetch pool after a pool-fatal error.
func (c SyncConfig) FatalCooldown() time.Duration {
	return time.Duration(c.FatalCooldownSeconds) * time.Second
}

// WatchInterval is the period between scheduled runs of the watch daemon.
func (c SyncConfig) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalMinutes) * time.Minute
}

// LogConfig controls log level and optional file output.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// TelemetryConfig controls the metrics endpoint served by the watch daemon.
type TelemetryConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys absent from the file keep the values of the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks that the values the sync engine depends on are usable.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("%w: server.url is required", ErrInvalidConfig)
	}
	if u, err := url.Parse(c.Server.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: server.url %q is not an absolute URL", ErrInvalidConfig, c.Server.URL)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}

	switch {
	case c.Sync.Workers < 1:
		return fmt.Errorf("%w: sync.workers must be at least 1", ErrInvalidConfig)
	case c.Sync.BatchSize < 1:
		return fmt.Errorf("%w: sync.batch_size must be at least 1", ErrInvalidConfig)
	case c.Sync.QueueBuffer < 1:
		return fmt.Errorf("%w: sync.queue_buffer must be at least 1", ErrInvalidConfig)
	case c.Sync.SafetyMarginSeconds < 0:
		return fmt.Errorf("%w: sync.safety_margin_seconds must not be negative", ErrInvalidConfig)
	case c.Server.RateLimit < 0:
		return fmt.Errorf("%w: server.rate_limit must not be negative", ErrInvalidConfig)
	case c.Database.MaxOpenConns < 0:
		return fmt.Errorf("%w: database.max_open_conns must not be negative", ErrInvalidConfig)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s: %w", path, err)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
