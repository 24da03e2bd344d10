// Package config provides configuration loading for clawlens.
//
// Settings come from, in order of precedence:
//   - CLAWLENS_* environment variables
//   - ~/.clawlens/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete clawlens configuration.
type Config struct {
	Database  DatabaseConfig  `toml:"database"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Collector CollectorConfig `toml:"collector"`
	Hostwatch HostwatchConfig `toml:"hostwatch"`
	Server    ServerConfig    `toml:"server"`
}

// DatabaseConfig controls the history store.
type DatabaseConfig struct {
	// Path is the SQLite database file (empty = ~/.clawlens-history.db).
	Path string `toml:"path"`
}

// GatewayConfig controls the RPC connection to the agent gateway.
type GatewayConfig struct {
	// URL is the gateway base URL.
	URL string `toml:"url"`
	// Token is an optional bearer token.
	Token string `toml:"token"`
	// TimeoutSecs bounds each gateway call.
	TimeoutSecs int `toml:"timeout_secs"`
}

// CollectorConfig controls the gateway polling loop.
type CollectorConfig struct {
	IntervalSecs    int `toml:"interval_secs"`
	StopTimeoutSecs int `toml:"stop_timeout_secs"`
	SessionsLimit   int `toml:"sessions_limit"`
}

// HostwatchConfig controls the host resource sampler.
type HostwatchConfig struct {
	Enabled      bool `toml:"enabled"`
	IntervalSecs int  `toml:"interval_secs"`
}

// ServerConfig identifies the MCP server.
type ServerConfig struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:         "http://127.0.0.1:18789",
			TimeoutSecs: 30,
		},
		Collector: CollectorConfig{
			IntervalSecs:    60,
			StopTimeoutSecs: 5,
			SessionsLimit:   50,
		},
		Hostwatch: HostwatchConfig{
			Enabled:      true,
			IntervalSecs: 60,
		},
		Server: ServerConfig{
			Name:    "clawlens",
			Version: "0.1.0",
		},
	}
}

// ConfigPath returns ~/.clawlens/config.toml.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".clawlens", "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load builds the effective configuration: defaults, then the config file
// if one exists, then environment overrides. The result is validated.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath is Load with an explicit file path. A missing file is not
// an error; the file is simply skipped.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides applies CLAWLENS_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if path := os.Getenv("CLAWLENS_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("CLAWLENS_GATEWAY_URL"); url != "" {
		c.Gateway.URL = url
	}
	if token := os.Getenv("CLAWLENS_GATEWAY_TOKEN"); token != "" {
		c.Gateway.Token = token
	}
	if interval := os.Getenv("CLAWLENS_INTERVAL_SECS"); interval != "" {
		if n, err := strconv.Atoi(interval); err == nil {
			c.Collector.IntervalSecs = n
		}
	}
	if hostwatch := os.Getenv("CLAWLENS_HOSTWATCH"); hostwatch != "" {
		if b, err := strconv.ParseBool(hostwatch); err == nil {
			c.Hostwatch.Enabled = b
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Message)
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return ValidationError{Field: "gateway.url", Message: "must not be empty"}
	}
	if c.Gateway.TimeoutSecs <= 0 {
		return ValidationError{Field: "gateway.timeout_secs", Message: "must be positive"}
	}
	if c.Collector.IntervalSecs <= 0 {
		return ValidationError{Field: "collector.interval_secs", Message: "must be positive"}
	}
	if c.Collector.StopTimeoutSecs <= 0 {
		return ValidationError{Field: "collector.stop_timeout_secs", Message: "must be positive"}
	}
	if c.Collector.SessionsLimit <= 0 {
		return ValidationError{Field: "collector.sessions_limit", Message: "must be positive"}
	}
	if c.Hostwatch.Enabled && c.Hostwatch.IntervalSecs <= 0 {
		return ValidationError{Field: "hostwatch.interval_secs", Message: "must be positive"}
	}
	if c.Server.Name == "" {
		return ValidationError{Field: "server.name", Message: "must not be empty"}
	}
	return nil
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// GatewayTimeout returns the per-call gateway timeout as a duration.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSecs) * time.Second
}

// CollectorInterval returns the collection cycle interval as a duration.
func (c *Config) CollectorInterval() time.Duration {
	return time.Duration(c.Collector.IntervalSecs) * time.Second
}

// CollectorStopTimeout returns the collector stop bound as a duration.
func (c *Config) CollectorStopTimeout() time.Duration {
	return time.Duration(c.Collector.StopTimeoutSecs) * time.Second
}

// HostwatchInterval returns the host sampling interval as a duration.
func (c *Config) HostwatchInterval() time.Duration {
	return time.Duration(c.Hostwatch.IntervalSecs) * time.Second
}
