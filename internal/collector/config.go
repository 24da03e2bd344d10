// Package collector drives periodic polling of the ClawLens gateway and
// persists derived metrics plus a full raw snapshot per cycle.
package collector

import "time"

// Config contains configurable parameters for the history collector.
// Use DefaultConfig() to get sensible defaults, then override as needed.
type Config struct {
	// Interval is how often a collection cycle runs (default: 60s).
	Interval time.Duration

	// StopTimeout bounds how long Stop waits for the worker to exit
	// (default: 5s). A cycle blocked inside a gateway call can outlive it.
	StopTimeout time.Duration

	// SessionsLimit caps how many sessions one sessions_list call returns
	// (default: 50).
	SessionsLimit int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      60 * time.Second,
		StopTimeout:   5 * time.Second,
		SessionsLimit: 50,
	}
}

// WithInterval returns a copy of the config with a modified cycle interval.
func (c Config) WithInterval(d time.Duration) Config {
	c.Interval = d
	return c
}

// WithStopTimeout returns a copy of the config with a modified stop timeout.
func (c Config) WithStopTimeout(d time.Duration) Config {
	c.StopTimeout = d
	return c
}

// WithSessionsLimit returns a copy of the config with a modified sessions_list limit.
func (c Config) WithSessionsLimit(n int) Config {
	c.SessionsLimit = n
	return c
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return &ConfigError{Field: "Interval", Message: "must be positive"}
	}
	if c.StopTimeout <= 0 {
		return &ConfigError{Field: "StopTimeout", Message: "must be positive"}
	}
	if c.SessionsLimit <= 0 {
		return &ConfigError{Field: "SessionsLimit", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}
