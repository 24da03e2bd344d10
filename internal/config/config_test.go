package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
	if cfg.Collector.IntervalSecs != 60 {
		t.Errorf("expected default interval 60s, got %d", cfg.Collector.IntervalSecs)
	}
	if cfg.Collector.SessionsLimit != 50 {
		t.Errorf("expected default sessions limit 50, got %d", cfg.Collector.SessionsLimit)
	}
	if cfg.Database.Path != "" {
		t.Errorf("expected empty default db path (store picks home default), got %q", cfg.Database.Path)
	}
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing config file must not be an error, got %v", err)
	}
	if cfg.Gateway.URL != Default().Gateway.URL {
		t.Errorf("expected default gateway URL, got %q", cfg.Gateway.URL)
	}
}

func TestLoadFromPathParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[database]
path = "/tmp/test-history.db"

[gateway]
url = "http://gateway.local:9999"
token = "secret"

[collector]
interval_secs = 30

[hostwatch]
enabled = false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/test-history.db" {
		t.Errorf("unexpected database path: %q", cfg.Database.Path)
	}
	if cfg.Gateway.URL != "http://gateway.local:9999" || cfg.Gateway.Token != "secret" {
		t.Errorf("unexpected gateway config: %+v", cfg.Gateway)
	}
	if cfg.CollectorInterval() != 30*time.Second {
		t.Errorf("expected 30s interval, got %v", cfg.CollectorInterval())
	}
	if cfg.Hostwatch.Enabled {
		t.Error("expected hostwatch disabled")
	}
	// Untouched sections keep their defaults.
	if cfg.Collector.SessionsLimit != 50 {
		t.Errorf("expected default sessions limit to survive partial file, got %d", cfg.Collector.SessionsLimit)
	}
}

func TestLoadFromPathRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not [valid toml"), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	if _, err := LoadFromPath(path); err == nil {
		t.Error("expected parse error for malformed TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CLAWLENS_DB_PATH", "/tmp/env.db")
	t.Setenv("CLAWLENS_GATEWAY_URL", "http://env:1234")
	t.Setenv("CLAWLENS_INTERVAL_SECS", "15")
	t.Setenv("CLAWLENS_HOSTWATCH", "false")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Database.Path != "/tmp/env.db" {
		t.Errorf("expected env db path, got %q", cfg.Database.Path)
	}
	if cfg.Gateway.URL != "http://env:1234" {
		t.Errorf("expected env gateway URL, got %q", cfg.Gateway.URL)
	}
	if cfg.Collector.IntervalSecs != 15 {
		t.Errorf("expected env interval 15, got %d", cfg.Collector.IntervalSecs)
	}
	if cfg.Hostwatch.Enabled {
		t.Error("expected hostwatch disabled via env")
	}
}

func TestEnvOverrideIgnoresGarbageNumbers(t *testing.T) {
	t.Setenv("CLAWLENS_INTERVAL_SECS", "soon")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if cfg.Collector.IntervalSecs != 60 {
		t.Errorf("garbage env number must be ignored, got %d", cfg.Collector.IntervalSecs)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty gateway url", func(c *Config) { c.Gateway.URL = "" }},
		{"zero gateway timeout", func(c *Config) { c.Gateway.TimeoutSecs = 0 }},
		{"zero interval", func(c *Config) { c.Collector.IntervalSecs = 0 }},
		{"zero stop timeout", func(c *Config) { c.Collector.StopTimeoutSecs = 0 }},
		{"zero sessions limit", func(c *Config) { c.Collector.SessionsLimit = 0 }},
		{"hostwatch enabled with zero interval", func(c *Config) { c.Hostwatch.IntervalSecs = 0 }},
		{"empty server name", func(c *Config) { c.Server.Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
