// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration with the precedence
// environment > YAML file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/decluttered-ai/reportd/internal/session"
)

// Duration wraps time.Duration so YAML values like "30s" decode
// directly; yaml.v3 only handles raw nanosecond integers natively.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML accepts Go duration strings and integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		nanos, intErr := strconv.ParseInt(raw, 10, 64)
		if intErr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		parsed = time.Duration(nanos)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in Go string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ArchiveConfig selects the durable archive backend.
type ArchiveConfig struct {
	Backend string `yaml:"backend"` // memory|sqlite
	Path    string `yaml:"path"`    // sqlite file location
}

// TimerConfig holds the coordinator cadences.
type TimerConfig struct {
	SweepInterval    Duration `yaml:"sweep_interval"`
	InterimInterval  Duration `yaml:"interim_interval"`
	StatusInterval   Duration `yaml:"status_interval"`
	IngestStaleAfter Duration `yaml:"ingest_stale_after"`
	ShutdownTimeout  Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig bounds the ingest surface.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// Config is the full daemon configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	LogLevel   string `yaml:"log_level"`

	ReportWriteTimeout Duration `yaml:"report_write_timeout"`

	Archive   ArchiveConfig   `yaml:"archive"`
	Timers    TimerConfig     `yaml:"timers"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// SessionDefaults fills start requests that omit a field.
	SessionDefaults session.Config `yaml:"session_defaults"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		DataDir:            "./data",
		LogLevel:           "info",
		ReportWriteTimeout: Duration(5 * time.Second),
		Archive: ArchiveConfig{
			Backend: "memory",
		},
		Timers: TimerConfig{
			SweepInterval:    Duration(60 * time.Second),
			InterimInterval:  Duration(30 * time.Second),
			StatusInterval:   Duration(15 * time.Second),
			IngestStaleAfter: Duration(90 * time.Second),
			ShutdownTimeout:  Duration(10 * time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
		},
		SessionDefaults: session.Config{
			DurationSeconds: 120,
			MaxCaptures:     5,
			CooldownSeconds: 2,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = ParseString("REPORTD_LISTEN_ADDR", c.ListenAddr)
	c.DataDir = ParseString("REPORTD_DATA_DIR", c.DataDir)
	c.LogLevel = ParseString("REPORTD_LOG_LEVEL", c.LogLevel)
	c.ReportWriteTimeout = Duration(ParseDuration("REPORTD_REPORT_WRITE_TIMEOUT", c.ReportWriteTimeout.Std()))

	c.Archive.Backend = ParseString("REPORTD_ARCHIVE_BACKEND", c.Archive.Backend)
	c.Archive.Path = ParseString("REPORTD_ARCHIVE_PATH", c.Archive.Path)

	c.Timers.SweepInterval = Duration(ParseDuration("REPORTD_SWEEP_INTERVAL", c.Timers.SweepInterval.Std()))
	c.Timers.InterimInterval = Duration(ParseDuration("REPORTD_INTERIM_INTERVAL", c.Timers.InterimInterval.Std()))
	c.Timers.StatusInterval = Duration(ParseDuration("REPORTD_STATUS_INTERVAL", c.Timers.StatusInterval.Std()))
	c.Timers.IngestStaleAfter = Duration(ParseDuration("REPORTD_INGEST_STALE_AFTER", c.Timers.IngestStaleAfter.Std()))
	c.Timers.ShutdownTimeout = Duration(ParseDuration("REPORTD_SHUTDOWN_TIMEOUT", c.Timers.ShutdownTimeout.Std()))

	c.RateLimit.RequestsPerMinute = ParseInt("REPORTD_RATE_LIMIT_RPM", c.RateLimit.RequestsPerMinute)

	c.SessionDefaults.DurationSeconds = ParseInt("REPORTD_SESSION_DURATION_SECONDS", c.SessionDefaults.DurationSeconds)
	c.SessionDefaults.MaxCaptures = ParseInt("REPORTD_SESSION_MAX_CAPTURES", c.SessionDefaults.MaxCaptures)
	c.SessionDefaults.CooldownSeconds = ParseFloat("REPORTD_SESSION_COOLDOWN_SECONDS", c.SessionDefaults.CooldownSeconds)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.ReportWriteTimeout <= 0 {
		return fmt.Errorf("report_write_timeout must be > 0")
	}
	switch c.Archive.Backend {
	case "memory":
	case "sqlite":
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("archive.backend must be memory or sqlite, got %q", c.Archive.Backend)
	}
	intervals := map[string]Duration{
		"timers.sweep_interval":   c.Timers.SweepInterval,
		"timers.interim_interval": c.Timers.InterimInterval,
		"timers.status_interval":  c.Timers.StatusInterval,
		"timers.shutdown_timeout": c.Timers.ShutdownTimeout,
	}
	for name, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be > 0")
	}
	if err := c.SessionDefaults.Validate(); err != nil {
		return fmt.Errorf("session_defaults: %w", err)
	}
	return nil
}
