// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

// Package config provides layered configuration for Sentinel using koanf v2.
// Precedence: environment variables > YAML config file > built-in defaults.
package config

import (
	"fmt"
	"time"
)

// SecurityLevel configures how strictly the facade reacts to violations.
type SecurityLevel string

const (
	LevelLow      SecurityLevel = "low"
	LevelMedium   SecurityLevel = "medium"
	LevelHigh     SecurityLevel = "high"
	LevelCritical SecurityLevel = "critical"
)

// Valid reports whether the level is one of the recognized values.
func (l SecurityLevel) Valid() bool {
	switch l {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return true
	}
	return false
}

// Config is the root configuration for the pipeline and its dashboard API.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Fallback FallbackConfig `koanf:"fallback"`
	Security SecurityConfig `koanf:"security"`
	Audit    AuditConfig    `koanf:"audit"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the dashboard API HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	CORSOrigins []string `koanf:"cors_origins"`

	// Transport-level rate limit applied by httprate in front of the
	// handlers. Distinct from the per-client application limiter below.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// DatabaseConfig configures the DuckDB audit sink.
type DatabaseConfig struct {
	// Path to the DuckDB file. ":memory:" keeps the sink in-process.
	Path string `koanf:"path"`

	// Threads for DuckDB. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// FallbackConfig configures the bounded local fallback store.
type FallbackConfig struct {
	// Path to the Badger directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// Capacity is the maximum number of retained fallback events.
	// The oldest entries are dropped first once the cap is reached.
	Capacity int `koanf:"capacity"`

	InMemory bool `koanf:"in_memory"`
}

// SecurityConfig configures rate limiting, input validation, and the facade.
type SecurityConfig struct {
	Level SecurityLevel `koanf:"level"`

	EnableRateLimit       bool `koanf:"enable_rate_limit"`
	EnableInputValidation bool `koanf:"enable_input_validation"`

	// Fixed-window limiter: MaxRequests admitted per Window per client.
	MaxRequests   int           `koanf:"max_requests"`
	Window        time.Duration `koanf:"window"`
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// Suspicious-activity heuristic: a client producing this many
	// suspicious payloads inside SuspicionWindow is flagged as probing.
	SuspicionThreshold int           `koanf:"suspicion_threshold"`
	SuspicionWindow    time.Duration `koanf:"suspicion_window"`

	// Field rules for the input validator.
	MaxTitleLength   int      `koanf:"max_title_length"`
	MaxContentLength int      `koanf:"max_content_length"`
	MaxFileSize      int64    `koanf:"max_file_size"`
	AllowedMimeTypes []string `koanf:"allowed_mime_types"`
}

// AuditConfig configures the audit event batch processor.
type AuditConfig struct {
	Enabled bool `koanf:"enabled"`

	// BatchSize triggers a flush once the queue reaches this length.
	BatchSize int `koanf:"batch_size"`

	// FlushInterval triggers a flush when no size trigger fired.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// WriteTimeout bounds a single bulk write to the sink.
	// A timeout is treated as a write failure and routed to fallback.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// RetentionDays is how long persisted events are kept. 0 disables cleanup.
	RetentionDays   int           `koanf:"retention_days"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with all default values applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8787,
			Timeout:           30 * time.Second,
			CORSOrigins:       []string{},
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Database: DatabaseConfig{
			Path:    "/data/sentinel.duckdb",
			Threads: 0,
		},
		Fallback: FallbackConfig{
			Path:     "/data/fallback",
			Capacity: 100,
			InMemory: false,
		},
		Security: SecurityConfig{
			Level:                 LevelMedium,
			EnableRateLimit:       true,
			EnableInputValidation: true,
			MaxRequests:           100,
			Window:                15 * time.Minute,
			SweepInterval:         time.Minute,
			SuspicionThreshold:    3,
			SuspicionWindow:       time.Minute,
			MaxTitleLength:        200,
			MaxContentLength:      50000,
			MaxFileSize:           10 << 20, // 10MB
			AllowedMimeTypes: []string{
				"application/pdf",
				"text/plain",
				"text/csv",
				"image/png",
				"image/jpeg",
				"image/gif",
			},
		},
		Audit: AuditConfig{
			Enabled:         true,
			BatchSize:       10,
			FlushInterval:   5 * time.Second,
			WriteTimeout:    5 * time.Second,
			RetentionDays:   90,
			CleanupInterval: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for internally inconsistent values.
func (c *Config) Validate() error {
	if !c.Security.Level.Valid() {
		return fmt.Errorf("security.level must be one of low, medium, high, critical; got %q", c.Security.Level)
	}
	if c.Security.MaxRequests <= 0 {
		return fmt.Errorf("security.max_requests must be positive; got %d", c.Security.MaxRequests)
	}
	if c.Security.Window <= 0 {
		return fmt.Errorf("security.window must be positive; got %s", c.Security.Window)
	}
	if c.Audit.BatchSize <= 0 {
		return fmt.Errorf("audit.batch_size must be positive; got %d", c.Audit.BatchSize)
	}
	if c.Audit.FlushInterval <= 0 {
		return fmt.Errorf("audit.flush_interval must be positive; got %s", c.Audit.FlushInterval)
	}
	if c.Audit.WriteTimeout <= 0 {
		return fmt.Errorf("audit.write_timeout must be positive; got %s", c.Audit.WriteTimeout)
	}
	if c.Fallback.Capacity <= 0 {
		return fmt.Errorf("fallback.capacity must be positive; got %d", c.Fallback.Capacity)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535; got %d", c.Server.Port)
	}
	if c.Security.EnableInputValidation && len(c.Security.AllowedMimeTypes) == 0 {
		return fmt.Errorf("security.allowed_mime_types must not be empty when input validation is enabled")
	}
	return nil
}
