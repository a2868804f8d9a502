// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sentinel/config.yaml",
	"/etc/sentinel/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps SENTINEL_* environment variables to koanf config paths.
// Only mapped variables are honored; everything else in the environment is
// ignored so unrelated variables cannot clobber nested keys.
var envMappings = map[string]string{
	"sentinel_host":                 "server.host",
	"sentinel_port":                 "server.port",
	"sentinel_timeout":              "server.timeout",
	"sentinel_cors_origins":         "server.cors_origins",
	"sentinel_http_rate_limit":      "server.rate_limit_requests",
	"sentinel_http_rate_window":     "server.rate_limit_window",
	"sentinel_http_rate_disabled":   "server.rate_limit_disabled",
	"sentinel_db_path":              "database.path",
	"sentinel_db_threads":           "database.threads",
	"sentinel_fallback_path":        "fallback.path",
	"sentinel_fallback_capacity":    "fallback.capacity",
	"sentinel_fallback_in_memory":   "fallback.in_memory",
	"sentinel_security_level":       "security.level",
	"sentinel_enable_rate_limit":    "security.enable_rate_limit",
	"sentinel_enable_validation":    "security.enable_input_validation",
	"sentinel_max_requests":         "security.max_requests",
	"sentinel_window":               "security.window",
	"sentinel_sweep_interval":       "security.sweep_interval",
	"sentinel_suspicion_threshold":  "security.suspicion_threshold",
	"sentinel_suspicion_window":     "security.suspicion_window",
	"sentinel_max_title_length":     "security.max_title_length",
	"sentinel_max_content_length":   "security.max_content_length",
	"sentinel_max_file_size":        "security.max_file_size",
	"sentinel_allowed_mime_types":   "security.allowed_mime_types",
	"sentinel_audit_enabled":        "audit.enabled",
	"sentinel_audit_batch_size":     "audit.batch_size",
	"sentinel_audit_flush_interval": "audit.flush_interval",
	"sentinel_audit_write_timeout":  "audit.write_timeout",
	"sentinel_retention_days":       "audit.retention_days",
	"sentinel_cleanup_interval":     "audit.cleanup_interval",
	"sentinel_log_level":            "logging.level",
	"sentinel_log_format":           "logging.format",
	"sentinel_log_caller":           "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Example: SENTINEL_AUDIT_BATCH_SIZE -> audit.batch_size.
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToLower(key)]; ok {
		return path
	}
	return "" // unmapped variables are dropped
}

// sliceConfigPaths lists config paths parsed as comma-separated slices when
// supplied via environment variables.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"security.allowed_mime_types",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars come in as plain strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		str, ok := val.(string)
		if !ok {
			return fmt.Errorf("unexpected type %T for slice field %s", val, path)
		}

		var parts []string
		for _, item := range strings.Split(str, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set slice field %s: %w", path, err)
		}
	}
	return nil
}
