// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/confatlas/config.yaml",
	"/etc/confatlas/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces environment overrides, e.g. CONFATLAS_HTTP_PORT.
const envPrefix = "CONFATLAS_"

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/confatlas.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		HTTP: HTTPConfig{
			Host:              "0.0.0.0",
			Port:              8417,
			Timeout:           30 * time.Second,
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Sync: SyncConfig{
			Interval:          15 * time.Minute,
			IncrementalWindow: 5 * time.Hour,
			LockExpiry:        30 * time.Minute,
			BatchSize:         1000,
			CacheMaxAge:       3 * time.Hour,
		},
		Stats: StatsConfig{
			Interval:       5 * time.Minute,
			PageSize:       1000,
			SkewWindow:     5 * time.Minute,
			ReaperInterval: time.Hour,
		},
		Tasks: TasksConfig{
			Workers:          4,
			PollInterval:     5 * time.Second,
			RetryDelay:       15 * time.Second,
			MaxRetries:       3,
			DialoutPerSecond: 2,
		},
		Rooms: RoomsConfig{
			SweepInterval: 15 * time.Minute,
			ExpiredGrace:  2 * time.Hour,
		},
		Events: EventsConfig{
			Enabled:        true,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			DurableName:    "confatlas-events",
			RetryCount:     3,
			RetryDelay:     100 * time.Millisecond,
			CloseTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration with layered sources:
//  1. built-in defaults
//  2. optional YAML config file
//  3. CONFATLAS_-prefixed environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// CONFATLAS_SYNC_LOCK_EXPIRY -> sync.lock_expiry
	envProvider := env.Provider(envPrefix, ".", envTransformFunc)
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
		return nil, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
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

// sliceConfigPaths are parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"http.cors_origins",
}

// processSliceFields converts comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// sectionPrefixes maps the first env token to a config section. Everything
// after the section token becomes one snake_case key within the section.
var sectionPrefixes = []string{
	"database", "http", "sync", "stats", "tasks", "rooms", "events", "logging",
}

// envTransformFunc maps CONFATLAS_SECTION_SOME_KEY to section.some_key.
// Unrecognized variables are dropped so stray environment noise cannot
// leak into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))

	for _, section := range sectionPrefixes {
		if strings.HasPrefix(key, section+"_") {
			return section + "." + strings.TrimPrefix(key, section+"_")
		}
	}
	return ""
}
