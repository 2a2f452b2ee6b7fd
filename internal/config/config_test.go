// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/confatlas.duckdb", cfg.Database.Path)
	assert.Equal(t, 8417, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Hour, cfg.Sync.IncrementalWindow)
	assert.Equal(t, 30*time.Minute, cfg.Sync.LockExpiry)
	assert.Equal(t, 5*time.Minute, cfg.Stats.SkewWindow)
	assert.Equal(t, 1000, cfg.Stats.PageSize)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero port", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }},
		{"zero batch size", func(c *Config) { c.Sync.BatchSize = 0 }},
		{"negative incremental window", func(c *Config) { c.Sync.IncrementalWindow = -time.Hour }},
		{"short lock expiry", func(c *Config) { c.Sync.LockExpiry = time.Second }},
		{"zero skew window", func(c *Config) { c.Stats.SkewWindow = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.EmbeddedServer = false
			c.Events.URL = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
database:
  path: ` + filepath.Join(dir, "test.duckdb") + `
http:
  port: 9000
sync:
  batch_size: 50
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	// untouched values keep defaults
	assert.Equal(t, 15*time.Minute, cfg.Sync.Interval)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9000\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("CONFATLAS_HTTP_PORT", "9001")
	t.Setenv("CONFATLAS_LOGGING_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvTransformDropsUnknownKeys(t *testing.T) {
	assert.Equal(t, "http.port", envTransformFunc("CONFATLAS_HTTP_PORT"))
	assert.Equal(t, "sync.lock_expiry", envTransformFunc("CONFATLAS_SYNC_LOCK_EXPIRY"))
	assert.Equal(t, "", envTransformFunc("CONFATLAS_RANDOM"))
	assert.Equal(t, "", envTransformFunc("PATH"))
}

func TestCORSOriginsFromCommaSeparatedEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "nonexistent.yaml"))
	t.Setenv("CONFATLAS_HTTP_CORS_ORIGINS", "https://a.example.org, https://b.example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.org", "https://b.example.org"}, cfg.HTTP.CORSOrigins)
}
