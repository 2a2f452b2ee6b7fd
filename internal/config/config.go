// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package config loads and validates the Confatlas configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then CONFATLAS_-style environment variables. The highest layer wins.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for all Confatlas services.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	HTTP     HTTPConfig     `koanf:"http"`
	Sync     SyncConfig     `koanf:"sync"`
	Stats    StatsConfig    `koanf:"stats"`
	Tasks    TasksConfig    `koanf:"tasks"`
	Rooms    RoomsConfig    `koanf:"rooms"`
	Events   EventsConfig   `koanf:"events"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig configures the DuckDB mirror store.
type DatabaseConfig struct {
	// Path is the DuckDB database file, or ":memory:" for tests.
	Path string `koanf:"path" validate:"required"`

	// MaxMemory caps DuckDB memory usage, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads limits DuckDB worker threads. 0 means runtime.NumCPU().
	Threads int `koanf:"threads" validate:"gte=0"`
}

// HTTPConfig configures the API and webhook listener.
type HTTPConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gt=0,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitRequests per RateLimitWindow per client IP. 0 disables.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// SyncConfig configures the mirror sync engine.
type SyncConfig struct {
	// Interval between background sync rounds across all clusters.
	Interval time.Duration `koanf:"interval"`

	// IncrementalWindow is how far behind the last successful sync an
	// incremental pass filters by creation time.
	IncrementalWindow time.Duration `koanf:"incremental_window"`

	// LockExpiry bounds how long a cluster sync lock may be held before
	// another worker may steal it.
	LockExpiry time.Duration `koanf:"lock_expiry"`

	// BatchSize is the mirror write chunk size.
	BatchSize int `koanf:"batch_size" validate:"gt=0"`

	// CacheMaxAge is how recent a sync must be for mirror-backed reads.
	CacheMaxAge time.Duration `koanf:"cache_max_age"`
}

// StatsConfig configures history pulls and the ghost reaper.
type StatsConfig struct {
	Interval time.Duration `koanf:"interval"`

	// PageSize for paged history endpoints.
	PageSize int `koanf:"page_size" validate:"gt=0"`

	// SkewWindow holds the ingest cursor back from wall clock.
	SkewWindow time.Duration `koanf:"skew_window"`

	// ReaperInterval between ghost-call sweeps. 0 disables the reaper.
	ReaperInterval time.Duration `koanf:"reaper_interval"`
}

// TasksConfig configures the delayed task runner.
type TasksConfig struct {
	Workers int `koanf:"workers" validate:"gt=0"`

	// PollInterval between due-task scans.
	PollInterval time.Duration `koanf:"poll_interval"`

	// RetryDelay is the base delay between task retries.
	RetryDelay time.Duration `koanf:"retry_delay"`

	// MaxRetries per task before it is dropped into the error log.
	MaxRetries int `koanf:"max_retries" validate:"gte=0"`

	// DialoutPerSecond rate-limits outbound dial-out bursts.
	DialoutPerSecond float64 `koanf:"dialout_per_second" validate:"gte=0"`
}

// RoomsConfig configures the expired-room sweeper.
type RoomsConfig struct {
	// SweepInterval between expiry passes. 0 disables the sweeper.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// ExpiredGrace is how long after ts_stop a scheduled room lingers
	// when neither the customer nor the cluster configures a window.
	ExpiredGrace time.Duration `koanf:"expired_grace"`
}

// EventsConfig configures the NATS-backed event pipeline.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`

	// EmbeddedServer runs an in-process nats-server for standalone
	// deployments instead of connecting to an external broker.
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`

	DurableName string        `koanf:"durable_name"`
	RetryCount  int           `koanf:"retry_count" validate:"gte=0"`
	RetryDelay  time.Duration `koanf:"retry_delay"`

	CloseTimeout time.Duration `koanf:"close_timeout"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints plus the cross-field rules the
// struct tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	if c.Sync.IncrementalWindow <= 0 {
		return fmt.Errorf("config validation: sync.incremental_window must be positive")
	}
	if c.Sync.LockExpiry < time.Minute {
		return fmt.Errorf("config validation: sync.lock_expiry must be at least 1m")
	}
	if c.Stats.SkewWindow <= 0 {
		return fmt.Errorf("config validation: stats.skew_window must be positive")
	}
	if c.Events.Enabled && !c.Events.EmbeddedServer && c.Events.URL == "" {
		return fmt.Errorf("config validation: events.url is required when the embedded server is disabled")
	}
	return nil
}
