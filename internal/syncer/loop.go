// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
)

// defaultSyncInterval applies when the config leaves the loop interval
// unset.
const defaultSyncInterval = 15 * time.Minute

// SyncAll runs one pass over every cluster. Clusters whose lock is held
// are skipped; other failures are collected and do not stop the
// remaining clusters.
func (e *Engine) SyncAll(ctx context.Context, incremental bool) error {
	clusters, err := e.db.ListClusters(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range clusters {
		_, err := e.SyncCluster(ctx, c.ID, incremental)
		switch {
		case errors.Is(err, ErrSyncRunning):
		case err != nil:
			metrics.SyncRuns.WithLabelValues(c.Title, "error").Inc()
			logging.Error().Err(err).Int64("cluster", c.ID).Msg("cluster sync failed")
			errs = append(errs, fmt.Errorf("cluster %d: %w", c.ID, err))
		default:
			metrics.SyncRuns.WithLabelValues(c.Title, "ok").Inc()
		}
	}
	return errors.Join(errs...)
}

// Loop periodically refreshes the mirror for all clusters. Every pass
// is incremental; full syncs are run on demand through the CLI.
// It runs as a service under the supervisor.
type Loop struct {
	engine   *Engine
	interval time.Duration
}

func NewLoop(e *Engine, cfg config.SyncConfig) *Loop {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Loop{engine: e, interval: interval}
}

func (l *Loop) String() string { return "mirror-sync" }

// Serve runs sync passes until the context is cancelled.
func (l *Loop) Serve(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.engine.SyncAll(ctx, true); err != nil {
				logging.Error().Err(err).Msg("periodic mirror sync failed")
			}
		}
	}
}
