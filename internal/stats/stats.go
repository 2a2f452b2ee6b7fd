// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package stats ingests call and participant records into the local
// store: paged history pulls for the conference-server family, live
// snapshot reconciliation for the call-bridge and call-control
// families, plus the push feeds (event-sink JSON and CDR XML). Every
// path is idempotent. Rows are keyed by the backend GUID and a stop
// stamp, once set, never moves.
package stats

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/tenantmatch"
	"github.com/confatlas/confatlas/internal/transport"
)

const (
	// lockExpiry bounds how long a crashed update blocks the next one.
	// The lock is refreshed after every page.
	lockExpiry = 30 * time.Minute

	defaultPageSize = 1000
	defaultSkew     = 5 * time.Minute
	defaultInterval = 5 * time.Minute

	// minCountedLeg is the shortest leg that still counts toward
	// statistics once its stop stamp is known.
	minCountedLeg = time.Minute
)

// ErrUpdateRunning is returned when another update holds the cluster
// lock. The caller has nothing to do; the running update covers it.
var ErrUpdateRunning = errors.New("stats: update already running for cluster")

// Ingestor pulls and receives call statistics for all clusters.
type Ingestor struct {
	db       *database.DB
	clusters *cluster.Service
	match    *tenantmatch.Engine
	deps     backends.Deps
	cfg      config.StatsConfig

	holder string
	now    func() time.Time
}

func New(db *database.DB, clusters *cluster.Service, match *tenantmatch.Engine, deps backends.Deps, cfg config.StatsConfig) *Ingestor {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.SkewWindow <= 0 {
		cfg.SkewWindow = defaultSkew
	}
	host, _ := os.Hostname()
	return &Ingestor{
		db:       db,
		clusters: clusters,
		match:    match,
		deps:     deps,
		cfg:      cfg,
		holder:   host + "/" + strconv.Itoa(os.Getpid()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Result summarizes one update run.
type Result struct {
	Calls  int
	Legs   int
	Closed int
}

// UpdateAll runs one update over every cluster. Clusters whose lock is
// held are skipped; other failures are collected and do not stop the
// remaining clusters.
func (in *Ingestor) UpdateAll(ctx context.Context, full bool) error {
	clusters, err := in.db.ListClusters(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range clusters {
		if _, err := in.UpdateCluster(ctx, c.ID, full); err != nil && !errors.Is(err, ErrUpdateRunning) {
			logging.Error().Err(err).Int64("cluster", c.ID).Msg("stats update failed")
			errs = append(errs, fmt.Errorf("cluster %d: %w", c.ID, err))
		}
	}
	return errors.Join(errs...)
}

// UpdateCluster runs one pull for the cluster. At most one update runs
// per cluster; when the lock is held ErrUpdateRunning is returned and
// nothing is touched. A full run ignores the saved cursor and scans
// history from the beginning.
func (in *Ingestor) UpdateCluster(ctx context.Context, clusterID int64, full bool) (*Result, error) {
	c, err := in.db.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	lockName := fmt.Sprintf("update_stats.%d", clusterID)
	if err := in.db.AcquireLock(ctx, lockName, in.holder, lockExpiry); err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			logging.Info().Int64("cluster", clusterID).Msg("stats update already running, skipping")
			return nil, ErrUpdateRunning
		}
		return nil, err
	}
	defer func() {
		if err := in.db.ReleaseLock(context.WithoutCancel(ctx), lockName, in.holder); err != nil {
			logging.Warn().Err(err).Str("lock", lockName).Msg("stats lock release failed")
		}
	}()

	provider, err := in.clusters.Reader(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	adapter, err := backends.New(provider, in.deps)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &Result{}
	switch c.Family {
	case models.FamilyConfServer:
		err = in.pullHistory(ctx, c, adapter, full, lockName, result)
	default:
		err = in.reconcileLive(ctx, c, adapter, result)
	}
	if err != nil {
		return result, err
	}

	metrics.CountIngest(clusterID, result.Calls, result.Legs)
	logging.Info().Int64("cluster", clusterID).Bool("full", full).
		Int("calls", result.Calls).Int("legs", result.Legs).
		Int("closed", result.Closed).Dur("took", time.Since(start)).
		Msg("stats update finished")
	return result, nil
}

// reconcileLive folds the backend's live call snapshot into the store.
// Calls open in the store but gone from the backend are closed; their
// stranded legs age out through the ghost reaper.
func (in *Ingestor) reconcileLive(ctx context.Context, c *models.Cluster, adapter backends.Adapter, result *Result) error {
	calls, err := adapter.Calls(ctx)
	if errors.Is(err, transport.ErrNotImplemented) {
		return nil
	}
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(calls))
	for _, call := range calls {
		call.ClusterID = c.ID
		seen[call.GUID] = true
		in.attributeCall(ctx, c, call)
		if err := in.storeCall(ctx, c.ID, call); err != nil {
			return err
		}
		result.Calls++

		legs, err := adapter.Participants(ctx, call.GUID)
		if err != nil {
			// the call may end between the two listings
			if errors.Is(err, transport.ErrNotImplemented) || transport.IsNotFound(err) {
				continue
			}
			return err
		}
		for _, leg := range legs {
			leg.ClusterID = c.ID
			leg.CallGUID = call.GUID
			if leg.TenantID == "" {
				leg.TenantID = call.TenantID
			}
			in.attributeLeg(ctx, c, leg)
			leg.ShouldCountStats = shouldCount(leg)
			if err := in.storeLeg(ctx, c.ID, leg); err != nil {
				return err
			}
			result.Legs++
		}
	}

	open, err := in.db.ListOpenCalls(ctx, c.ID)
	if err != nil {
		return err
	}
	now := in.now()
	for _, call := range open {
		if seen[call.GUID] {
			continue
		}
		if err := in.db.CloseCall(ctx, c.ID, call.GUID, now); err != nil {
			return err
		}
		result.Closed++
	}
	return nil
}

// attributeCall fills the call's tenant. An explicit backend tenant
// wins, then the mirrored VMR its name resolves to.
func (in *Ingestor) attributeCall(ctx context.Context, c *models.Cluster, call *models.Call) {
	m, err := in.match.Resolve(ctx, c, tenantmatch.Candidate{
		TenantID: call.TenantID,
		Name:     call.Name,
	})
	if err != nil {
		logging.Warn().Err(err).Str("call", call.GUID).Msg("call tenant match failed")
		return
	}
	if m != nil {
		call.TenantID = m.TenantID
	}
}

// attributeLeg fills the leg's tenant, falling back to the parent call
// when neither alias resolves.
func (in *Ingestor) attributeLeg(ctx context.Context, c *models.Cluster, leg *models.Leg) {
	m, err := in.match.Resolve(ctx, c, tenantmatch.Candidate{
		TenantID:    leg.TenantID,
		LocalAlias:  leg.LocalAlias,
		RemoteAlias: leg.RemoteAlias,
	})
	if err != nil {
		logging.Warn().Err(err).Str("leg", leg.GUID).Msg("leg tenant match failed")
		return
	}
	if m != nil {
		leg.TenantID = m.TenantID
		return
	}
	if leg.TenantID == "" && leg.CallGUID != "" {
		if call, err := in.db.GetCallByGUID(ctx, c.ID, leg.CallGUID); err == nil {
			leg.TenantID = call.TenantID
		}
	}
}

// shouldCount excludes presentation feeds and sub-minute blips from
// statistics rollups. Repeats of the same leg collapse on the GUID
// key, so duplicates never double count.
func shouldCount(l *models.Leg) bool {
	switch l.Protocol {
	case "presentation", "content", "cluster":
		return false
	}
	if !l.TSStop.IsZero() && l.TSStop.Sub(l.TSStart) < minCountedLeg {
		return false
	}
	return true
}

// storeCall upserts a call, keeping the first stop stamp. A record
// without a stop stamp never reopens a closed call.
func (in *Ingestor) storeCall(ctx context.Context, clusterID int64, call *models.Call) error {
	prev, err := in.db.GetCallByGUID(ctx, clusterID, call.GUID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if prev != nil && !prev.TSStop.IsZero() {
		if call.TSStop.IsZero() {
			return nil
		}
		call.TSStop = prev.TSStop
	}
	if !call.TSStop.IsZero() && call.Duration == 0 && !call.TSStart.IsZero() {
		call.Duration = call.TSStop.Sub(call.TSStart)
	}
	return in.db.UpsertCall(ctx, call)
}

// storeLeg upserts a leg with the same set-once stop semantics.
func (in *Ingestor) storeLeg(ctx context.Context, clusterID int64, leg *models.Leg) error {
	prev, err := in.db.GetLegByGUID(ctx, clusterID, leg.GUID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}
	if prev != nil && !prev.TSStop.IsZero() {
		if leg.TSStop.IsZero() {
			return nil
		}
		leg.TSStop = prev.TSStop
	}
	return in.db.UpsertLeg(ctx, leg)
}

// Updater periodically runs incremental updates across all clusters.
// It runs as a service under the supervisor.
type Updater struct {
	ingestor *Ingestor
	interval time.Duration
}

func NewUpdater(in *Ingestor, interval time.Duration) *Updater {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Updater{ingestor: in, interval: interval}
}

func (u *Updater) String() string { return "stats-updater" }

// Serve runs update passes until the context is cancelled.
func (u *Updater) Serve(ctx context.Context) error {
	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := u.ingestor.UpdateAll(ctx, false); err != nil {
				logging.Error().Err(err).Msg("periodic stats update failed")
			}
		}
	}
}
