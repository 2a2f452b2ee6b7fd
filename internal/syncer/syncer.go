// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package syncer pulls backend state into the local mirror. A full sync
// scans everything and tombstones rows the scan did not touch; an
// incremental sync only refreshes recently changed objects and leaves
// tombstones alone.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

const (
	// lockExpiry bounds how long a crashed sync blocks the next one.
	// The lock is refreshed after every sub-step.
	lockExpiry = 30 * time.Minute

	// incrementalWindow is how far behind the last successful sync an
	// incremental run reaches.
	incrementalWindow = 5 * time.Hour

	// tombstoneGrace keeps rows alive that were touched shortly before
	// the sync started.
	tombstoneGrace = 5 * time.Minute

	// pageSize is the listing page size against the backends.
	pageSize = 500

	cursorSource = "mirror"
)

// ErrSyncRunning is returned when another sync holds the cluster lock.
// The caller has nothing to do; the running sync covers it.
var ErrSyncRunning = errors.New("syncer: sync already running for cluster")

// Invalidator is anything whose caches must flush after mirror writes.
type Invalidator interface {
	Invalidate()
}

// Engine synchronizes clusters into the mirror.
type Engine struct {
	db       *database.DB
	clusters *cluster.Service
	deps     backends.Deps

	// invalidate flushes match caches after the mirror changed.
	invalidate []Invalidator

	holder string
}

func New(db *database.DB, clusters *cluster.Service, deps backends.Deps, invalidate ...Invalidator) *Engine {
	host, _ := os.Hostname()
	return &Engine{
		db:         db,
		clusters:   clusters,
		deps:       deps,
		invalidate: invalidate,
		holder:     host + "/" + strconv.Itoa(os.Getpid()),
	}
}

// Result summarizes one sync run.
type Result struct {
	Users      int
	Spaces     int
	Aliases    int
	Themes     int
	Tombstones int64
}

// SyncCluster runs one sync for the cluster. At most one sync runs per
// cluster; when the lock is held ErrSyncRunning is returned and nothing
// is touched.
func (e *Engine) SyncCluster(ctx context.Context, clusterID int64, incremental bool) (*Result, error) {
	c, err := e.db.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	lockName := fmt.Sprintf("sync_cluster.%d", clusterID)
	if err := e.db.AcquireLock(ctx, lockName, e.holder, lockExpiry); err != nil {
		if errors.Is(err, database.ErrLockHeld) {
			logging.Info().Int64("cluster", clusterID).Msg("sync already running, skipping")
			return nil, ErrSyncRunning
		}
		return nil, err
	}
	defer func() {
		if err := e.db.ReleaseLock(context.WithoutCancel(ctx), lockName, e.holder); err != nil {
			logging.Warn().Err(err).Str("lock", lockName).Msg("sync lock release failed")
		}
	}()

	start := time.Now().UTC()
	var since time.Time
	if incremental {
		cursor, err := e.db.GetSyncCursor(ctx, clusterID, cursorSource)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		if cursor != nil {
			since = cursor.LastEnd.Add(-incrementalWindow)
		}
	}

	providers, err := e.clusters.Members(ctx, clusterID)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for _, p := range providers {
		if !p.Enabled {
			continue
		}
		if err := e.syncProvider(ctx, c, p, since, incremental, lockName, result); err != nil {
			return result, err
		}
	}

	if !incremental {
		cutoff := start.Add(-tombstoneGrace)
		for _, p := range providers {
			if !p.Enabled {
				continue
			}
			flips, err := e.db.TombstoneStale(ctx, p.ID, cutoff)
			if err != nil {
				return result, err
			}
			for table, n := range flips {
				result.Tombstones += n
				if n > 0 {
					logging.Info().Int64("provider", p.ID).Str("table", table).
						Int64("rows", n).Msg("tombstoned stale mirror rows")
				}
			}
		}
	}

	if err := e.db.SaveSyncCursor(ctx, &models.SyncCursor{
		ClusterID: clusterID, Source: cursorSource, LastEnd: start,
	}); err != nil {
		return result, err
	}
	for _, inv := range e.invalidate {
		inv.Invalidate()
	}

	logging.Info().Int64("cluster", clusterID).Bool("incremental", incremental).
		Int("spaces", result.Spaces).Int("users", result.Users).
		Int64("tombstones", result.Tombstones).
		Dur("took", time.Since(start)).Msg("cluster sync finished")
	return result, nil
}

// syncProvider runs the ordered sub-steps for one node: version probe,
// users, spaces (with aliases and auto-participants for the
// conference-server family), themes on full syncs, then a short re-scan
// of spaces changed during the run.
func (e *Engine) syncProvider(ctx context.Context, c *models.Cluster, p *models.Provider, since time.Time, incremental bool, lockName string, result *Result) error {
	adapter, err := backends.New(p, e.deps)
	if err != nil {
		return err
	}

	if version, err := adapter.Version(ctx); err == nil && version != "" {
		if version != p.SoftwareVersion {
			if err := e.db.SaveProviderVersion(ctx, p.ID, version); err != nil {
				return err
			}
		}
	} else if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		return err
	}
	if err := e.refresh(ctx, lockName); err != nil {
		return err
	}

	if err := e.syncUsers(ctx, adapter, result); err != nil {
		return err
	}
	if err := e.refresh(ctx, lockName); err != nil {
		return err
	}

	if err := e.syncSpaces(ctx, adapter, since, result); err != nil {
		return err
	}
	if err := e.refresh(ctx, lockName); err != nil {
		return err
	}

	if !incremental {
		if err := e.syncThemes(ctx, adapter, result); err != nil {
			return err
		}
		if err := e.refresh(ctx, lockName); err != nil {
			return err
		}
	}

	// spaces created while this sync ran may reference just-added
	// aliases; a narrow second pass picks them up
	rescanSince := time.Now().UTC().Add(-incrementalWindow)
	if err := e.syncSpaces(ctx, adapter, rescanSince, result); err != nil {
		return err
	}
	return e.refresh(ctx, lockName)
}

func (e *Engine) refresh(ctx context.Context, lockName string) error {
	return e.db.RefreshLock(ctx, lockName, e.holder, lockExpiry)
}

func (e *Engine) syncUsers(ctx context.Context, adapter backends.Adapter, result *Result) error {
	now := time.Now().UTC()
	for offset := 0; ; {
		users, total, err := adapter.FindUsers(ctx, backends.UserQuery{Offset: offset, Limit: pageSize})
		if errors.Is(err, transport.ErrNotImplemented) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, u := range users {
			u.LastSynced = now
			if err := e.db.UpsertUser(ctx, u); err != nil {
				return err
			}
			result.Users++
		}
		offset += len(users)
		if len(users) == 0 || offset >= total {
			return nil
		}
	}
}

func (e *Engine) syncSpaces(ctx context.Context, adapter backends.Adapter, since time.Time, result *Result) error {
	now := time.Now().UTC()
	confServer := adapter.Family() == models.FamilyConfServer
	for offset := 0; ; {
		spaces, total, err := adapter.FindSpaces(ctx, backends.SpaceQuery{
			Offset: offset, Limit: pageSize, Since: since,
		})
		if errors.Is(err, transport.ErrNotImplemented) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, s := range spaces {
			s.LastSynced = now
			if err := e.db.UpsertSpace(ctx, s); err != nil {
				return err
			}
			result.Spaces++
			if confServer {
				if err := e.syncSpaceChildren(ctx, adapter, s, now, result); err != nil {
					return err
				}
			}
		}
		offset += len(spaces)
		if len(spaces) == 0 || offset >= total {
			return nil
		}
	}
}

// syncSpaceChildren mirrors the aliases and auto-participants of one
// conference-server space.
func (e *Engine) syncSpaceChildren(ctx context.Context, adapter backends.Adapter, s *models.Space, now time.Time, result *Result) error {
	aliases, err := adapter.ListAliases(ctx, s.ExternalID)
	if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		return err
	}
	for _, a := range aliases {
		a.SpaceID = s.ID
		a.LastSynced = now
		if err := e.db.UpsertSpaceAlias(ctx, a); err != nil {
			return err
		}
		result.Aliases++
	}

	participants, err := adapter.ListAutoParticipants(ctx, s.ExternalID)
	if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		return err
	}
	for _, p := range participants {
		p.SpaceID = s.ID
		p.LastSynced = now
		if err := e.db.UpsertAutoParticipant(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncThemes(ctx context.Context, adapter backends.Adapter, result *Result) error {
	themes, err := adapter.Themes(ctx)
	if errors.Is(err, transport.ErrNotImplemented) {
		return nil
	}
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range themes {
		t.LastSynced = now
		if err := e.db.UpsertTheme(ctx, t); err != nil {
			return err
		}
		result.Themes++
	}
	return nil
}
