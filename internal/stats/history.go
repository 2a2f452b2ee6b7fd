// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package stats

import (
	"context"
	"errors"
	"time"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

const (
	sourceConferences  = "history_conference"
	sourceParticipants = "history_participant"
)

// pullHistory drains both history endpoints through their cursors.
func (in *Ingestor) pullHistory(ctx context.Context, c *models.Cluster, adapter backends.Adapter, full bool, lockName string, result *Result) error {
	err := in.pullSource(ctx, c, sourceConferences, full, lockName,
		adapter.HistoryConferences,
		func(page *backends.HistoryPage) (int, error) {
			for _, call := range page.Calls {
				call.ClusterID = c.ID
				in.attributeCall(ctx, c, call)
				if err := in.storeCall(ctx, c.ID, call); err != nil {
					return 0, err
				}
				result.Calls++
			}
			return len(page.Calls), nil
		})
	if err != nil {
		return err
	}
	return in.pullSource(ctx, c, sourceParticipants, full, lockName,
		adapter.HistoryParticipants,
		func(page *backends.HistoryPage) (int, error) {
			for _, leg := range page.Legs {
				leg.ClusterID = c.ID
				in.attributeLeg(ctx, c, leg)
				leg.ShouldCountStats = shouldCount(leg)
				if err := in.storeLeg(ctx, c.ID, leg); err != nil {
					return 0, err
				}
				result.Legs++
			}
			return len(page.Legs), nil
		})
}

// pullSource drains one end-time-ordered endpoint. The cursor only
// ever advances to the skew horizon; records newer than that are
// pulled again on the next run, so records a lagging node reports
// late are never skipped. A page that does not move past the cursor
// advances the in-page offset instead.
func (in *Ingestor) pullSource(ctx context.Context, c *models.Cluster, source string, full bool, lockName string,
	fetch func(ctx context.Context, since time.Time, offset, limit int) (*backends.HistoryPage, error),
	store func(*backends.HistoryPage) (int, error),
) error {
	var since time.Time
	offset := 0
	if !full {
		cursor, err := in.db.GetSyncCursor(ctx, c.ID, source)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return err
		}
		if cursor != nil {
			since = cursor.LastEnd
			offset = cursor.Offset
		}
	}
	horizon := in.now().Add(-in.cfg.SkewWindow)

	for {
		page, err := fetch(ctx, since, offset, in.cfg.PageSize)
		if errors.Is(err, transport.ErrNotImplemented) {
			return nil
		}
		if err != nil {
			return err
		}
		n, err := store(page)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}

		done := false
		switch {
		case !page.MaxEnd.After(since):
			offset += n
		case !page.MaxEnd.Before(horizon):
			// the tail of the page is inside the skew window
			since, offset = horizon, 0
			done = true
		default:
			since, offset = page.MaxEnd, 0
		}
		if err := in.db.SaveSyncCursor(ctx, &models.SyncCursor{
			ClusterID: c.ID, Source: source, LastEnd: since, Offset: offset,
		}); err != nil {
			return err
		}
		if err := in.db.RefreshLock(ctx, lockName, in.holder, lockExpiry); err != nil {
			return err
		}
		if done || n < in.cfg.PageSize {
			break
		}
	}
	return nil
}
