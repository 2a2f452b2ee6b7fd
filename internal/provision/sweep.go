// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package provision

import (
	"context"
	"time"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
)

// endlessRetention is how long an endlessly recurring room may sit idle
// before the sweep removes it anyway.
const endlessRetention = 365 * 24 * time.Hour

// Sweeper periodically removes backend spaces of meetings long past
// their stop time. It runs as a service under the supervisor.
type Sweeper struct {
	svc *Service
	cfg config.RoomsConfig
}

// NewSweeper builds the expiry sweep service.
func NewSweeper(svc *Service, cfg config.RoomsConfig) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.ExpiredGrace <= 0 {
		cfg.ExpiredGrace = 2 * time.Hour
	}
	return &Sweeper{svc: svc, cfg: cfg}
}

func (sw *Sweeper) String() string { return "room-sweeper" }

// Serve runs sweep passes until the context is cancelled.
func (sw *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(sw.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := sw.SweepOnce(ctx); err != nil {
				logging.Error().Err(err).Msg("expiry sweep failed")
			} else if n > 0 {
				logging.Info().Int("removed", n).Msg("expiry sweep done")
			}
		}
	}
}

// SweepOnce walks every cluster and removes expired rooms. It returns
// how many backend spaces were taken down.
func (sw *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	clusters, err := sw.svc.db.ListClusters(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, c := range clusters {
		n, err := sw.sweepCluster(ctx, c)
		removed += n
		if err != nil {
			logging.Warn().Err(err).Int64("cluster", c.ID).
				Msg("expiry sweep skipped cluster")
		}
	}
	return removed, nil
}

func (sw *Sweeper) sweepCluster(ctx context.Context, c *models.Cluster) (int, error) {
	now := sw.svc.now().UTC()
	expired, err := sw.svc.db.ListExpiredMeetings(ctx, c.ID, now, 0)
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	// One call snapshot per cluster; rooms with live legs are left
	// alone until the next pass.
	busy := map[string]bool{}
	cl := sw.svc.clustered(c, 0)
	if calls, err := cl.Calls(ctx); err == nil {
		for _, call := range calls {
			if call.Active() && call.LegCount > 0 {
				busy[call.SpaceID] = true
			}
		}
	} else {
		return 0, err
	}

	customers := map[int64]*models.Customer{}
	removed := 0
	for _, m := range expired {
		customer := customers[m.CustomerID]
		if customer == nil {
			if customer, err = sw.svc.db.GetCustomer(ctx, m.CustomerID); err != nil {
				logging.Warn().Err(err).Int64("meeting", m.ID).Msg("sweep lost customer")
				continue
			}
			customers[m.CustomerID] = customer
		}
		if !sw.shouldRemove(ctx, c, customer, m, now, busy) {
			continue
		}
		if err := sw.svc.unbookBackend(ctx, m); err != nil {
			logging.Warn().Err(err).Int64("meeting", m.ID).Msg("sweep backend removal failed")
			continue
		}
		if err := sw.svc.db.UpdateMeeting(ctx, m); err != nil {
			return removed, err
		}
		removed++
		logging.Info().Int64("meeting", m.ID).Str("ref", m.ProviderRef2).
			Msg("expired room removed")
	}
	return removed, nil
}

func (sw *Sweeper) shouldRemove(ctx context.Context, c *models.Cluster, customer *models.Customer, m *models.Meeting, now time.Time, busy map[string]bool) bool {
	if busy[m.ProviderRef2] {
		return false
	}

	grace := customer.RemoveExpiredRooms
	if grace == 0 {
		if settings, err := sw.svc.clusters.Settings(ctx, c, customer.ID); err == nil {
			grace = settings.RemoveExpiredRooms
		}
	}
	if grace == 0 {
		grace = sw.cfg.ExpiredGrace
	}
	if now.Before(m.TSStop.Add(grace)) {
		return false
	}

	// Rooms of an endless series stay provisioned; only a year of
	// disuse gets them cleaned up.
	if m.IsRecurring() {
		if r, err := sw.svc.db.GetRecurringMeeting(ctx, m.RecurringMeetingID); err == nil &&
			r.Endless() && now.Sub(m.TSStop) < endlessRetention {
			return false
		}
	}

	// A backend-side auto-remove timestamp wins over the grace window.
	if m.ProviderRef2 != "" {
		cl := sw.svc.clustered(c, customer.ID)
		if space, err := cl.GetSpace(ctx, m.ProviderRef2, true); err == nil &&
			!space.TSAutoRemove.IsZero() && now.Before(space.TSAutoRemove) {
			return false
		}
	}
	return true
}
