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
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

const (
	// ghostLegAge is how long a leg may stay open before the reaper
	// concludes its end record was lost.
	ghostLegAge = 7 * 24 * time.Hour

	// ghostBackdate keeps the forced stop stamp out of the skew
	// window so history pulls do not race it.
	ghostBackdate = 3 * time.Minute

	// strandedCallAge is when an empty call-bridge call gets hung up.
	strandedCallAge = time.Hour
)

// Reaper force-closes rows whose end record was lost and hangs up
// call-bridge calls that keep running with nobody in them. It runs as
// a service under the supervisor.
type Reaper struct {
	ingestor *Ingestor
	interval time.Duration
}

// NewReaper builds the ghost sweep service. A zero interval disables
// it; Serve then blocks until shutdown.
func NewReaper(in *Ingestor, interval time.Duration) *Reaper {
	return &Reaper{ingestor: in, interval: interval}
}

func (r *Reaper) String() string { return "ghost-reaper" }

// Serve runs sweep passes until the context is cancelled.
func (r *Reaper) Serve(ctx context.Context) error {
	if r.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				logging.Error().Err(err).Msg("ghost sweep failed")
			}
		}
	}
}

// SweepOnce walks every cluster once.
func (r *Reaper) SweepOnce(ctx context.Context) error {
	clusters, err := r.ingestor.db.ListClusters(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range clusters {
		if err := r.sweepCluster(ctx, c); err != nil {
			logging.Error().Err(err).Int64("cluster", c.ID).Msg("ghost sweep failed for cluster")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Reaper) sweepCluster(ctx context.Context, c *models.Cluster) error {
	in := r.ingestor
	now := in.now()

	closed, err := in.db.CloseGhostLegs(ctx, c.ID, now.Add(-ghostLegAge), now.Add(-ghostBackdate))
	if err != nil {
		return err
	}
	if closed > 0 {
		logging.Info().Int64("cluster", c.ID).Int64("legs", closed).Msg("force-closed ghost legs")
	}

	// same age rule for calls: an end record that old is never coming
	open, err := in.db.ListOpenCalls(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, call := range open {
		if call.TSStart.Before(now.Add(-ghostLegAge)) {
			if err := in.db.CloseCall(ctx, c.ID, call.GUID, now.Add(-ghostBackdate)); err != nil {
				return err
			}
		}
	}

	if c.Family == models.FamilyCallBridge {
		return r.hangupStranded(ctx, c, open, now)
	}
	return nil
}

// hangupStranded disconnects call-bridge calls that have run for over
// an hour with zero legs left. The bridge keeps such calls alive
// indefinitely when the last leg drops uncleanly.
func (r *Reaper) hangupStranded(ctx context.Context, c *models.Cluster, open []*models.Call, now time.Time) error {
	in := r.ingestor

	var adapter backends.Adapter
	for _, call := range open {
		if !call.TSStart.Before(now.Add(-strandedCallAge)) {
			continue
		}
		legs, err := in.db.CountOpenLegs(ctx, call.GUID)
		if err != nil {
			return err
		}
		if legs > 0 {
			continue
		}

		if adapter == nil {
			provider, err := in.clusters.Writer(ctx, c.ID)
			if err != nil {
				return err
			}
			if adapter, err = backends.New(provider, in.deps); err != nil {
				return err
			}
		}
		err = adapter.HangupCall(ctx, call.GUID)
		switch {
		case err == nil:
			logging.Info().Int64("cluster", c.ID).Str("call", call.GUID).Msg("hung up stranded call")
		case transport.IsNotFound(err):
			// already gone on the backend, just close our row
		case errors.Is(err, transport.ErrNotImplemented):
			return nil
		default:
			return err
		}
		if err := in.db.CloseCall(ctx, c.ID, call.GUID, now); err != nil {
			return err
		}
	}
	return nil
}
