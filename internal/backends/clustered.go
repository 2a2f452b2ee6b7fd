// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"sync"
	"time"

	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// mirrorMaxAge is how recent the last sync must be before reads are
// answered from the mirror.
const mirrorMaxAge = 3 * time.Hour

// Clustered binds the adapter contract to a whole cluster: one random
// enabled member serves each call, reads that span the cluster fan out
// and merge, and mirror-backed reads answer locally when a recent sync
// exists.
type Clustered struct {
	Cluster *models.Cluster

	clusters *cluster.Service
	db       *database.DB
	deps     Deps

	mu       sync.Mutex
	adapters map[int64]Adapter
}

func NewClustered(c *models.Cluster, clusters *cluster.Service, db *database.DB, deps Deps) *Clustered {
	return &Clustered{
		Cluster:  c,
		clusters: clusters,
		db:       db,
		deps:     deps,
		adapters: make(map[int64]Adapter),
	}
}

// Adapter returns the cached per-node adapter for a provider.
func (cl *Clustered) Adapter(p *models.Provider) (Adapter, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if a, ok := cl.adapters[p.ID]; ok {
		return a, nil
	}
	a, err := New(p, cl.deps)
	if err != nil {
		return nil, err
	}
	cl.adapters[p.ID] = a
	return a, nil
}

// Pick selects the member adapter one call should target.
func (cl *Clustered) Pick(ctx context.Context) (Adapter, error) {
	p, err := cl.clusters.Writer(ctx, cl.Cluster.ID)
	if err != nil {
		return nil, err
	}
	return cl.Adapter(p)
}

// members returns adapters for every conferencing node.
func (cl *Clustered) members(ctx context.Context) ([]Adapter, error) {
	providers, err := cl.clusters.Members(ctx, cl.Cluster.ID)
	if err != nil {
		return nil, err
	}
	out := make([]Adapter, 0, len(providers))
	for _, p := range providers {
		a, err := cl.Adapter(p)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (cl *Clustered) providerIDs(ctx context.Context) ([]int64, error) {
	providers, err := cl.clusters.Members(ctx, cl.Cluster.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

// useMirror reports whether a read may be answered from the mirror:
// the caller allows it, the cluster opts in, and a recent sync exists.
func (cl *Clustered) useMirror(ctx context.Context, allowCached bool, customerID int64) bool {
	if !allowCached {
		return false
	}
	settings, err := cl.clusters.Settings(ctx, cl.Cluster, customerID)
	if err != nil || !settings.UseLocalDatabase {
		return false
	}
	fresh, err := cl.db.MirrorFresh(ctx, cl.Cluster.ID, mirrorMaxAge)
	if err != nil {
		logging.Warn().Err(err).Int64("cluster", cl.Cluster.ID).Msg("mirror freshness check failed")
		return false
	}
	return fresh
}

// FindSpaces searches spaces, from the mirror when allowed and fresh,
// otherwise live against one member.
func (cl *Clustered) FindSpaces(ctx context.Context, q SpaceQuery) ([]*models.Space, int, error) {
	if cl.useMirror(ctx, q.AllowCached, cl.deps.CustomerID) {
		ids, err := cl.providerIDs(ctx)
		if err != nil {
			return nil, 0, err
		}
		limit := q.Limit
		if limit <= 0 {
			limit = 100
		}
		spaces, err := cl.db.SearchActiveSpaces(ctx, ids, q.Tenant, q.Query, limit)
		if err != nil {
			return nil, 0, err
		}
		return spaces, len(spaces), nil
	}
	a, err := cl.Pick(ctx)
	if err != nil {
		return nil, 0, err
	}
	return a.FindSpaces(ctx, q)
}

// GetSpace reads one space, from the mirror when allowed.
func (cl *Clustered) GetSpace(ctx context.Context, externalID string, allowCached bool) (*models.Space, error) {
	if cl.useMirror(ctx, allowCached, cl.deps.CustomerID) {
		ids, err := cl.providerIDs(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			s, err := cl.db.GetSpaceByExternalID(ctx, id, externalID)
			if err == nil {
				return s, nil
			}
		}
	}
	a, err := cl.Pick(ctx)
	if err != nil {
		return nil, err
	}
	s, err := a.GetSpace(ctx, externalID)
	if err != nil {
		return nil, err
	}
	cl.refreshMirror(ctx, s)
	return s, nil
}

// AddSpace creates the space on one member. tryIncreaseNumber retries
// with incremented uri / call-id on identifier collisions.
func (cl *Clustered) AddSpace(ctx context.Context, space *models.Space, tryIncreaseNumber bool) (string, error) {
	a, err := cl.Pick(ctx)
	if err != nil {
		return "", err
	}

	var id string
	if tryIncreaseNumber {
		fields := map[string]string{}
		if space.URI != "" {
			fields["uri"] = space.URI
		}
		if space.CallID != "" {
			fields["call_id"] = space.CallID
		}
		id, err = FindFreeNumber(ctx, fields, func(ctx context.Context, fields map[string]string) (string, error) {
			candidate := *space
			if v, ok := fields["uri"]; ok {
				candidate.URI = v
			}
			if v, ok := fields["call_id"]; ok {
				candidate.CallID = v
			}
			createdID, err := a.AddSpace(ctx, &candidate)
			if err == nil {
				*space = candidate
			}
			return createdID, err
		})
	} else {
		id, err = a.AddSpace(ctx, space)
	}
	if err != nil {
		return "", err
	}

	space.ExternalID = id
	space.ProviderID = a.Provider().ID
	cl.refreshMirror(ctx, space)
	return id, nil
}

// UpdateSpace patches the backend space, then refreshes the mirror row.
func (cl *Clustered) UpdateSpace(ctx context.Context, externalID string, patch SpacePatch) error {
	a, err := cl.Pick(ctx)
	if err != nil {
		return err
	}
	if err := a.UpdateSpace(ctx, externalID, patch); err != nil {
		return err
	}
	s, err := a.GetSpace(ctx, externalID)
	if err != nil {
		logging.Warn().Err(err).Str("space", externalID).Msg("mirror refresh read failed after update")
		return nil
	}
	cl.refreshMirror(ctx, s)
	return nil
}

// DeleteSpace removes the backend space. A missing space counts as
// deleted. The mirror row is dropped either way.
func (cl *Clustered) DeleteSpace(ctx context.Context, externalID string) error {
	a, err := cl.Pick(ctx)
	if err != nil {
		return err
	}
	if err := a.DeleteSpace(ctx, externalID); err != nil && !transport.IsNotFound(err) {
		return err
	}
	ids, err := cl.providerIDs(ctx)
	if err != nil {
		return err
	}
	for _, pid := range ids {
		if s, err := cl.db.GetSpaceByExternalID(ctx, pid, externalID); err == nil {
			if err := cl.db.DeleteSpace(ctx, s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cl *Clustered) refreshMirror(ctx context.Context, s *models.Space) {
	if s.ProviderID == 0 || s.ExternalID == "" {
		return
	}
	s.LastSynced = time.Now().UTC()
	if err := cl.db.UpsertSpace(ctx, s); err != nil {
		logging.Warn().Err(err).Str("space", s.ExternalID).Msg("mirror refresh failed")
	}
}

// Calls merges live calls across every member. Per-node failures are
// logged and skipped as long as at least one node answers.
func (cl *Clustered) Calls(ctx context.Context) ([]*models.Call, error) {
	adapters, err := cl.members(ctx)
	if err != nil {
		return nil, err
	}
	var (
		merged  []*models.Call
		seen    = map[string]bool{}
		lastErr error
		ok      bool
	)
	for _, a := range adapters {
		calls, err := a.Calls(ctx)
		if err != nil {
			logging.Warn().Err(err).Int64("provider", a.Provider().ID).Msg("member call listing failed")
			lastErr = err
			continue
		}
		ok = true
		for _, c := range calls {
			if seen[c.GUID] {
				continue
			}
			seen[c.GUID] = true
			merged = append(merged, c)
		}
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

// Participants merges a call's legs across members.
func (cl *Clustered) Participants(ctx context.Context, callGUID string) ([]*models.Leg, error) {
	adapters, err := cl.members(ctx)
	if err != nil {
		return nil, err
	}
	var (
		merged  []*models.Leg
		seen    = map[string]bool{}
		lastErr error
		ok      bool
	)
	for _, a := range adapters {
		legs, err := a.Participants(ctx, callGUID)
		if err != nil {
			if transport.IsNotFound(err) {
				ok = true
				continue
			}
			lastErr = err
			continue
		}
		ok = true
		for _, l := range legs {
			if seen[l.GUID] {
				continue
			}
			seen[l.GUID] = true
			merged = append(merged, l)
		}
	}
	if !ok && lastErr != nil {
		return nil, lastErr
	}
	return merged, nil
}

// Hangup tries every member until one knows the call.
func (cl *Clustered) HangupCall(ctx context.Context, callGUID string) error {
	adapters, err := cl.members(ctx)
	if err != nil {
		return err
	}
	var lastErr error
	for _, a := range adapters {
		err := a.HangupCall(ctx, callGUID)
		if err == nil || transport.IsNotFound(err) {
			return nil
		}
		lastErr = err
	}
	return lastErr
}
