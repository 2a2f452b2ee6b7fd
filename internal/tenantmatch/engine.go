// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package tenantmatch resolves call artefacts to customers.
//
// The engine answers "whose call is this" for aliases, URIs, conference
// names, service tags and raw tenant ids, scoped to a cluster. Results
// are served through small FIFO TTL caches; any write that can affect
// matching must call Invalidate.
package tenantmatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/cache"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/models"
)

const (
	cacheTTL      = 10 * time.Second
	textCacheSize = 200
	snapCacheSize = 100
)

// Match is one resolution result. Rule may be synthetic (no stored id)
// when the hit came from a tenant id rather than a stored rule.
// Customer is nil for tenant-only matches.
type Match struct {
	Rule     *models.MatchRule
	Customer *models.Customer
	TenantID string
}

// CustomerID returns the matched customer's id, 0 when tenant-only.
func (m *Match) CustomerID() int64 {
	if m == nil || m.Customer == nil {
		return 0
	}
	return m.Customer.ID
}

// Candidate is a structured call artefact under resolution. Zero-value
// fields are skipped.
type Candidate struct {
	// TenantID is the backend tenant carried directly on the object.
	TenantID string

	// Tag is a query-string-encoded service tag ("t=..&c=..").
	Tag string

	// Name is the conference / VMR name.
	Name string

	LocalAlias  string
	RemoteAlias string
}

// snapshot is the per-cluster rule set and tenant index, rebuilt on
// expiry.
type snapshot struct {
	rules       []*models.MatchRule
	tenants     map[string]*models.Customer
	providerIDs []int64
	family      models.Family
}

// Engine is the resolver. Safe for concurrent use.
type Engine struct {
	db *database.DB

	// three result caches per the input kind, plus the rule snapshot
	text      *cache.FIFO[string, *Match]
	names     *cache.FIFO[string, *Match]
	aliases   *cache.FIFO[string, *Match]
	snapshots *cache.FIFO[int64, *snapshot]
}

// New builds an engine over the store.
func New(db *database.DB) *Engine {
	return &Engine{
		db:        db,
		text:      cache.NewFIFO[string, *Match](textCacheSize, cacheTTL),
		names:     cache.NewFIFO[string, *Match](textCacheSize, cacheTTL),
		aliases:   cache.NewFIFO[string, *Match](textCacheSize, cacheTTL),
		snapshots: cache.NewFIFO[int64, *snapshot](snapCacheSize, cacheTTL),
	}
}

// Invalidate flushes every cache. Callers writing MatchRules,
// Customers, Spaces or Aliases invoke this before returning.
func (e *Engine) Invalidate() {
	e.text.Clear()
	e.names.Clear()
	e.aliases.Clear()
	e.snapshots.Clear()
}

func (e *Engine) snapshot(ctx context.Context, cluster *models.Cluster) (*snapshot, error) {
	return e.snapshots.GetOrLoad(cluster.ID, func() (*snapshot, error) {
		rules, err := e.db.ListMatchRules(ctx, cluster.ID)
		if err != nil {
			return nil, err
		}
		customers, err := e.db.ListCustomers(ctx)
		if err != nil {
			return nil, err
		}
		providers, err := e.db.ListProviders(ctx, cluster.ID)
		if err != nil {
			return nil, err
		}

		snap := &snapshot{
			rules:   rules,
			tenants: make(map[string]*models.Customer, len(customers)),
			family:  cluster.Family,
		}
		for _, p := range providers {
			snap.providerIDs = append(snap.providerIDs, p.ID)
		}
		for _, c := range customers {
			if c.ClusterID != 0 && c.ClusterID != cluster.ID {
				continue
			}
			if c.TenantIDA != "" {
				snap.tenants[c.TenantIDA] = c
			}
			if c.TenantIDB != "" {
				snap.tenants[c.TenantIDB] = c
			}
		}
		// tenant-only rules extend the index without a customer
		for _, r := range rules {
			if r.TenantOnly() {
				if _, ok := snap.tenants[r.TenantID]; !ok {
					snap.tenants[r.TenantID] = nil
				}
			}
		}
		return snap, nil
	})
}

// MatchTenant resolves a raw backend tenant id, returning a synthetic
// match. Unknown tenants still match, customer-less.
func (e *Engine) MatchTenant(ctx context.Context, cluster *models.Cluster, tenantID string) (*Match, error) {
	if tenantID == "" {
		return nil, nil
	}
	snap, err := e.snapshot(ctx, cluster)
	if err != nil {
		return nil, err
	}
	customer := snap.tenants[tenantID]
	m := &Match{
		Rule: &models.MatchRule{
			ClusterID: cluster.ID,
			TenantID:  tenantID,
			Mode:      models.MatchModeBoth,
		},
		Customer: customer,
		TenantID: tenantID,
	}
	if customer != nil {
		m.Rule.CustomerID = customer.ID
	}
	return m, nil
}

// MatchText resolves a plain string (alias, URI, conference name)
// against the cluster's rules. Returns nil, not an error, on no match.
func (e *Engine) MatchText(ctx context.Context, cluster *models.Cluster, candidate string) (*Match, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return nil, nil
	}
	key := cacheKey(cluster.ID, candidate)
	if m, ok := e.text.Get(key); ok {
		metrics.MatchCacheHits.Inc()
		return m, nil
	}
	metrics.MatchCacheMisses.Inc()
	m, err := e.matchRules(ctx, cluster, candidate)
	if err != nil {
		return nil, err
	}
	e.text.Set(key, m)
	return m, nil
}

func (e *Engine) matchRules(ctx context.Context, cluster *models.Cluster, candidate string) (*Match, error) {
	snap, err := e.snapshot(ctx, cluster)
	if err != nil {
		return nil, err
	}
	for _, r := range snap.rules {
		if !r.Matches(candidate) {
			continue
		}
		m := &Match{Rule: r, TenantID: r.TenantID}
		if r.CustomerID != 0 {
			c, err := e.db.GetCustomer(ctx, r.CustomerID)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return nil, err
			}
			m.Customer = c
			if c != nil && m.TenantID == "" {
				m.TenantID = c.TenantID(cluster.Family)
			}
		}
		return m, nil
	}
	return nil, nil
}

// matchSpace looks the candidate up as a mirrored VMR name or alias and
// resolves through the space's tenant. Family-B clusters only.
func (e *Engine) matchSpace(ctx context.Context, cluster *models.Cluster, candidate string, byName bool) (*Match, error) {
	if cluster.Family != models.FamilyConfServer || candidate == "" {
		return nil, nil
	}
	store := e.aliases
	if byName {
		store = e.names
	}
	key := cacheKey(cluster.ID, candidate)
	if m, ok := store.Get(key); ok {
		metrics.MatchCacheHits.Inc()
		return m, nil
	}
	metrics.MatchCacheMisses.Inc()

	snap, err := e.snapshot(ctx, cluster)
	if err != nil {
		return nil, err
	}

	var space *models.Space
	if byName {
		space, err = e.db.FindSpaceByName(ctx, snap.providerIDs, candidate)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
	} else {
		space, err = e.db.FindSpaceByAlias(ctx, snap.providerIDs, candidate)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		if space == nil {
			space, err = e.db.FindSpaceByURI(ctx, snap.providerIDs, candidate)
			if err != nil && !errors.Is(err, database.ErrNotFound) {
				return nil, err
			}
		}
	}

	var m *Match
	if space != nil {
		if tag, ok := models.ParseServiceTag(space.Tag); ok && tag.TenantID != "" {
			m, err = e.MatchTenant(ctx, cluster, tag.TenantID)
		} else if space.TenantID != "" {
			m, err = e.MatchTenant(ctx, cluster, space.TenantID)
		}
		if err != nil {
			return nil, err
		}
	}
	store.Set(key, m)
	return m, nil
}

// Resolve runs the full resolution order over a structured candidate.
// It never fails on unresolvable input; the result is nil.
func (e *Engine) Resolve(ctx context.Context, cluster *models.Cluster, c Candidate) (*Match, error) {
	// 1. explicit tenant on the object
	if c.TenantID != "" {
		return e.MatchTenant(ctx, cluster, c.TenantID)
	}

	// 2. service tag
	if tag, ok := models.ParseServiceTag(c.Tag); ok && tag.TenantID != "" {
		return e.MatchTenant(ctx, cluster, tag.TenantID)
	}

	// 3. mirrored VMR by name or local alias
	if m, err := e.matchSpace(ctx, cluster, c.Name, true); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}
	if m, err := e.matchSpace(ctx, cluster, c.LocalAlias, false); err != nil {
		return nil, err
	} else if m != nil {
		return m, nil
	}

	// 4. rule scan over name, then local alias
	for _, candidate := range []string{c.Name, c.LocalAlias} {
		m, err := e.MatchText(ctx, cluster, candidate)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	// 5. remote side, participants only
	if c.RemoteAlias != "" {
		m, err := e.MatchText(ctx, cluster, c.RemoteAlias)
		if err != nil {
			return nil, err
		}
		if m != nil {
			return m, nil
		}
	}

	logging.Trace().Int64("cluster", cluster.ID).Str("name", c.Name).
		Str("local", c.LocalAlias).Msg("no tenant match")
	return nil, nil
}

func cacheKey(clusterID int64, s string) string {
	return strconv.FormatInt(clusterID, 10) + ":" + strings.ToLower(s)
}
