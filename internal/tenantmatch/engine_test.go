// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package tenantmatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
)

type fixture struct {
	db      *database.DB
	engine  *Engine
	cluster *models.Cluster
}

func newFixture(t *testing.T, family models.Family) *fixture {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cluster := &models.Cluster{Title: "test", Family: family}
	require.NoError(t, db.CreateCluster(context.Background(), cluster))

	return &fixture{db: db, engine: New(db), cluster: cluster}
}

func (f *fixture) addCustomer(t *testing.T, title, tenantA, tenantB string) *models.Customer {
	t.Helper()
	c := &models.Customer{Title: title, TenantIDA: tenantA, TenantIDB: tenantB}
	require.NoError(t, f.db.CreateCustomer(context.Background(), c))
	return c
}

func (f *fixture) addRule(t *testing.T, r *models.MatchRule) *models.MatchRule {
	t.Helper()
	r.ClusterID = f.cluster.ID
	if r.Mode == "" {
		r.Mode = models.MatchModeBoth
	}
	require.NoError(t, f.db.CreateMatchRule(context.Background(), r))
	f.engine.Invalidate()
	return r
}

func TestPrefixRuleMatches(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	a := f.addCustomer(t, "A", "", "")
	f.addRule(t, &models.MatchRule{CustomerID: a.ID, Prefix: "prefix", Priority: 10})

	m, err := f.engine.MatchText(ctx, f.cluster, "prefix.room@example.org")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, a.ID, m.CustomerID())

	m, err = f.engine.MatchText(ctx, f.cluster, "other.room@example.org")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestHigherPriorityRuleWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	a := f.addCustomer(t, "A", "", "")
	b := f.addCustomer(t, "B", "", "")
	f.addRule(t, &models.MatchRule{CustomerID: a.ID, Prefix: "prefix", Priority: 10})
	f.addRule(t, &models.MatchRule{CustomerID: b.ID, Prefix: "prefix", Suffix: "suffix", Priority: 0})

	m, err := f.engine.MatchText(ctx, f.cluster, "prefix.room@example.org.suffix")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, b.ID, m.CustomerID())

	// without the suffix only the lower-priority rule applies
	m, err = f.engine.MatchText(ctx, f.cluster, "prefix.room@example.org")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, a.ID, m.CustomerID())
}

func TestServiceTagResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyConfServer)
	ctx := context.Background()

	c := f.addCustomer(t, "Tagged", "", "tenant-xyz")

	m, err := f.engine.Resolve(ctx, f.cluster, Candidate{Tag: "t=tenant-xyz&c=42"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, c.ID, m.CustomerID())
	assert.Equal(t, "tenant-xyz", m.TenantID)
}

func TestDirectTenantBeatsRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	byTenant := f.addCustomer(t, "ByTenant", "tenant-1", "")
	byRule := f.addCustomer(t, "ByRule", "", "")
	f.addRule(t, &models.MatchRule{CustomerID: byRule.ID, Prefix: "room", Priority: 0})

	m, err := f.engine.Resolve(ctx, f.cluster, Candidate{
		TenantID: "tenant-1", LocalAlias: "room.alias@example.org",
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, byTenant.ID, m.CustomerID())
}

func TestUnknownTenantStillMatchesTenantOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	m, err := f.engine.Resolve(ctx, f.cluster, Candidate{TenantID: "nobody-home"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Nil(t, m.Customer)
	assert.Equal(t, "nobody-home", m.TenantID)
}

func TestMirroredSpaceLookupFamilyB(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyConfServer)
	ctx := context.Background()

	c := f.addCustomer(t, "SpaceOwner", "", "tenant-sp")
	p := &models.Provider{ClusterID: f.cluster.ID, Family: models.FamilyConfServer, Hostname: "h", Port: 443}
	require.NoError(t, f.db.CreateProvider(ctx, p))

	require.NoError(t, f.db.UpsertSpace(ctx, &models.Space{
		ExternalID: "sp-1",
		MirrorRow:  models.MirrorRow{ProviderID: p.ID, LastSynced: time.Now()},
		Name:       "Big Meeting", URI: "big.meeting", TenantID: "tenant-sp",
	}))
	f.engine.Invalidate()

	m, err := f.engine.Resolve(ctx, f.cluster, Candidate{Name: "Big Meeting"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, c.ID, m.CustomerID())

	m, err = f.engine.Resolve(ctx, f.cluster, Candidate{LocalAlias: "big.meeting"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, c.ID, m.CustomerID())
}

func TestRemoteAliasIsLastResort(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	local := f.addCustomer(t, "Local", "", "")
	remote := f.addCustomer(t, "Remote", "", "")
	f.addRule(t, &models.MatchRule{CustomerID: local.ID, Prefix: "local", Priority: 5})
	f.addRule(t, &models.MatchRule{CustomerID: remote.ID, Prefix: "remote", Priority: 5})

	m, err := f.engine.Resolve(ctx, f.cluster, Candidate{
		LocalAlias: "local.room", RemoteAlias: "remote.room",
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, local.ID, m.CustomerID())

	m, err = f.engine.Resolve(ctx, f.cluster, Candidate{
		LocalAlias: "nomatch.room", RemoteAlias: "remote.room",
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, remote.ID, m.CustomerID())
}

func TestInvalidationDropsStaleResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	m, err := f.engine.MatchText(ctx, f.cluster, "fresh.room")
	require.NoError(t, err)
	assert.Nil(t, m)

	a := f.addCustomer(t, "A", "", "")
	f.addRule(t, &models.MatchRule{CustomerID: a.ID, Prefix: "fresh", Priority: 1})

	// addRule invalidated; the engine must see the new rule immediately
	m, err = f.engine.MatchText(ctx, f.cluster, "fresh.room")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, a.ID, m.CustomerID())
}

func TestRegexRuleResolution(t *testing.T) {
	t.Parallel()
	f := newFixture(t, models.FamilyCallBridge)
	ctx := context.Background()

	a := f.addCustomer(t, "A", "", "")
	f.addRule(t, &models.MatchRule{
		CustomerID: a.ID, Regex: `\d{4}\.room@`, Mode: models.MatchModeRegex, Priority: 1,
	})

	m, err := f.engine.MatchText(ctx, f.cluster, "1234.room@example.org")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, a.ID, m.CustomerID())

	// implicit anchor at the start
	m, err = f.engine.MatchText(ctx, f.cluster, "x1234.room@example.org")
	require.NoError(t, err)
	assert.Nil(t, m)
}
