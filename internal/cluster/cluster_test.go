// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package cluster

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

func newTestService(t *testing.T) (*Service, *database.DB, *models.Cluster) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &models.Cluster{
		Title: "main", Family: models.FamilyConfServer,
		InternalDomain: "sip.example.org", WebHost: "join.example.org",
	}
	require.NoError(t, db.CreateCluster(context.Background(), c))
	return New(db), db, c
}

func TestSettingsFallbackChain(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	// no rows at all: everything derives from the cluster
	got, err := svc.Settings(ctx, c, 0)
	require.NoError(t, err)
	assert.Equal(t, "sip.example.org", got.MainDomain)
	assert.Equal(t, "join.example.org", got.WebDomain)

	require.NoError(t, svc.SaveSettings(ctx, &models.ClusterSettings{
		ClusterID: c.ID, MainDomain: "video.example.org",
		RemoveExpiredRooms: 48 * time.Hour,
	}))
	require.NoError(t, svc.SaveSettings(ctx, &models.ClusterSettings{
		ClusterID: c.ID, CustomerID: 7, WebDomain: "meet.customer.org",
	}))

	got, err = svc.Settings(ctx, c, 7)
	require.NoError(t, err)
	assert.Equal(t, "video.example.org", got.MainDomain, "from cluster default row")
	assert.Equal(t, "meet.customer.org", got.WebDomain, "customer override")
	assert.Equal(t, 48*time.Hour, got.RemoveExpiredRooms)
	assert.Equal(t, int64(7), got.CustomerID)

	_ = db
}

func TestSettingsWriteInvalidatesMemo(t *testing.T) {
	t.Parallel()
	svc, _, c := newTestService(t)
	ctx := context.Background()

	got, err := svc.Settings(ctx, c, 0)
	require.NoError(t, err)
	assert.Equal(t, "sip.example.org", got.MainDomain)

	require.NoError(t, svc.SaveSettings(ctx, &models.ClusterSettings{
		ClusterID: c.ID, MainDomain: "new.example.org",
	}))

	got, err = svc.Settings(ctx, c, 0)
	require.NoError(t, err)
	assert.Equal(t, "new.example.org", got.MainDomain)
}

func TestWriterPrefersEnabledNodes(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	disabled := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "a", Port: 443}
	enabled := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "b", Port: 443, Enabled: true}
	recorder := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "r", Port: 443,
		Enabled: true, Subtype: models.SubtypeRecorder}
	for _, p := range []*models.Provider{disabled, enabled, recorder} {
		require.NoError(t, db.CreateProvider(ctx, p))
	}

	w, err := svc.Writer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, enabled.ID, w.ID)
}

func TestWriterFallsBackToDisabled(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	_, err := svc.Writer(ctx, c.ID)
	assert.ErrorIs(t, err, ErrNoProvider)

	p := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "a", Port: 443}
	require.NoError(t, db.CreateProvider(ctx, p))

	w, err := svc.Writer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, w.ID)
}

func TestClusteredExcludesSelfAndServiceNodes(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	a := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "a", Port: 443, Enabled: true}
	b := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "b", Port: 443, Enabled: true}
	rec := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "r", Port: 443,
		Subtype: models.SubtypeRecorder}
	for _, p := range []*models.Provider{a, b, rec} {
		require.NoError(t, db.CreateProvider(ctx, p))
	}

	peers, err := svc.Clustered(ctx, a, false, true)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, b.ID, peers[0].ID)

	all, err := svc.Clustered(ctx, a, true, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLazyNumberRangeCreation(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	r, err := svc.ScheduledNumberRange(ctx, c, 0)
	require.NoError(t, err)
	require.NotZero(t, r.ID)
	assert.Equal(t, int64(defaultRangeStart), r.Start)

	// second call resolves the stored range, not a new one
	again, err := svc.ScheduledNumberRange(ctx, c, 0)
	require.NoError(t, err)
	assert.Equal(t, r.ID, again.ID)

	// static rooms get their own range
	static, err := svc.StaticNumberRange(ctx, c, 0)
	require.NoError(t, err)
	assert.NotEqual(t, r.ID, static.ID)

	settings, err := db.GetClusterSettings(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, r.ID, settings.ScheduledRoomNumberRangeID)
	assert.Equal(t, static.ID, settings.StaticRoomNumberRangeID)
}

func TestAllocateNumberSkipsMirroredAliases(t *testing.T) {
	t.Parallel()
	svc, db, c := newTestService(t)
	ctx := context.Background()

	p := &models.Provider{ClusterID: c.ID, Family: c.Family, Hostname: "a", Port: 443, Enabled: true}
	require.NoError(t, db.CreateProvider(ctx, p))

	r := &models.NumberRange{ClusterID: c.ID, Title: "t", Start: 1000, Stop: 1010}
	require.NoError(t, db.CreateNumberRange(ctx, r))

	require.NoError(t, db.UpsertSpace(ctx, &models.Space{
		ExternalID: "sp-1",
		MirrorRow:  models.MirrorRow{ProviderID: p.ID, LastSynced: time.Now()},
		Name:       "Taken", URI: "1000",
	}))

	n, err := svc.AllocateNumber(ctx, r, []int64{p.ID})
	require.NoError(t, err)
	assert.Equal(t, "1001", n)
}
