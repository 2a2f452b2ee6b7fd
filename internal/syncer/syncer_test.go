// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package syncer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
)

// fakeConfServer answers the minimum conference-server API a sync hits.
func fakeConfServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/admin/status/v1/system/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"version":"29.1","uptime":1000}`)
	})
	mux.HandleFunc("/api/admin/configuration/v1/end_user/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"meta":{"total_count":1},"objects":[
			{"id":7,"primary_email_address":"alice@example.org","display_name":"Alice"}]}`)
	})
	mux.HandleFunc("/api/admin/configuration/v1/conference/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"meta":{"total_count":1},"objects":[
			{"id":42,"name":"Board Room","tag":"t=tenant-1","service_type":"conference"}]}`)
	})
	mux.HandleFunc("/api/admin/configuration/v1/conference_alias/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"objects":[{"id":5,"alias":"board@example.org","conference":"/api/admin/configuration/v1/conference/42/"}]}`)
	})
	mux.HandleFunc("/api/admin/configuration/v1/automatic_participant/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"objects":[]}`)
	})
	mux.HandleFunc("/api/admin/configuration/v1/ivr_theme/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"objects":[{"id":2,"name":"default","uuid":"u-1"}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type countingInvalidator struct{ n int }

func (c *countingInvalidator) Invalidate() { c.n++ }

func setup(t *testing.T) (*Engine, *database.DB, *models.Cluster, *countingInvalidator) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := fakeConfServer(t)
	c := &models.Cluster{Title: "test", Family: models.FamilyConfServer}
	require.NoError(t, db.CreateCluster(context.Background(), c))
	p := &models.Provider{
		ClusterID: c.ID, Family: models.FamilyConfServer,
		Hostname: "h", Port: 443, Enabled: true,
	}
	require.NoError(t, db.CreateProvider(context.Background(), p))

	inv := &countingInvalidator{}
	engine := New(db, cluster.New(db), backends.Deps{BaseURL: srv.URL}, inv)
	return engine, db, c, inv
}

func TestFullSyncMirrorsEverything(t *testing.T) {
	t.Parallel()
	engine, db, c, inv := setup(t)
	ctx := context.Background()

	result, err := engine.SyncCluster(ctx, c.ID, false)
	require.NoError(t, err)
	// spaces are scanned twice (main pass plus re-scan)
	assert.GreaterOrEqual(t, result.Spaces, 1)
	assert.Equal(t, 1, result.Users)
	assert.Equal(t, 1, result.Themes)
	assert.Positive(t, inv.n)

	providers, err := db.ListProviders(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "29.1", providers[0].SoftwareVersion)

	space, err := db.FindSpaceByName(ctx, []int64{providers[0].ID}, "board room")
	require.NoError(t, err)
	require.NotNil(t, space)
	assert.Equal(t, "tenant-1", space.TenantID)

	byAlias, err := db.FindSpaceByAlias(ctx, []int64{providers[0].ID}, "board@example.org")
	require.NoError(t, err)
	require.NotNil(t, byAlias)
	assert.Equal(t, space.ID, byAlias.ID)

	cursor, err := db.GetSyncCursor(ctx, c.ID, cursorSource)
	require.NoError(t, err)
	assert.False(t, cursor.LastEnd.IsZero())
}

func TestFullSyncTombstonesStaleRows(t *testing.T) {
	t.Parallel()
	engine, db, c, _ := setup(t)
	ctx := context.Background()

	providers, err := db.ListProviders(ctx, c.ID)
	require.NoError(t, err)
	pid := providers[0].ID

	// a row last seen an hour ago must flip on a full sync
	require.NoError(t, db.UpsertSpace(ctx, &models.Space{
		ExternalID: "gone-1",
		MirrorRow:  models.MirrorRow{ProviderID: pid, LastSynced: time.Now().Add(-time.Hour)},
		Name:       "Removed Room",
	}))

	result, err := engine.SyncCluster(ctx, c.ID, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.Tombstones, int64(1))

	stale, err := db.GetSpaceByExternalID(ctx, pid, "gone-1")
	require.NoError(t, err)
	assert.False(t, stale.IsActive)
}

func TestIncrementalSyncSkipsTombstones(t *testing.T) {
	t.Parallel()
	engine, db, c, _ := setup(t)
	ctx := context.Background()

	providers, err := db.ListProviders(ctx, c.ID)
	require.NoError(t, err)
	pid := providers[0].ID

	require.NoError(t, db.UpsertSpace(ctx, &models.Space{
		ExternalID: "old-1",
		MirrorRow:  models.MirrorRow{ProviderID: pid, LastSynced: time.Now().Add(-time.Hour)},
		Name:       "Old Room",
	}))

	result, err := engine.SyncCluster(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Zero(t, result.Tombstones)

	old, err := db.GetSpaceByExternalID(ctx, pid, "old-1")
	require.NoError(t, err)
	assert.True(t, old.IsActive)
}

func TestConcurrentSyncIsRejected(t *testing.T) {
	t.Parallel()
	engine, db, c, _ := setup(t)
	ctx := context.Background()

	lockName := fmt.Sprintf("sync_cluster.%d", c.ID)
	require.NoError(t, db.AcquireLock(ctx, lockName, "other-host/1", 30*time.Minute))

	_, err := engine.SyncCluster(ctx, c.ID, false)
	assert.ErrorIs(t, err, ErrSyncRunning)
}
