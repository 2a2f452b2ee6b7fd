// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCustomerRoundTrip(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	c := &models.Customer{
		Title:              "Acme Conferencing",
		TenantIDA:          "tenant-a-1",
		ClusterID:          0,
		EnableCore:         true,
		RemoveExpiredRooms: 48 * time.Hour,
		SharedKey:          "k1,k2",
	}
	require.NoError(t, db.CreateCustomer(ctx, c))
	require.NotZero(t, c.ID)

	got, err := db.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Conferencing", got.Title)
	assert.Equal(t, "tenant-a-1", got.TenantIDA)
	assert.Equal(t, 48*time.Hour, got.RemoveExpiredRooms)
	assert.Empty(t, got.TenantIDB)

	got.Title = "Acme"
	require.NoError(t, db.UpdateCustomer(ctx, got))
	got, err = db.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Title)

	_, err = db.GetCustomer(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsureTenantIDBAssignsOnce(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	c := &models.Customer{Title: "Tenant B Lazy"}
	require.NoError(t, db.CreateCustomer(ctx, c))

	calls := 0
	newID := func() string { calls++; return "uuid-1" }

	id, err := db.EnsureTenantIDB(ctx, c.ID, newID)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", id)

	id, err = db.EnsureTenantIDB(ctx, c.ID, newID)
	require.NoError(t, err)
	assert.Equal(t, "uuid-1", id)
	assert.Equal(t, 1, calls)
}

func TestCustomerAPIKeyLookup(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	c := &models.Customer{Title: "Keyed"}
	require.NoError(t, db.CreateCustomer(ctx, c))
	require.NoError(t, db.CreateCustomerKey(ctx, &models.CustomerKey{
		CustomerID: c.ID, Key: "secret-key", Active: true,
	}))
	require.NoError(t, db.CreateCustomerKey(ctx, &models.CustomerKey{
		CustomerID: c.ID, Key: "disabled-key", Active: false,
	}))

	got, key, err := db.GetCustomerByAPIKey(ctx, " secret-key ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "secret-key", key.Key)

	_, _, err = db.GetCustomerByAPIKey(ctx, "disabled-key")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = db.GetCustomerByAPIKey(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMatchRuleOrdering(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	cluster := &models.Cluster{Title: "c1", Family: models.FamilyCallBridge}
	require.NoError(t, db.CreateCluster(ctx, cluster))

	for _, r := range []*models.MatchRule{
		{ClusterID: cluster.ID, Prefix: "late", Mode: models.MatchModeBoth, Priority: 20},
		{ClusterID: cluster.ID, Prefix: "first", Mode: models.MatchModeBoth, Priority: 5},
		{ClusterID: cluster.ID, Prefix: "second", Mode: models.MatchModeBoth, Priority: 5},
	} {
		require.NoError(t, db.CreateMatchRule(ctx, r))
	}

	rules, err := db.ListMatchRules(ctx, cluster.ID)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "first", rules[0].Prefix)
	assert.Equal(t, "second", rules[1].Prefix)
	assert.Equal(t, "late", rules[2].Prefix)

	bad := &models.MatchRule{ClusterID: cluster.ID, Mode: "bogus"}
	assert.Error(t, db.CreateMatchRule(ctx, bad))
}

func TestNumberRangeAllocation(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	r := &models.NumberRange{ClusterID: 1, Start: 1000, Stop: 1003}
	require.NoError(t, db.CreateNumberRange(ctx, r))

	n1, err := db.UseNumberRange(ctx, r.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "1000", n1)

	// reject 1001, expect the cursor to skip it
	n2, err := db.UseNumberRange(ctx, r.ID, func(n string) bool { return n == "1001" })
	require.NoError(t, err)
	assert.Equal(t, "1002", n2)

	_, err = db.UseNumberRange(ctx, r.ID, nil)
	require.NoError(t, err)
	_, err = db.UseNumberRange(ctx, r.ID, nil)
	assert.ErrorIs(t, err, ErrRangeExhausted)
}

func TestProviderSessionPersistence(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	cluster := &models.Cluster{Title: "c", Family: models.FamilyCallBridge}
	require.NoError(t, db.CreateCluster(ctx, cluster))
	p := &models.Provider{
		ClusterID: cluster.ID, Family: models.FamilyCallBridge,
		Hostname: "node1.example.com", Port: 443, Enabled: true, VerifyTLS: true,
	}
	require.NoError(t, db.CreateProvider(ctx, p))

	expires := time.Now().Add(20 * time.Minute).UTC().Truncate(time.Second)
	require.NoError(t, db.SaveSession(ctx, p.ID, "cookie-123", expires))

	got, err := db.GetProvider(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "cookie-123", got.SessionID)
	assert.True(t, got.SessionValid(time.Now()))
}

func TestListProvidersExcludesServiceNodes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	cluster := &models.Cluster{Title: "c", Family: models.FamilyCallBridge}
	require.NoError(t, db.CreateCluster(ctx, cluster))

	main := &models.Provider{ClusterID: cluster.ID, Family: models.FamilyCallBridge, Hostname: "a", Port: 443}
	rec := &models.Provider{ClusterID: cluster.ID, Family: models.FamilyCallBridge, Hostname: "b", Port: 443, Subtype: models.SubtypeRecorder}
	require.NoError(t, db.CreateProvider(ctx, main))
	require.NoError(t, db.CreateProvider(ctx, rec))

	got, err := db.ListProviders(ctx, cluster.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Hostname)
}

func TestMirrorUpsertAndTombstone(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	syncStart := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	s := &models.Space{
		ExternalID: "ext-1",
		MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: syncStart.Add(-time.Hour)},
		Name:       "Old Room", URI: "old.room",
	}
	require.NoError(t, db.UpsertSpace(ctx, s))
	firstID := s.ID

	// re-sync refreshes in place, same row
	s2 := &models.Space{
		ExternalID: "ext-1",
		MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: syncStart},
		Name:       "New Room", URI: "new.room",
	}
	require.NoError(t, db.UpsertSpace(ctx, s2))
	assert.Equal(t, firstID, s2.ID)

	stale := &models.Space{
		ExternalID: "ext-2",
		MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: syncStart.Add(-10 * time.Minute)},
		Name:       "Gone Room",
	}
	require.NoError(t, db.UpsertSpace(ctx, stale))

	flipped, err := db.TombstoneStale(ctx, 1, syncStart.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), flipped["spaces"])

	got, err := db.GetSpaceByExternalID(ctx, 1, "ext-2")
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = db.GetSpaceByExternalID(ctx, 1, "ext-1")
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, "New Room", got.Name)
}

func TestSearchActiveSpaces(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(name, uri, tenant string) {
		require.NoError(t, db.UpsertSpace(ctx, &models.Space{
			ExternalID: uri,
			MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: now},
			Name:       name, URI: uri, TenantID: tenant,
		}))
	}
	add("Weekly Standup", "standup.room", "t1")
	add("Board Weekly", "board.room", "t1")
	add("Weekend Plans", "plans.room", "")
	add("Unrelated", "other.room", "t2")

	// name matches at start or after a space
	got, err := db.SearchActiveSpaces(ctx, []int64{1}, nil, "week", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Board Weekly", got[0].Name)

	// tenant pinned
	tenant := "t1"
	got, err = db.SearchActiveSpaces(ctx, []int64{1}, &tenant, "week", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// empty tenant means untenanted only
	none := ""
	got, err = db.SearchActiveSpaces(ctx, []int64{1}, &none, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Weekend Plans", got[0].Name)
}

func TestFindSpaceByAlias(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	s := &models.Space{
		ExternalID: "sp-1",
		MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: now},
		Name:       "Aliased", URI: "primary.room",
	}
	require.NoError(t, db.UpsertSpace(ctx, s))
	require.NoError(t, db.UpsertSpaceAlias(ctx, &models.SpaceAlias{
		ExternalID: "al-1",
		MirrorRow:  models.MirrorRow{ProviderID: 1, LastSynced: now},
		SpaceID:    s.ID, Alias: "67890",
	}))

	got, err := db.FindSpaceByAlias(ctx, []int64{1}, "67890")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = db.FindSpaceByAlias(ctx, []int64{1}, "00000")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := db.AliasExists(ctx, []int64{1}, "67890")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = db.AliasExists(ctx, []int64{1}, "PRIMARY.ROOM")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMeetingScheduleAndRepoint(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	m := &models.Meeting{
		CustomerID: 1, ClusterID: 1, Title: "Original",
		TSStart: time.Now().UTC(), TSStop: time.Now().Add(time.Hour).UTC(),
		ScheduleID: "1.0000000",
	}
	require.NoError(t, db.CreateMeeting(ctx, m))
	require.NotEmpty(t, m.SecretKey)

	got, err := db.GetMeetingByKey(ctx, m.IDKey())
	require.NoError(t, err)
	assert.Equal(t, m.ID, got.ID)

	_, err = db.GetMeetingByKey(ctx, got.IDKey()+"x")
	assert.ErrorIs(t, err, ErrNotFound)

	token, err := db.BumpScheduleID(ctx, m.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "1.0000000", token)

	require.NoError(t, db.CreateMeetingRecording(ctx, &models.MeetingRecording{
		MeetingID: m.ID, Name: "rec", IsActive: true,
	}))
	require.NoError(t, db.CreateMeetingDialout(ctx, &models.MeetingDialout{
		MeetingID: m.ID, Dialstring: "sip:room@example.com", IsActive: true,
	}))

	replacement := &models.Meeting{
		CustomerID: 1, ClusterID: 1, Title: "Rebooked", ParentID: m.ID,
		TSStart: m.TSStart, TSStop: m.TSStop,
	}
	require.NoError(t, db.CreateMeeting(ctx, replacement))
	require.NoError(t, db.RepointSideCars(ctx, m.ID, replacement.ID))

	recs, err := db.ListMeetingRecordings(ctx, replacement.ID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	old, err := db.ListMeetingRecordings(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestGlobalLockLifecycle(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })

	require.NoError(t, db.AcquireLock(ctx, "sync:1", "host-a", 30*time.Minute))
	assert.ErrorIs(t, db.AcquireLock(ctx, "sync:1", "host-b", 30*time.Minute), ErrLockHeld)

	// same holder may re-acquire
	require.NoError(t, db.AcquireLock(ctx, "sync:1", "host-a", 30*time.Minute))
	require.NoError(t, db.RefreshLock(ctx, "sync:1", "host-a", 30*time.Minute))
	assert.ErrorIs(t, db.RefreshLock(ctx, "sync:1", "host-b", 30*time.Minute), ErrLockHeld)

	// expired locks are stolen
	now = now.Add(31 * time.Minute)
	require.NoError(t, db.AcquireLock(ctx, "sync:1", "host-b", 30*time.Minute))

	require.NoError(t, db.ReleaseLock(ctx, "sync:1", "host-b"))
	_, err := db.GetLock(ctx, "sync:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSyncCursorRoundTrip(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetSyncCursor(ctx, 1, "history")
	assert.ErrorIs(t, err, ErrNotFound)

	end := time.Date(2026, 8, 1, 9, 55, 0, 0, time.UTC)
	require.NoError(t, db.SaveSyncCursor(ctx, &models.SyncCursor{
		ClusterID: 1, Source: "history", LastEnd: end, Offset: 3,
	}))

	got, err := db.GetSyncCursor(ctx, 1, "history")
	require.NoError(t, err)
	assert.True(t, got.LastEnd.Equal(end))
	assert.Equal(t, 3, got.Offset)
}

func TestTraceScopeFiltersSnapshots(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	// no scope set, nothing is captured
	db.Trace(ctx, models.TraceLog{CustomerID: 1, Method: "GET", URL: "https://n/a"})
	got, err := db.ListTraceLogs(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	db.SetTraceScope(&TraceScope{CustomerID: 7})
	db.Trace(ctx, models.TraceLog{CustomerID: 7, ClusterID: 2, Method: "GET", URL: "https://n/match"})
	db.Trace(ctx, models.TraceLog{CustomerID: 8, Method: "GET", URL: "https://n/other"})
	got, err = db.ListTraceLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://n/match", got[0].URL)

	db.SetTraceScope(nil)
	db.Trace(ctx, models.TraceLog{CustomerID: 7, Method: "GET", URL: "https://n/late"})
	got, err = db.ListTraceLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	// failures are always recorded regardless of scope
	db.LogError(ctx, models.ErrorLog{CustomerID: 8, Origin: "GET /x", URL: "https://n/x", Message: "timeout"})
	errs, err := db.ListErrorLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "timeout", errs[0].Message)
}

func TestTaskClaimAndRetry(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })

	due := &models.Task{Kind: "activate", ETA: now.Add(-time.Minute)}
	future := &models.Task{Kind: "deactivate", ETA: now.Add(time.Hour)}
	require.NoError(t, db.EnqueueTask(ctx, due))
	require.NoError(t, db.EnqueueTask(ctx, future))

	claimed, err := db.ClaimDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "activate", claimed[0].Kind)

	// second claim finds nothing
	claimed2, err := db.ClaimDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed2)

	// two retries exhaust a budget of 3 (initial attempt + 2)
	require.NoError(t, db.RetryTask(ctx, claimed[0].ID, "boom", now.Add(15*time.Second), 3))
	got, err := db.GetTask(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, got.State)
	assert.Equal(t, 1, got.Retries)

	require.NoError(t, db.RetryTask(ctx, claimed[0].ID, "boom", now.Add(15*time.Second), 3))
	require.NoError(t, db.RetryTask(ctx, claimed[0].ID, "boom", now.Add(15*time.Second), 3))
	got, err = db.GetTask(ctx, claimed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, got.State)
}

func TestGhostLegSweep(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := &models.Leg{GUID: "leg-old", ClusterID: 1, TSStart: now.Add(-8 * 24 * time.Hour)}
	fresh := &models.Leg{GUID: "leg-new", ClusterID: 1, TSStart: now.Add(-time.Hour)}
	require.NoError(t, db.UpsertLeg(ctx, old))
	require.NoError(t, db.UpsertLeg(ctx, fresh))

	n, err := db.CloseGhostLegs(ctx, 1, now.Add(-7*24*time.Hour), now.Add(-3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := db.GetLegByGUID(ctx, 1, "leg-old")
	require.NoError(t, err)
	assert.False(t, got.Active())

	got, err = db.GetLegByGUID(ctx, 1, "leg-new")
	require.NoError(t, err)
	assert.True(t, got.Active())
}

func TestCallUpsertAndClose(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	c := &models.Call{GUID: "call-1", ClusterID: 1, Name: "demo", TSStart: start, LegCount: 2}
	require.NoError(t, db.UpsertCall(ctx, c))

	// refresh with a new leg count keeps the same row
	c2 := &models.Call{GUID: "call-1", ClusterID: 1, Name: "demo", TSStart: start, LegCount: 5}
	require.NoError(t, db.UpsertCall(ctx, c2))
	assert.Equal(t, c.ID, c2.ID)

	require.NoError(t, db.CloseCall(ctx, 1, "call-1", start.Add(30*time.Minute)))
	got, err := db.GetCallByGUID(ctx, 1, "call-1")
	require.NoError(t, err)
	assert.False(t, got.Active())
	assert.Equal(t, 30*time.Minute, got.Duration)

	open, err := db.ListOpenCalls(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, open)
}
