// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package recurrence

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
	db        *database.DB
	engine    *Engine
	recurring *models.RecurringMeeting
	first     *models.Meeting
}

// newFixture stores a daily series of five occurrences starting
// 2024-01-01T10:00Z with 2024-01-03 excluded, plus its first meeting.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	cluster := &models.Cluster{Title: "test", Family: models.FamilyConfServer}
	require.NoError(t, db.CreateCluster(ctx, cluster))
	customer := &models.Customer{Title: "acme"}
	require.NoError(t, db.CreateCustomer(ctx, customer))

	r := &models.RecurringMeeting{
		CustomerID: customer.ID,
		Rule:       "FREQ=DAILY;COUNT=5",
		Exceptions: "20240103T100000",
		Duration:   time.Hour,
		UID:        "series-1@example.org",
	}
	require.NoError(t, db.CreateRecurringMeeting(ctx, r))

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	first := &models.Meeting{
		CustomerID:         customer.ID,
		ClusterID:          cluster.ID,
		Title:              "Daily standup",
		TSStart:            start,
		TSStop:             start.Add(time.Hour),
		RecurringMeetingID: r.ID,
		RecurrenceID:       models.FormatRecurrenceID(start),
		RecurrenceUID:      r.UID,
		BackendActive:      true,
		ScheduleID:         models.NewScheduleID(""),
	}
	require.NoError(t, db.CreateMeeting(ctx, first))
	r.FirstMeetingID = first.ID
	require.NoError(t, db.UpdateRecurringMeeting(ctx, r))

	engine := New(db, Hooks{})
	engine.now = func() time.Time {
		return time.Date(2023, 12, 31, 9, 0, 0, 0, time.UTC)
	}
	return &fixture{db: db, engine: engine, recurring: r, first: first}
}

func seriesStarts(t *testing.T, f *fixture) []string {
	t.Helper()
	rows, err := f.db.ListSeriesMeetings(context.Background(), f.recurring.ID)
	require.NoError(t, err)
	var starts []string
	for _, m := range rows {
		if m.BackendActive {
			starts = append(starts, m.TSStart.UTC().Format(time.RFC3339))
		}
	}
	return starts
}

func day(d, hour int) time.Time {
	return time.Date(2024, 1, d, hour, 0, 0, 0, time.UTC)
}

func TestDailySeriesExpansion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.Len(t, res.Created, 3)
	assert.Empty(t, res.Deleted)

	assert.Equal(t, []string{
		"2024-01-01T10:00:00Z", "2024-01-02T10:00:00Z",
		"2024-01-04T10:00:00Z", "2024-01-05T10:00:00Z",
	}, seriesStarts(t, f))
	for _, m := range res.Created {
		assert.Equal(t, m.TSStart.Add(time.Hour), m.TSStop)
		assert.Equal(t, "Daily standup", m.Title)
		assert.Equal(t, models.FormatRecurrenceID(m.TSStart), m.RecurrenceID)
		assert.True(t, m.BackendActive)
		assert.Empty(t, m.ProviderRef2, "clones start without a backend binding")
		assert.NotEqual(t, f.first.SecretKey, m.SecretKey)
	}

	res, err = f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty(), "second pass must be a no-op")
}

func TestSurplusOccurrencesRemoved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.engine.now = func() time.Time { return day(3, 0) }

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	stray := *f.first
	stray.ID = 0
	stray.SecretKey = ""
	stray.TSStart = day(10, 10)
	stray.TSStop = day(10, 11)
	stray.RecurrenceID = models.FormatRecurrenceID(stray.TSStart)
	require.NoError(t, f.db.CreateMeeting(ctx, &stray))

	past := *f.first
	past.ID = 0
	past.SecretKey = ""
	past.TSStart = time.Date(2023, 12, 1, 10, 0, 0, 0, time.UTC)
	past.TSStop = past.TSStart.Add(time.Hour)
	past.RecurrenceID = models.FormatRecurrenceID(past.TSStart)
	require.NoError(t, f.db.CreateMeeting(ctx, &past))

	res, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 2)

	gone, err := f.db.GetMeeting(ctx, stray.ID)
	require.NoError(t, err)
	assert.False(t, gone.TSUnbooked.IsZero(), "future surplus row is unbooked")
	assert.False(t, gone.BackendActive)

	kept, err := f.db.GetMeeting(ctx, past.ID)
	require.NoError(t, err)
	assert.True(t, kept.TSUnbooked.IsZero(), "past surplus row is only deactivated")
	assert.False(t, kept.BackendActive)

	res, err = f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestDuplicateOccurrenceBeyondFirstRemoved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	dup := *f.first
	dup.ID = 0
	dup.SecretKey = ""
	dup.TSStart = day(2, 10)
	dup.TSStop = day(2, 11)
	dup.RecurrenceID = models.FormatRecurrenceID(dup.TSStart)
	require.NoError(t, f.db.CreateMeeting(ctx, &dup))

	res, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, dup.ID, res.Deleted[0].ID)
	assert.Len(t, seriesStarts(t, f), 4)
}

func TestOverriddenOccurrenceLeftAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	rows, err := f.db.ListSeriesMeetings(ctx, f.recurring.ID)
	require.NoError(t, err)
	var moved *models.Meeting
	for _, m := range rows {
		if m.RecurrenceID == "20240102T100000" {
			moved = m
		}
	}
	require.NotNil(t, moved)
	moved.TSStart = day(2, 14)
	moved.TSStop = day(2, 15)
	require.NoError(t, f.db.UpdateMeeting(ctx, moved))
	f.recurring.Overrides = "20240102T100000"
	require.NoError(t, f.db.UpdateRecurringMeeting(ctx, f.recurring))

	res, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty(), "overridden slot must not be recreated or pruned")

	after, err := f.db.GetMeeting(ctx, moved.ID)
	require.NoError(t, err)
	assert.True(t, after.TSStart.Equal(day(2, 14)))
}

func TestUpdatePatchesExistingRows(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	res, err := f.engine.Sync(ctx, f.recurring, func(m *models.Meeting) bool {
		if m.Password == "4711" {
			return false
		}
		m.Password = "4711"
		return true
	})
	require.NoError(t, err)
	assert.Len(t, res.Changed, 4)

	res, err = f.engine.Sync(ctx, f.recurring, func(m *models.Meeting) bool {
		changed := m.Password != "4711"
		m.Password = "4711"
		return changed
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
}

func TestExternalOccasionHandlingOnlyPrunes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.recurring.ExternalOccasionHandling = true
	require.NoError(t, f.db.UpdateRecurringMeeting(ctx, f.recurring))

	stray := *f.first
	stray.ID = 0
	stray.SecretKey = ""
	stray.TSStart = day(20, 10)
	stray.TSStop = day(20, 11)
	stray.RecurrenceID = models.FormatRecurrenceID(stray.TSStart)
	require.NoError(t, f.db.CreateMeeting(ctx, &stray))

	res, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Created, "externally managed series must not gain rows")
	assert.Len(t, res.Deleted, 1)
}

func TestSyncActivePromotesNearTermOccurrences(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.first.ProviderRef = "5001"
	f.first.ProviderRef2 = "space-ext-1"
	f.first.ProviderSecret = "s3cret"
	f.first.TSProvisioned = day(1, 9)
	require.NoError(t, f.db.UpdateMeeting(ctx, f.first))

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	var activated []int64
	f.engine.hooks.Activate = func(_ context.Context, m *models.Meeting) error {
		activated = append(activated, m.ID)
		return nil
	}
	require.NoError(t, f.engine.SyncActive(ctx, f.recurring))

	rows, err := f.db.ListSeriesMeetings(ctx, f.recurring.ID)
	require.NoError(t, err)
	promoted := 0
	for _, m := range rows {
		if m.ID == f.first.ID {
			continue
		}
		require.Equal(t, "space-ext-1", m.ProviderRef2)
		require.Equal(t, "5001", m.ProviderRef)
		promoted++
	}
	assert.Equal(t, 3, promoted, "all upcoming occurrences are within the window")
	assert.Len(t, activated, 3)
}

func TestSyncActiveFallsBackToNextOccurrence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	f.first.ProviderRef2 = "space-ext-1"
	require.NoError(t, f.db.UpdateMeeting(ctx, f.first))
	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	// Far in the past relative to the window start, so nothing falls
	// inside it and only the very next occurrence is promoted.
	f.engine.now = func() time.Time {
		return time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	require.NoError(t, f.engine.SyncActive(ctx, f.recurring))

	rows, err := f.db.ListSeriesMeetings(ctx, f.recurring.ID)
	require.NoError(t, err)
	bound := 0
	for _, m := range rows {
		if m.ProviderRef2 != "" {
			bound++
		}
	}
	assert.Equal(t, 1, bound, "only the first meeting itself carries a binding")
}

func TestUnbookOccurrenceBecomesException(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.engine.now = func() time.Time { return day(1, 0) }

	_, err := f.engine.Sync(ctx, f.recurring, nil)
	require.NoError(t, err)

	var unbooked []int64
	f.engine.hooks.Unbook = func(_ context.Context, m *models.Meeting) error {
		unbooked = append(unbooked, m.ID)
		return nil
	}
	require.NoError(t, f.engine.UnbookOccurrence(ctx, f.recurring, "20240104T100000"))
	assert.Empty(t, unbooked, "rows without a backend binding skip backend teardown")

	stored, err := f.db.GetRecurringMeeting(ctx, f.recurring.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.ExceptionIDs(), "20240104T100000")

	assert.Equal(t, []string{
		"2024-01-01T10:00:00Z", "2024-01-02T10:00:00Z", "2024-01-05T10:00:00Z",
	}, seriesStarts(t, f))

	res, err := f.engine.Sync(ctx, stored, nil)
	require.NoError(t, err)
	assert.True(t, res.Empty(), "excluded occurrence must not come back")
}

func TestInvalidRuleRejected(t *testing.T) {
	t.Parallel()
	assert.Error(t, ValidateRule("FREQ=SOMETIMES"))
	assert.Error(t, ValidateRule(""))
	assert.NoError(t, ValidateRule("RRULE:FREQ=WEEKLY;BYDAY=MO,WE"))

	f := newFixture(t)
	f.recurring.Rule = "not a rule at all"
	_, err := f.engine.Sync(context.Background(), f.recurring, nil)
	assert.Error(t, err)
}
