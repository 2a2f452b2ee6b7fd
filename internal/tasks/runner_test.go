// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
)

func newRunner(t *testing.T) (*Runner, *database.DB) {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Path: ":memory:", Threads: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, config.TasksConfig{Workers: 2, MaxRetries: 3, RetryDelay: 15 * time.Second}), db
}

type dialPayload struct {
	Dialstring string `json:"dialstring"`
}

func TestEnqueueCarriesScheduleToken(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	m := &models.Meeting{Title: "m", TSStart: time.Now(), TSStop: time.Now().Add(time.Hour),
		ScheduleID: models.NewScheduleID("")}
	require.NoError(t, db.CreateMeeting(ctx, m))

	task, err := r.Enqueue(ctx, "dialout", dialPayload{Dialstring: "room@example.org"}, m, time.Now())
	require.NoError(t, err)
	assert.Equal(t, m.ID, task.MeetingID)
	assert.Equal(t, m.ScheduleID, task.ScheduleID)

	p, err := DecodePayload[dialPayload](task)
	require.NoError(t, err)
	assert.Equal(t, "room@example.org", p.Dialstring)
}

func TestRunFinishesTask(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	ran := 0
	r.Register("ping", func(context.Context, *models.Task) error {
		ran++
		return nil
	})
	task, err := r.Enqueue(ctx, "ping", nil, nil, time.Now().Add(-time.Second))
	require.NoError(t, err)

	claimed, err := db.ClaimDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	r.run(ctx, claimed[0])

	assert.Equal(t, 1, ran)
	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, stored.State)
}

func TestFailingTaskRetriesThenFails(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	r.Register("flaky", func(context.Context, *models.Task) error {
		return errors.New("backend said no")
	})
	task, err := r.Enqueue(ctx, "flaky", nil, nil, time.Now().Add(-time.Second))
	require.NoError(t, err)

	for attempt := 1; attempt <= 3; attempt++ {
		stored, err := db.GetTask(ctx, task.ID)
		require.NoError(t, err)
		stored.State = models.TaskRunning
		r.run(ctx, stored)

		stored, err = db.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, attempt, stored.Retries)
		assert.Equal(t, "backend said no", stored.LastError)
		if attempt < 3 {
			assert.Equal(t, models.TaskPending, stored.State)
			assert.True(t, stored.ETA.After(time.Now().UTC()), "retry is pushed into the future")
		} else {
			assert.Equal(t, models.TaskFailed, stored.State)
		}
	}
}

func TestStaleScheduleTokenDropsTask(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	m := &models.Meeting{Title: "m", TSStart: time.Now(), TSStop: time.Now().Add(time.Hour),
		ScheduleID: models.NewScheduleID("")}
	require.NoError(t, db.CreateMeeting(ctx, m))

	ran := false
	r.Register("record", func(context.Context, *models.Task) error {
		ran = true
		return nil
	})
	task, err := r.Enqueue(ctx, "record", nil, m, time.Now().Add(-time.Second))
	require.NoError(t, err)

	// A rebook bumps the token before the task fires.
	m.ScheduleID = models.NewScheduleID(m.ScheduleID)
	require.NoError(t, db.UpdateMeeting(ctx, m))

	claimed, err := db.ClaimDueTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	r.run(ctx, claimed[0])

	assert.False(t, ran, "superseded task must not touch the backend")
	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskDone, stored.State)
}

func TestUnbookedMeetingDropsTask(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	m := &models.Meeting{Title: "m", TSStart: time.Now(), TSStop: time.Now().Add(time.Hour),
		ScheduleID: models.NewScheduleID(""), TSUnbooked: time.Now()}
	require.NoError(t, db.CreateMeeting(ctx, m))

	ran := false
	r.Register("dialout", func(context.Context, *models.Task) error {
		ran = true
		return nil
	})
	task, err := r.Enqueue(ctx, "dialout", nil, m, time.Now().Add(-time.Second))
	require.NoError(t, err)

	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	r.run(ctx, stored)
	assert.False(t, ran)
}

func TestUnknownKindFailsImmediately(t *testing.T) {
	t.Parallel()
	r, db := newRunner(t)
	ctx := context.Background()

	task, err := r.Enqueue(ctx, "who-knows", nil, nil, time.Now().Add(-time.Second))
	require.NoError(t, err)
	stored, err := db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	r.run(ctx, stored)

	stored, err = db.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailed, stored.State)
	assert.Contains(t, stored.LastError, "no handler")
}

func TestServeDrainsOnCancel(t *testing.T) {
	t.Parallel()
	r, _ := newRunner(t)
	r.cfg.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Serve(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
