// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

const taskColumns = `id, kind, payload, meeting_id, schedule_id, eta, state,
	retries, last_error, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	var t models.Task
	var payload, scheduleID, lastError sql.NullString
	var meetingID sql.NullInt64
	err := row.Scan(&t.ID, &t.Kind, &payload, &meetingID, &scheduleID, &t.ETA,
		&t.State, &t.Retries, &lastError, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Payload = scanNullStr(payload)
	t.MeetingID = scanNullInt(meetingID)
	t.ScheduleID = scanNullStr(scheduleID)
	t.LastError = scanNullStr(lastError)
	t.ETA = t.ETA.UTC()
	return &t, nil
}

// EnqueueTask inserts a pending task.
func (db *DB) EnqueueTask(ctx context.Context, t *models.Task) error {
	if t.State == "" {
		t.State = models.TaskPending
	}
	row, err := db.queryRow(ctx, `INSERT INTO tasks
		(kind, payload, meeting_id, schedule_id, eta, state, retries)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id, created_at, updated_at`,
		t.Kind, nullStr(t.Payload), nullInt(t.MeetingID), nullStr(t.ScheduleID),
		t.ETA.UTC(), t.State, t.Retries)
	if err != nil {
		return err
	}
	return row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// ClaimDueTasks flips up to limit due pending tasks to running and
// returns them. Claiming is serialized so concurrent workers never get
// the same task.
func (db *DB) ClaimDueTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 10
	}
	mu := db.lockRow("task-claim")
	defer mu.Unlock()

	now := db.now().UTC()
	rows, err := db.query(ctx, `SELECT `+taskColumns+` FROM tasks
		WHERE state = ? AND eta <= ? ORDER BY eta, id LIMIT ?`,
		models.TaskPending, now, limit)
	if err != nil {
		return nil, err
	}
	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if _, err := db.exec(ctx, `UPDATE tasks SET state = ?, updated_at = ? WHERE id = ?`,
			models.TaskRunning, now, t.ID); err != nil {
			return nil, err
		}
		t.State = models.TaskRunning
	}
	return tasks, nil
}

// FinishTask marks a task done.
func (db *DB) FinishTask(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, `UPDATE tasks SET state = ?, last_error = NULL,
		updated_at = ? WHERE id = ?`, models.TaskDone, db.now().UTC(), id)
	return err
}

// RetryTask reschedules a failed attempt with a new ETA, or marks the
// task failed when the retry budget is spent.
func (db *DB) RetryTask(ctx context.Context, id int64, errMsg string, eta time.Time, maxRetries int) error {
	row, err := db.queryRow(ctx, `SELECT retries FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	var retries int
	if err := row.Scan(&retries); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	state := models.TaskPending
	if retries+1 >= maxRetries {
		state = models.TaskFailed
	}
	_, err = db.exec(ctx, `UPDATE tasks SET state = ?, retries = retries + 1,
		last_error = ?, eta = ?, updated_at = ? WHERE id = ?`,
		state, errMsg, eta.UTC(), db.now().UTC(), id)
	return err
}

// GetTask fetches a task by primary key.
func (db *DB) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	row, err := db.queryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// CountRunningTasks returns the number of claimed tasks.
func (db *DB) CountRunningTasks(ctx context.Context) (int, error) {
	row, err := db.queryRow(ctx, `SELECT count(*) FROM tasks WHERE state = ?`, models.TaskRunning)
	if err != nil {
		return 0, err
	}
	var n int
	return n, row.Scan(&n)
}

func collectTasks(rows *sql.Rows) ([]*models.Task, error) {
	defer closeQuietly(rows)
	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
