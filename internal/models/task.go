// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import "time"

// Task states.
const (
	TaskPending = "pending"
	TaskRunning = "running"
	TaskDone    = "done"
	TaskFailed  = "failed"
)

// Task is one delayed background job. Tasks bound to a meeting carry
// the schedule token valid at enqueue time; runners must no-op when the
// meeting has moved on.
type Task struct {
	ID   int64
	Kind string

	// Payload is a JSON argument blob interpreted by the runner.
	Payload string

	MeetingID  int64
	ScheduleID string

	ETA     time.Time
	State   string
	Retries int

	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the task is ready to run.
func (t *Task) Due(now time.Time) bool {
	return t.State == TaskPending && !t.ETA.After(now)
}
