// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import "time"

// GlobalLock is a named cross-process mutex row. A lock is held while
// its expiry lies in the future; holders refresh the expiry after each
// sub-step of long operations.
type GlobalLock struct {
	Name    string
	Holder  string
	Expires time.Time
}

// Held reports whether the lock is currently taken.
func (l *GlobalLock) Held(now time.Time) bool {
	return l.Expires.After(now)
}

// TraceLog is one stored request/response snapshot, written when an
// active trace matches the request's customer/cluster/provider tuple.
type TraceLog struct {
	ID         int64
	CustomerID int64
	ClusterID  int64
	ProviderID int64

	Method          string
	URL             string
	RequestBody     string
	ResponseStatus  int
	ResponseBody    string
	ResponseHeaders string

	CreatedAt time.Time
}

// ErrorLog is one stored backend failure with its origin context.
type ErrorLog struct {
	ID         int64
	CustomerID int64
	ClusterID  int64
	ProviderID int64

	Origin  string
	URL     string
	Message string

	CreatedAt time.Time
}

// SyncCursor tracks ingest progress per (cluster, source) pair.
// Offset disambiguates within a page whose max end time equals the
// cursor.
type SyncCursor struct {
	ClusterID int64
	Source    string
	LastEnd   time.Time
	Offset    int
	UpdatedAt time.Time
}

// WorkerStatus is the task-runner heartbeat row read by health checks.
type WorkerStatus struct {
	Name          string
	LastHeartbeat time.Time
	RunningTasks  int
}

// Alive reports whether the worker has beaten within the window.
func (w *WorkerStatus) Alive(now time.Time, window time.Duration) bool {
	return now.Sub(w.LastHeartbeat) <= window
}
