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

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
)

// TraceScope limits request snapshots to the matching customer,
// cluster, or provider. A zero field matches any row.
type TraceScope struct {
	CustomerID int64
	ClusterID  int64
	ProviderID int64
}

func (s *TraceScope) matches(t *models.TraceLog) bool {
	if s.CustomerID != 0 && s.CustomerID != t.CustomerID {
		return false
	}
	if s.ClusterID != 0 && s.ClusterID != t.ClusterID {
		return false
	}
	if s.ProviderID != 0 && s.ProviderID != t.ProviderID {
		return false
	}
	return true
}

// SetTraceScope enables request snapshot capture for matching rows.
// Passing nil disables capture again.
func (db *DB) SetTraceScope(s *TraceScope) {
	db.traceScope.Store(s)
}

// Trace stores a request snapshot when an active trace scope matches.
// Failures are logged rather than surfaced; tracing must never fail a
// backend request.
func (db *DB) Trace(ctx context.Context, entry models.TraceLog) {
	scope := db.traceScope.Load()
	if scope == nil || !scope.matches(&entry) {
		return
	}
	if err := db.InsertTraceLog(ctx, &entry); err != nil {
		logging.Warn().Err(err).Str("url", entry.URL).Msg("trace insert failed")
	}
}

// LogError stores a backend failure. Unlike traces these are always
// recorded.
func (db *DB) LogError(ctx context.Context, entry models.ErrorLog) {
	if err := db.InsertErrorLog(ctx, &entry); err != nil {
		logging.Warn().Err(err).Str("url", entry.URL).Msg("error log insert failed")
	}
}

// ErrLockHeld is returned when a global lock is taken by another holder.
var ErrLockHeld = errors.New("database: lock held")

// maxLogRows caps the trace and error log tables; the oldest rows are
// pruned once the cap is exceeded.
const maxLogRows = 10000

// AcquireLock takes the named lock for the holder until expiry. An
// expired lock is stolen. Acquisition is serialized per lock name so
// two local goroutines cannot both win.
func (db *DB) AcquireLock(ctx context.Context, name, holder string, expiry time.Duration) error {
	mu := db.lockRow("globallock:" + name)
	defer mu.Unlock()

	now := db.now().UTC()
	row, err := db.queryRow(ctx, `SELECT holder, expires FROM global_locks WHERE name = ?`, name)
	if err != nil {
		return err
	}
	var curHolder string
	var expires time.Time
	scanErr := row.Scan(&curHolder, &expires)
	switch {
	case errors.Is(scanErr, sql.ErrNoRows):
		_, err = db.exec(ctx, `INSERT INTO global_locks (name, holder, expires) VALUES (?, ?, ?)`,
			name, holder, now.Add(expiry))
		return err
	case scanErr != nil:
		return scanErr
	}

	if curHolder != holder && expires.After(now) {
		return ErrLockHeld
	}
	_, err = db.exec(ctx, `UPDATE global_locks SET holder = ?, expires = ? WHERE name = ?`,
		holder, now.Add(expiry), name)
	return err
}

// RefreshLock extends a held lock. Fails when the holder lost it.
func (db *DB) RefreshLock(ctx context.Context, name, holder string, expiry time.Duration) error {
	res, err := db.exec(ctx, `UPDATE global_locks SET expires = ?
		WHERE name = ? AND holder = ?`, db.now().UTC().Add(expiry), name, holder)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseLock drops the lock if still owned by the holder.
func (db *DB) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := db.exec(ctx, `DELETE FROM global_locks WHERE name = ? AND holder = ?`, name, holder)
	return err
}

// GetLock reads the lock row, ErrNotFound when absent.
func (db *DB) GetLock(ctx context.Context, name string) (*models.GlobalLock, error) {
	row, err := db.queryRow(ctx, `SELECT name, holder, expires FROM global_locks WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	var l models.GlobalLock
	err = row.Scan(&l.Name, &l.Holder, &l.Expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Expires = l.Expires.UTC()
	return &l, nil
}

// InsertTraceLog stores a request snapshot and prunes beyond the cap.
func (db *DB) InsertTraceLog(ctx context.Context, t *models.TraceLog) error {
	row, err := db.queryRow(ctx, `INSERT INTO trace_logs
		(customer_id, cluster_id, provider_id, method, url, request_body,
		 response_status, response_body, response_headers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		nullInt(t.CustomerID), nullInt(t.ClusterID), nullInt(t.ProviderID),
		t.Method, t.URL, nullStr(t.RequestBody), t.ResponseStatus,
		nullStr(t.ResponseBody), nullStr(t.ResponseHeaders))
	if err != nil {
		return err
	}
	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		return err
	}
	return db.pruneLog(ctx, "trace_logs")
}

// InsertErrorLog stores a backend failure and prunes beyond the cap.
func (db *DB) InsertErrorLog(ctx context.Context, e *models.ErrorLog) error {
	row, err := db.queryRow(ctx, `INSERT INTO error_logs
		(customer_id, cluster_id, provider_id, origin, url, message)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		nullInt(e.CustomerID), nullInt(e.ClusterID), nullInt(e.ProviderID),
		nullStr(e.Origin), nullStr(e.URL), e.Message)
	if err != nil {
		return err
	}
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		return err
	}
	return db.pruneLog(ctx, "error_logs")
}

func (db *DB) pruneLog(ctx context.Context, table string) error {
	_, err := db.exec(ctx, `DELETE FROM `+table+` WHERE id <= (
		SELECT max(id) - ? FROM `+table+`)`, maxLogRows)
	return err
}

// ListErrorLogs returns the most recent failures, newest first.
func (db *DB) ListErrorLogs(ctx context.Context, limit int) ([]*models.ErrorLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.query(ctx, `SELECT id, customer_id, cluster_id, provider_id,
		origin, url, message, created_at FROM error_logs
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.ErrorLog
	for rows.Next() {
		var e models.ErrorLog
		var customerID, clusterID, providerID sql.NullInt64
		var origin, url sql.NullString
		if err := rows.Scan(&e.ID, &customerID, &clusterID, &providerID, &origin,
			&url, &e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CustomerID = scanNullInt(customerID)
		e.ClusterID = scanNullInt(clusterID)
		e.ProviderID = scanNullInt(providerID)
		e.Origin = scanNullStr(origin)
		e.URL = scanNullStr(url)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListTraceLogs returns the most recent request snapshots, newest first.
func (db *DB) ListTraceLogs(ctx context.Context, limit int) ([]*models.TraceLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.query(ctx, `SELECT id, customer_id, cluster_id, provider_id,
		method, url, request_body, response_status, response_body,
		response_headers, created_at FROM trace_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.TraceLog
	for rows.Next() {
		var t models.TraceLog
		var customerID, clusterID, providerID sql.NullInt64
		var reqBody, respBody, respHeaders sql.NullString
		if err := rows.Scan(&t.ID, &customerID, &clusterID, &providerID, &t.Method,
			&t.URL, &reqBody, &t.ResponseStatus, &respBody, &respHeaders,
			&t.CreatedAt); err != nil {
			return nil, err
		}
		t.CustomerID = scanNullInt(customerID)
		t.ClusterID = scanNullInt(clusterID)
		t.ProviderID = scanNullInt(providerID)
		t.RequestBody = scanNullStr(reqBody)
		t.ResponseBody = scanNullStr(respBody)
		t.ResponseHeaders = scanNullStr(respHeaders)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// GetSyncCursor reads the ingest cursor for a (cluster, source) pair.
func (db *DB) GetSyncCursor(ctx context.Context, clusterID int64, source string) (*models.SyncCursor, error) {
	row, err := db.queryRow(ctx, `SELECT cluster_id, source, last_end, page_offset,
		updated_at FROM sync_cursors WHERE cluster_id = ? AND source = ?`,
		clusterID, source)
	if err != nil {
		return nil, err
	}
	var c models.SyncCursor
	err = row.Scan(&c.ClusterID, &c.Source, &c.LastEnd, &c.Offset, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LastEnd = c.LastEnd.UTC()
	return &c, nil
}

// SaveSyncCursor writes the ingest cursor back.
func (db *DB) SaveSyncCursor(ctx context.Context, c *models.SyncCursor) error {
	c.UpdatedAt = db.now().UTC()
	_, err := db.exec(ctx, `INSERT INTO sync_cursors
		(cluster_id, source, last_end, page_offset, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (cluster_id, source) DO UPDATE SET
			last_end = excluded.last_end, page_offset = excluded.page_offset,
			updated_at = excluded.updated_at`,
		c.ClusterID, c.Source, c.LastEnd.UTC(), c.Offset, c.UpdatedAt)
	return err
}

// Heartbeat upserts the worker's liveness row.
func (db *DB) Heartbeat(ctx context.Context, name string, runningTasks int) error {
	_, err := db.exec(ctx, `INSERT INTO worker_status (name, last_heartbeat, running_tasks)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			last_heartbeat = excluded.last_heartbeat,
			running_tasks = excluded.running_tasks`,
		name, db.now().UTC(), runningTasks)
	return err
}

// GetWorkerStatus reads a worker's liveness row.
func (db *DB) GetWorkerStatus(ctx context.Context, name string) (*models.WorkerStatus, error) {
	row, err := db.queryRow(ctx, `SELECT name, last_heartbeat, running_tasks
		FROM worker_status WHERE name = ?`, name)
	if err != nil {
		return nil, err
	}
	var w models.WorkerStatus
	err = row.Scan(&w.Name, &w.LastHeartbeat, &w.RunningTasks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.LastHeartbeat = w.LastHeartbeat.UTC()
	return &w, nil
}

// MirrorFresh reports whether any provider of the cluster was synced
// within maxAge. Gate for cache-first reads.
func (db *DB) MirrorFresh(ctx context.Context, clusterID int64, maxAge time.Duration) (bool, error) {
	row, err := db.queryRow(ctx, `SELECT max(s.last_synced) FROM spaces s
		JOIN providers p ON p.id = s.provider_id WHERE p.cluster_id = ?`, clusterID)
	if err != nil {
		return false, err
	}
	var last sql.NullTime
	if err := row.Scan(&last); err != nil {
		return false, err
	}
	if !last.Valid {
		return false, nil
	}
	return db.now().Sub(last.Time) < maxAge, nil
}
