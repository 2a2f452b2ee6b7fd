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

const callColumns = `id, guid, cluster_id, space_id, name, call_id, tenant_id,
	ts_start, ts_stop, duration_seconds, leg_count, created_at`

func scanCall(row interface{ Scan(...any) error }) (*models.Call, error) {
	var c models.Call
	var spaceID, name, callID, tenantID sql.NullString
	var tsStop sql.NullTime
	var durationSec int64
	err := row.Scan(&c.ID, &c.GUID, &c.ClusterID, &spaceID, &name, &callID,
		&tenantID, &c.TSStart, &tsStop, &durationSec, &c.LegCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.SpaceID = scanNullStr(spaceID)
	c.Name = scanNullStr(name)
	c.CallID = scanNullStr(callID)
	c.TenantID = scanNullStr(tenantID)
	c.TSStart = c.TSStart.UTC()
	c.TSStop = scanNullTime(tsStop)
	c.Duration = time.Duration(durationSec) * time.Second
	return &c, nil
}

// UpsertCall inserts or refreshes a call keyed by (cluster, guid).
func (db *DB) UpsertCall(ctx context.Context, c *models.Call) error {
	row, err := db.queryRow(ctx, `INSERT INTO calls
		(guid, cluster_id, space_id, name, call_id, tenant_id, ts_start, ts_stop,
		 duration_seconds, leg_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cluster_id, guid) DO UPDATE SET
			space_id = excluded.space_id, name = excluded.name,
			call_id = excluded.call_id, tenant_id = excluded.tenant_id,
			ts_start = excluded.ts_start, ts_stop = excluded.ts_stop,
			duration_seconds = excluded.duration_seconds,
			leg_count = excluded.leg_count
		RETURNING id, created_at`,
		c.GUID, c.ClusterID, nullStr(c.SpaceID), nullStr(c.Name), nullStr(c.CallID),
		nullStr(c.TenantID), c.TSStart.UTC(), nullTime(c.TSStop),
		int64(c.Duration/time.Second), c.LegCount)
	if err != nil {
		return err
	}
	return row.Scan(&c.ID, &c.CreatedAt)
}

// GetCallByGUID fetches a call by its backend GUID.
func (db *DB) GetCallByGUID(ctx context.Context, clusterID int64, guid string) (*models.Call, error) {
	row, err := db.queryRow(ctx, `SELECT `+callColumns+` FROM calls
		WHERE cluster_id = ? AND guid = ?`, clusterID, guid)
	if err != nil {
		return nil, err
	}
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// CloseCall stamps a call's end time and final duration.
func (db *DB) CloseCall(ctx context.Context, clusterID int64, guid string, tsStop time.Time) error {
	_, err := db.exec(ctx, `UPDATE calls SET ts_stop = ?,
		duration_seconds = CAST(date_diff('second', ts_start, CAST(? AS TIMESTAMP)) AS BIGINT)
		WHERE cluster_id = ? AND guid = ? AND ts_stop IS NULL`,
		tsStop.UTC(), tsStop.UTC(), clusterID, guid)
	return err
}

// ListOpenCalls returns the cluster's calls without an end stamp.
func (db *DB) ListOpenCalls(ctx context.Context, clusterID int64) ([]*models.Call, error) {
	rows, err := db.query(ctx, `SELECT `+callColumns+` FROM calls
		WHERE cluster_id = ? AND ts_stop IS NULL ORDER BY ts_start, id`, clusterID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountOpenLegs returns the number of open legs attached to a call.
func (db *DB) CountOpenLegs(ctx context.Context, callGUID string) (int, error) {
	row, err := db.queryRow(ctx, `SELECT count(*) FROM legs
		WHERE call_guid = ? AND ts_stop IS NULL`, callGUID)
	if err != nil {
		return 0, err
	}
	var n int
	return n, row.Scan(&n)
}

const legColumns = `id, guid, cluster_id, call_guid, local_alias, remote_alias,
	display_name, direction, protocol, tenant_id, is_external,
	should_count_stats, ts_start, ts_stop, created_at`

func scanLeg(row interface{ Scan(...any) error }) (*models.Leg, error) {
	var l models.Leg
	var callGUID, localAlias, remoteAlias, displayName sql.NullString
	var direction, protocol, tenantID sql.NullString
	var tsStop sql.NullTime
	err := row.Scan(&l.ID, &l.GUID, &l.ClusterID, &callGUID, &localAlias,
		&remoteAlias, &displayName, &direction, &protocol, &tenantID,
		&l.External, &l.ShouldCountStats, &l.TSStart, &tsStop, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.CallGUID = scanNullStr(callGUID)
	l.LocalAlias = scanNullStr(localAlias)
	l.RemoteAlias = scanNullStr(remoteAlias)
	l.DisplayName = scanNullStr(displayName)
	l.Direction = scanNullStr(direction)
	l.Protocol = scanNullStr(protocol)
	l.TenantID = scanNullStr(tenantID)
	l.TSStart = l.TSStart.UTC()
	l.TSStop = scanNullTime(tsStop)
	return &l, nil
}

// UpsertLeg inserts or refreshes a leg keyed by (cluster, guid).
func (db *DB) UpsertLeg(ctx context.Context, l *models.Leg) error {
	row, err := db.queryRow(ctx, `INSERT INTO legs
		(guid, cluster_id, call_guid, local_alias, remote_alias, display_name,
		 direction, protocol, tenant_id, is_external, should_count_stats,
		 ts_start, ts_stop)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (cluster_id, guid) DO UPDATE SET
			call_guid = excluded.call_guid, local_alias = excluded.local_alias,
			remote_alias = excluded.remote_alias,
			display_name = excluded.display_name, direction = excluded.direction,
			protocol = excluded.protocol, tenant_id = excluded.tenant_id,
			is_external = excluded.is_external,
			should_count_stats = excluded.should_count_stats,
			ts_start = excluded.ts_start, ts_stop = excluded.ts_stop
		RETURNING id, created_at`,
		l.GUID, l.ClusterID, nullStr(l.CallGUID), nullStr(l.LocalAlias),
		nullStr(l.RemoteAlias), nullStr(l.DisplayName), nullStr(l.Direction),
		nullStr(l.Protocol), nullStr(l.TenantID), l.External, l.ShouldCountStats,
		l.TSStart.UTC(), nullTime(l.TSStop))
	if err != nil {
		return err
	}
	return row.Scan(&l.ID, &l.CreatedAt)
}

// GetLegByGUID fetches a leg by its backend GUID.
func (db *DB) GetLegByGUID(ctx context.Context, clusterID int64, guid string) (*models.Leg, error) {
	row, err := db.queryRow(ctx, `SELECT `+legColumns+` FROM legs
		WHERE cluster_id = ? AND guid = ?`, clusterID, guid)
	if err != nil {
		return nil, err
	}
	l, err := scanLeg(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// CloseLeg stamps a leg's end time.
func (db *DB) CloseLeg(ctx context.Context, clusterID int64, guid string, tsStop time.Time) error {
	_, err := db.exec(ctx, `UPDATE legs SET ts_stop = ?
		WHERE cluster_id = ? AND guid = ? AND ts_stop IS NULL`,
		tsStop.UTC(), clusterID, guid)
	return err
}

// CloseGhostLegs force-closes legs that have been open longer than the
// age window, stamping them with the given stop time. Returns the
// number of legs flipped.
func (db *DB) CloseGhostLegs(ctx context.Context, clusterID int64, olderThan time.Time, tsStop time.Time) (int64, error) {
	res, err := db.exec(ctx, `UPDATE legs SET ts_stop = ?
		WHERE cluster_id = ? AND ts_stop IS NULL AND ts_start < ?`,
		tsStop.UTC(), clusterID, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
