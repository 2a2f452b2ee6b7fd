// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/confatlas/confatlas/internal/models"
)

const matchRuleColumns = `id, cluster_id, customer_id, prefix, suffix, regex,
	match_mode, priority, room_count, require_authorization, tenant_id`

func scanMatchRule(row interface{ Scan(...any) error }) (*models.MatchRule, error) {
	var r models.MatchRule
	var customerID sql.NullInt64
	var prefix, suffix, regex, tenantID sql.NullString
	err := row.Scan(&r.ID, &r.ClusterID, &customerID, &prefix, &suffix, &regex,
		&r.Mode, &r.Priority, &r.RoomCount, &r.RequireAuthorization, &tenantID)
	if err != nil {
		return nil, err
	}
	r.CustomerID = scanNullInt(customerID)
	r.Prefix = scanNullStr(prefix)
	r.Suffix = scanNullStr(suffix)
	r.Regex = scanNullStr(regex)
	r.TenantID = scanNullStr(tenantID)
	return &r, nil
}

// CreateMatchRule inserts a rule after validating it.
func (db *DB) CreateMatchRule(ctx context.Context, r *models.MatchRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	row, err := db.queryRow(ctx, `INSERT INTO match_rules
		(cluster_id, customer_id, prefix, suffix, regex, match_mode, priority,
		 room_count, require_authorization, tenant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.ClusterID, nullInt(r.CustomerID), nullStr(r.Prefix), nullStr(r.Suffix),
		nullStr(r.Regex), string(r.Mode), r.Priority, r.RoomCount,
		r.RequireAuthorization, nullStr(r.TenantID))
	if err != nil {
		return err
	}
	return row.Scan(&r.ID)
}

// UpdateMatchRule writes all mutable fields back.
func (db *DB) UpdateMatchRule(ctx context.Context, r *models.MatchRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	_, err := db.exec(ctx, `UPDATE match_rules SET cluster_id = ?, customer_id = ?,
		prefix = ?, suffix = ?, regex = ?, match_mode = ?, priority = ?,
		room_count = ?, require_authorization = ?, tenant_id = ? WHERE id = ?`,
		r.ClusterID, nullInt(r.CustomerID), nullStr(r.Prefix), nullStr(r.Suffix),
		nullStr(r.Regex), string(r.Mode), r.Priority, r.RoomCount,
		r.RequireAuthorization, nullStr(r.TenantID), r.ID)
	return err
}

// DeleteMatchRule removes a rule.
func (db *DB) DeleteMatchRule(ctx context.Context, id int64) error {
	_, err := db.exec(ctx, `DELETE FROM match_rules WHERE id = ?`, id)
	return err
}

// GetMatchRule fetches a rule by primary key.
func (db *DB) GetMatchRule(ctx context.Context, id int64) (*models.MatchRule, error) {
	row, err := db.queryRow(ctx, `SELECT `+matchRuleColumns+` FROM match_rules WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	r, err := scanMatchRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListMatchRules returns the rules for a cluster in evaluation order,
// lowest priority value first with the rule id as tie breaker.
func (db *DB) ListMatchRules(ctx context.Context, clusterID int64) ([]*models.MatchRule, error) {
	rows, err := db.query(ctx, `SELECT `+matchRuleColumns+` FROM match_rules
		WHERE cluster_id = ? ORDER BY priority, id`, clusterID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.MatchRule
	for rows.Next() {
		r, err := scanMatchRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAllMatchRules returns every rule across clusters in evaluation order.
func (db *DB) ListAllMatchRules(ctx context.Context) ([]*models.MatchRule, error) {
	rows, err := db.query(ctx, `SELECT `+matchRuleColumns+` FROM match_rules ORDER BY priority, id`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.MatchRule
	for rows.Next() {
		r, err := scanMatchRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
