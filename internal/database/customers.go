// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

// ErrNotFound is returned for lookups that matched no row.
var ErrNotFound = errors.New("database: not found")

const customerColumns = `id, title, tenant_id_a, tenant_id_b, cluster_id, enable_core,
	enable_epm, enable_streaming, enable_recording, username_prefix,
	organization_unit, remove_expired_rooms_seconds, shared_key, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*models.Customer, error) {
	var c models.Customer
	var tenantA, tenantB, prefix, ou, sharedKey sql.NullString
	var clusterID sql.NullInt64
	var removeExpiredSec int64
	err := row.Scan(&c.ID, &c.Title, &tenantA, &tenantB, &clusterID, &c.EnableCore,
		&c.EnableEPM, &c.EnableStreaming, &c.EnableRecording, &prefix,
		&ou, &removeExpiredSec, &sharedKey, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.TenantIDA = scanNullStr(tenantA)
	c.TenantIDB = scanNullStr(tenantB)
	c.ClusterID = scanNullInt(clusterID)
	c.UsernamePrefix = scanNullStr(prefix)
	c.OrganizationUnit = scanNullStr(ou)
	c.SharedKey = scanNullStr(sharedKey)
	c.RemoveExpiredRooms = time.Duration(removeExpiredSec) * time.Second
	return &c, nil
}

// CreateCustomer inserts the customer and fills in its assigned id.
func (db *DB) CreateCustomer(ctx context.Context, c *models.Customer) error {
	row, err := db.queryRow(ctx, `INSERT INTO customers
		(title, tenant_id_a, tenant_id_b, cluster_id, enable_core, enable_epm,
		 enable_streaming, enable_recording, username_prefix, organization_unit,
		 remove_expired_rooms_seconds, shared_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		c.Title, nullStr(c.TenantIDA), nullStr(c.TenantIDB), nullInt(c.ClusterID),
		c.EnableCore, c.EnableEPM, c.EnableStreaming, c.EnableRecording,
		nullStr(c.UsernamePrefix), nullStr(c.OrganizationUnit),
		int64(c.RemoveExpiredRooms/time.Second), nullStr(c.SharedKey))
	if err != nil {
		return err
	}
	if err := row.Scan(&c.ID, &c.CreatedAt); err != nil {
		return fmt.Errorf("creating customer: %w", err)
	}
	return nil
}

// GetCustomer fetches a customer by primary key.
func (db *DB) GetCustomer(ctx context.Context, id int64) (*models.Customer, error) {
	row, err := db.queryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// GetCustomerByTenant resolves a customer from a raw backend tenant id
// for the given family, scoped to the cluster when clusterID > 0.
func (db *DB) GetCustomerByTenant(ctx context.Context, clusterID int64, family models.Family, tenantID string) (*models.Customer, error) {
	col := "tenant_id_a"
	if family == models.FamilyConfServer {
		col = "tenant_id_b"
	}
	q := `SELECT ` + customerColumns + ` FROM customers WHERE ` + col + ` = ?`
	args := []any{tenantID}
	if clusterID > 0 {
		q += ` AND (cluster_id = ? OR cluster_id IS NULL)`
		args = append(args, clusterID)
	}
	q += ` ORDER BY cluster_id DESC NULLS LAST LIMIT 1`
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListCustomers returns all customers ordered by id.
func (db *DB) ListCustomers(ctx context.Context) ([]*models.Customer, error) {
	rows, err := db.query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCustomer writes all mutable fields back.
func (db *DB) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := db.exec(ctx, `UPDATE customers SET title = ?, tenant_id_a = ?,
		tenant_id_b = ?, cluster_id = ?, enable_core = ?, enable_epm = ?,
		enable_streaming = ?, enable_recording = ?, username_prefix = ?,
		organization_unit = ?, remove_expired_rooms_seconds = ?, shared_key = ?
		WHERE id = ?`,
		c.Title, nullStr(c.TenantIDA), nullStr(c.TenantIDB), nullInt(c.ClusterID),
		c.EnableCore, c.EnableEPM, c.EnableStreaming, c.EnableRecording,
		nullStr(c.UsernamePrefix), nullStr(c.OrganizationUnit),
		int64(c.RemoveExpiredRooms/time.Second), nullStr(c.SharedKey), c.ID)
	return err
}

// EnsureTenantIDB returns the customer's family-B tenant id, assigning
// a fresh UUID on first use. Assignment is serialized per customer so
// concurrent bookings agree on the value.
func (db *DB) EnsureTenantIDB(ctx context.Context, customerID int64, newID func() string) (string, error) {
	mu := db.lockRow(fmt.Sprintf("customer-tenant:%d", customerID))
	defer mu.Unlock()

	c, err := db.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	if c.TenantIDB != "" {
		return c.TenantIDB, nil
	}
	id := newID()
	if _, err := db.exec(ctx, `UPDATE customers SET tenant_id_b = ? WHERE id = ?`, id, customerID); err != nil {
		return "", err
	}
	return id, nil
}

// CreateCustomerKey inserts an API key row.
func (db *DB) CreateCustomerKey(ctx context.Context, k *models.CustomerKey) error {
	row, err := db.queryRow(ctx, `INSERT INTO customer_keys
		(customer_id, api_key, title, enabled, limit_api)
		VALUES (?, ?, ?, ?, ?) RETURNING id, created_at`,
		k.CustomerID, k.Key, nullStr(k.Title), k.Active, k.LimitAPI)
	if err != nil {
		return err
	}
	return row.Scan(&k.ID, &k.CreatedAt)
}

// GetCustomerByAPIKey resolves the customer owning an enabled API key.
// Comparison is exact; callers normalize whitespace first.
func (db *DB) GetCustomerByAPIKey(ctx context.Context, apiKey string) (*models.Customer, *models.CustomerKey, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil, ErrNotFound
	}
	row, err := db.queryRow(ctx, `SELECT k.id, k.customer_id, k.api_key, k.title,
		k.enabled, k.limit_api, k.created_at FROM customer_keys k
		WHERE k.api_key = ? AND k.enabled`, apiKey)
	if err != nil {
		return nil, nil, err
	}
	var k models.CustomerKey
	var title sql.NullString
	err = row.Scan(&k.ID, &k.CustomerID, &k.Key, &title, &k.Active, &k.LimitAPI, &k.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	k.Title = scanNullStr(title)

	c, err := db.GetCustomer(ctx, k.CustomerID)
	if err != nil {
		return nil, nil, err
	}
	return c, &k, nil
}

// ListCustomerKeys returns all keys for a customer.
func (db *DB) ListCustomerKeys(ctx context.Context, customerID int64) ([]*models.CustomerKey, error) {
	rows, err := db.query(ctx, `SELECT id, customer_id, api_key, title, enabled,
		limit_api, created_at FROM customer_keys WHERE customer_id = ? ORDER BY id`, customerID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.CustomerKey
	for rows.Next() {
		var k models.CustomerKey
		var title sql.NullString
		if err := rows.Scan(&k.ID, &k.CustomerID, &k.Key, &title, &k.Active, &k.LimitAPI, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.Title = scanNullStr(title)
		out = append(out, &k)
	}
	return out, rows.Err()
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
