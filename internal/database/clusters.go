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
	"strconv"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

// ErrRangeExhausted is returned when a number range has no free slots.
var ErrRangeExhausted = errors.New("database: number range exhausted")

// CreateCluster inserts a cluster.
func (db *DB) CreateCluster(ctx context.Context, c *models.Cluster) error {
	if !c.Family.Valid() {
		return fmt.Errorf("invalid cluster family %q", c.Family)
	}
	row, err := db.queryRow(ctx, `INSERT INTO clusters
		(title, family, cdr_active, web_host, phone_ivr, internal_domain)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		c.Title, string(c.Family), c.CDRActive, nullStr(c.WebHost),
		nullStr(c.PhoneIVR), nullStr(c.InternalDomain))
	if err != nil {
		return err
	}
	return row.Scan(&c.ID, &c.CreatedAt)
}

func scanCluster(row interface{ Scan(...any) error }) (*models.Cluster, error) {
	var c models.Cluster
	var webHost, phoneIVR, internalDomain sql.NullString
	err := row.Scan(&c.ID, &c.Title, &c.Family, &c.CDRActive, &webHost, &phoneIVR,
		&internalDomain, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.WebHost = scanNullStr(webHost)
	c.PhoneIVR = scanNullStr(phoneIVR)
	c.InternalDomain = scanNullStr(internalDomain)
	return &c, nil
}

// GetCluster fetches a cluster by primary key.
func (db *DB) GetCluster(ctx context.Context, id int64) (*models.Cluster, error) {
	row, err := db.queryRow(ctx, `SELECT id, title, family, cdr_active, web_host,
		phone_ivr, internal_domain, created_at FROM clusters WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	c, err := scanCluster(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// ListClusters returns all clusters ordered by id.
func (db *DB) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	rows, err := db.query(ctx, `SELECT id, title, family, cdr_active, web_host,
		phone_ivr, internal_domain, created_at FROM clusters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateCluster writes all mutable fields back.
func (db *DB) UpdateCluster(ctx context.Context, c *models.Cluster) error {
	_, err := db.exec(ctx, `UPDATE clusters SET title = ?, family = ?, cdr_active = ?,
		web_host = ?, phone_ivr = ?, internal_domain = ? WHERE id = ?`,
		c.Title, string(c.Family), c.CDRActive, nullStr(c.WebHost),
		nullStr(c.PhoneIVR), nullStr(c.InternalDomain), c.ID)
	return err
}

const providerColumns = `id, cluster_id, title, family, subtype, hostname, api_host,
	port, username, password, verify_tls, enabled, session_id, session_expires,
	software_version, internal_domains, created_at`

func scanProvider(row interface{ Scan(...any) error }) (*models.Provider, error) {
	var p models.Provider
	var title, subtype, apiHost, username, password, sessionID, version, domains sql.NullString
	var sessionExpires sql.NullTime
	err := row.Scan(&p.ID, &p.ClusterID, &title, &p.Family, &subtype, &p.Hostname,
		&apiHost, &p.Port, &username, &password, &p.VerifyTLS, &p.Enabled,
		&sessionID, &sessionExpires, &version, &domains, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Title = scanNullStr(title)
	p.Subtype = scanNullStr(subtype)
	p.APIHost = scanNullStr(apiHost)
	p.Username = scanNullStr(username)
	p.Password = scanNullStr(password)
	p.SessionID = scanNullStr(sessionID)
	p.SessionExpires = scanNullTime(sessionExpires)
	p.SoftwareVersion = scanNullStr(version)
	p.InternalDomains = scanNullStr(domains)
	return &p, nil
}

// CreateProvider inserts a cluster member node.
func (db *DB) CreateProvider(ctx context.Context, p *models.Provider) error {
	row, err := db.queryRow(ctx, `INSERT INTO providers
		(cluster_id, title, family, subtype, hostname, api_host, port, username,
		 password, verify_tls, enabled, software_version, internal_domains)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id, created_at`,
		p.ClusterID, nullStr(p.Title), string(p.Family), nullStr(p.Subtype),
		p.Hostname, nullStr(p.APIHost), p.Port, nullStr(p.Username),
		nullStr(p.Password), p.VerifyTLS, p.Enabled,
		nullStr(p.SoftwareVersion), nullStr(p.InternalDomains))
	if err != nil {
		return err
	}
	return row.Scan(&p.ID, &p.CreatedAt)
}

// GetProvider fetches a node by primary key.
func (db *DB) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	row, err := db.queryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProviders returns a cluster's member nodes ordered by id,
// service nodes excluded.
func (db *DB) ListProviders(ctx context.Context, clusterID int64) ([]*models.Provider, error) {
	rows, err := db.query(ctx, `SELECT `+providerColumns+` FROM providers
		WHERE cluster_id = ? AND (subtype IS NULL OR subtype = '') ORDER BY id`, clusterID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListClusterNodes returns every node of the cluster, service nodes
// included.
func (db *DB) ListClusterNodes(ctx context.Context, clusterID int64) ([]*models.Provider, error) {
	rows, err := db.query(ctx, `SELECT `+providerColumns+` FROM providers
		WHERE cluster_id = ? ORDER BY id`, clusterID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider writes all mutable fields back.
func (db *DB) UpdateProvider(ctx context.Context, p *models.Provider) error {
	_, err := db.exec(ctx, `UPDATE providers SET cluster_id = ?, title = ?,
		family = ?, subtype = ?, hostname = ?, api_host = ?, port = ?,
		username = ?, password = ?, verify_tls = ?, enabled = ?,
		software_version = ?, internal_domains = ? WHERE id = ?`,
		p.ClusterID, nullStr(p.Title), string(p.Family), nullStr(p.Subtype),
		p.Hostname, nullStr(p.APIHost), p.Port, nullStr(p.Username),
		nullStr(p.Password), p.VerifyTLS, p.Enabled,
		nullStr(p.SoftwareVersion), nullStr(p.InternalDomains), p.ID)
	return err
}

// SaveSession persists the session cookie obtained at login so peer
// processes reuse it instead of logging in again.
func (db *DB) SaveSession(ctx context.Context, providerID int64, sessionID string, expires time.Time) error {
	_, err := db.exec(ctx, `UPDATE providers SET session_id = ?, session_expires = ?
		WHERE id = ?`, nullStr(sessionID), nullTime(expires), providerID)
	return err
}

// SaveProviderVersion records the probed software version.
func (db *DB) SaveProviderVersion(ctx context.Context, providerID int64, version string) error {
	_, err := db.exec(ctx, `UPDATE providers SET software_version = ? WHERE id = ?`,
		nullStr(version), providerID)
	return err
}

const clusterSettingsColumns = `id, cluster_id, customer_id, main_domain,
	additional_domains, web_domain, phone_ivr, dial_out_location, theme_profile,
	scheduled_room_number_range_id, static_room_number_range_id,
	remove_expired_rooms_seconds, set_call_id_as_uri, use_local_database`

func scanClusterSettings(row interface{ Scan(...any) error }) (*models.ClusterSettings, error) {
	var s models.ClusterSettings
	var customerID, schedRange, staticRange sql.NullInt64
	var mainDomain, addDomains, webDomain, phoneIVR, dialOut, theme sql.NullString
	var removeExpiredSec int64
	err := row.Scan(&s.ID, &s.ClusterID, &customerID, &mainDomain, &addDomains,
		&webDomain, &phoneIVR, &dialOut, &theme, &schedRange, &staticRange,
		&removeExpiredSec, &s.SetCallIDAsURI, &s.UseLocalDatabase)
	if err != nil {
		return nil, err
	}
	s.CustomerID = scanNullInt(customerID)
	s.MainDomain = scanNullStr(mainDomain)
	s.AdditionalDomains = scanNullStr(addDomains)
	s.WebDomain = scanNullStr(webDomain)
	s.PhoneIVR = scanNullStr(phoneIVR)
	s.DialOutLocation = scanNullStr(dialOut)
	s.ThemeProfile = scanNullStr(theme)
	s.ScheduledRoomNumberRangeID = scanNullInt(schedRange)
	s.StaticRoomNumberRangeID = scanNullInt(staticRange)
	s.RemoveExpiredRooms = time.Duration(removeExpiredSec) * time.Second
	return &s, nil
}

// UpsertClusterSettings inserts or replaces the settings row for
// (cluster, customer). A zero customer id stores the cluster default.
func (db *DB) UpsertClusterSettings(ctx context.Context, s *models.ClusterSettings) error {
	mu := db.lockRow(fmt.Sprintf("cluster-settings:%d:%d", s.ClusterID, s.CustomerID))
	defer mu.Unlock()

	existing, err := db.getClusterSettingsRow(ctx, s.ClusterID, s.CustomerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing != nil {
		s.ID = existing.ID
		_, err := db.exec(ctx, `UPDATE cluster_settings SET main_domain = ?,
			additional_domains = ?, web_domain = ?, phone_ivr = ?,
			dial_out_location = ?, theme_profile = ?,
			scheduled_room_number_range_id = ?, static_room_number_range_id = ?,
			remove_expired_rooms_seconds = ?, set_call_id_as_uri = ?,
			use_local_database = ? WHERE id = ?`,
			nullStr(s.MainDomain), nullStr(s.AdditionalDomains), nullStr(s.WebDomain),
			nullStr(s.PhoneIVR), nullStr(s.DialOutLocation), nullStr(s.ThemeProfile),
			nullInt(s.ScheduledRoomNumberRangeID), nullInt(s.StaticRoomNumberRangeID),
			int64(s.RemoveExpiredRooms/time.Second), s.SetCallIDAsURI,
			s.UseLocalDatabase, s.ID)
		return err
	}
	row, err := db.queryRow(ctx, `INSERT INTO cluster_settings
		(cluster_id, customer_id, main_domain, additional_domains, web_domain,
		 phone_ivr, dial_out_location, theme_profile,
		 scheduled_room_number_range_id, static_room_number_range_id,
		 remove_expired_rooms_seconds, set_call_id_as_uri, use_local_database)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		s.ClusterID, nullInt(s.CustomerID), nullStr(s.MainDomain),
		nullStr(s.AdditionalDomains), nullStr(s.WebDomain), nullStr(s.PhoneIVR),
		nullStr(s.DialOutLocation), nullStr(s.ThemeProfile),
		nullInt(s.ScheduledRoomNumberRangeID), nullInt(s.StaticRoomNumberRangeID),
		int64(s.RemoveExpiredRooms/time.Second), s.SetCallIDAsURI, s.UseLocalDatabase)
	if err != nil {
		return err
	}
	return row.Scan(&s.ID)
}

func (db *DB) getClusterSettingsRow(ctx context.Context, clusterID, customerID int64) (*models.ClusterSettings, error) {
	q := `SELECT ` + clusterSettingsColumns + ` FROM cluster_settings WHERE cluster_id = ? AND `
	args := []any{clusterID}
	if customerID > 0 {
		q += `customer_id = ?`
		args = append(args, customerID)
	} else {
		q += `customer_id IS NULL`
	}
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanClusterSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetClusterSettings returns the stored settings row for the given
// (cluster, customer) pair, ErrNotFound when no row exists. Fallback
// to cluster defaults happens in the cluster package.
func (db *DB) GetClusterSettings(ctx context.Context, clusterID, customerID int64) (*models.ClusterSettings, error) {
	return db.getClusterSettingsRow(ctx, clusterID, customerID)
}

// CreateNumberRange inserts a number range with next = start.
func (db *DB) CreateNumberRange(ctx context.Context, r *models.NumberRange) error {
	if r.Next == 0 {
		r.Next = r.Start
	}
	row, err := db.queryRow(ctx, `INSERT INTO number_ranges
		(cluster_id, title, range_start, range_stop, range_next)
		VALUES (?, ?, ?, ?, ?) RETURNING id`,
		r.ClusterID, nullStr(r.Title), r.Start, r.Stop, r.Next)
	if err != nil {
		return err
	}
	return row.Scan(&r.ID)
}

// GetNumberRange fetches a range by primary key.
func (db *DB) GetNumberRange(ctx context.Context, id int64) (*models.NumberRange, error) {
	row, err := db.queryRow(ctx, `SELECT id, cluster_id, title, range_start,
		range_stop, range_next FROM number_ranges WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	var r models.NumberRange
	var title sql.NullString
	err = row.Scan(&r.ID, &r.ClusterID, &title, &r.Start, &r.Stop, &r.Next)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Title = scanNullStr(title)
	return &r, nil
}

// UseNumberRange allocates the next number from the range, advancing
// the cursor atomically. The caller still has to verify the number is
// unused on the backend; taken() lets it reject a candidate so the
// cursor keeps moving.
func (db *DB) UseNumberRange(ctx context.Context, id int64, taken func(number string) bool) (string, error) {
	mu := db.lockRow(fmt.Sprintf("numberrange:%d", id))
	defer mu.Unlock()

	r, err := db.GetNumberRange(ctx, id)
	if err != nil {
		return "", err
	}

	width := len(strconv.FormatInt(r.Stop, 10))
	for n := r.Next; n <= r.Stop; n++ {
		candidate := fmt.Sprintf("%0*d", width, n)
		if taken != nil && taken(candidate) {
			continue
		}
		if _, err := db.exec(ctx, `UPDATE number_ranges SET range_next = ? WHERE id = ?`, n+1, id); err != nil {
			return "", err
		}
		return candidate, nil
	}
	return "", ErrRangeExhausted
}
