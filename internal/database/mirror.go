// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

const spaceColumns = `id, provider_id, external_id, name, uri, call_id, pin, guest_pin,
	allow_guests, secondary_uri, passcode, service_type, tenant_id, theme,
	organization_unit, owner_email, tag, is_scheduled, ts_auto_remove,
	last_synced, is_active`

func scanSpace(row interface{ Scan(...any) error }) (*models.Space, error) {
	var s models.Space
	var name, uri, callID, pin, guestPIN, secURI, passcode, svcType sql.NullString
	var tenantID, theme, ou, ownerEmail, tag sql.NullString
	var tsAutoRemove sql.NullTime
	err := row.Scan(&s.ID, &s.ProviderID, &s.ExternalID, &name, &uri, &callID, &pin,
		&guestPIN, &s.AllowGuests, &secURI, &passcode, &svcType, &tenantID, &theme,
		&ou, &ownerEmail, &tag, &s.IsScheduled, &tsAutoRemove, &s.LastSynced, &s.IsActive)
	if err != nil {
		return nil, err
	}
	s.Name = scanNullStr(name)
	s.URI = scanNullStr(uri)
	s.CallID = scanNullStr(callID)
	s.PIN = scanNullStr(pin)
	s.GuestPIN = scanNullStr(guestPIN)
	s.SecondaryURI = scanNullStr(secURI)
	s.Passcode = scanNullStr(passcode)
	s.ServiceType = scanNullStr(svcType)
	s.TenantID = scanNullStr(tenantID)
	s.Theme = scanNullStr(theme)
	s.OrganizationUnit = scanNullStr(ou)
	s.OwnerEmail = scanNullStr(ownerEmail)
	s.Tag = scanNullStr(tag)
	s.TSAutoRemove = scanNullTime(tsAutoRemove)
	s.LastSynced = s.LastSynced.UTC()
	return &s, nil
}

// UpsertSpace inserts or refreshes a mirrored space keyed by
// (provider, external id). IsActive is always reset to true.
func (db *DB) UpsertSpace(ctx context.Context, s *models.Space) error {
	s.IsActive = true
	row, err := db.queryRow(ctx, `INSERT INTO spaces
		(provider_id, external_id, name, uri, call_id, pin, guest_pin, allow_guests,
		 secondary_uri, passcode, service_type, tenant_id, theme, organization_unit,
		 owner_email, tag, is_scheduled, ts_auto_remove, last_synced, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, true)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			name = excluded.name, uri = excluded.uri, call_id = excluded.call_id,
			pin = excluded.pin, guest_pin = excluded.guest_pin,
			allow_guests = excluded.allow_guests, secondary_uri = excluded.secondary_uri,
			passcode = excluded.passcode, service_type = excluded.service_type,
			tenant_id = excluded.tenant_id, theme = excluded.theme,
			organization_unit = excluded.organization_unit,
			owner_email = excluded.owner_email, tag = excluded.tag,
			is_scheduled = excluded.is_scheduled, ts_auto_remove = excluded.ts_auto_remove,
			last_synced = excluded.last_synced, is_active = true
		RETURNING id`,
		s.ProviderID, s.ExternalID, nullStr(s.Name), nullStr(s.URI), nullStr(s.CallID),
		nullStr(s.PIN), nullStr(s.GuestPIN), s.AllowGuests, nullStr(s.SecondaryURI),
		nullStr(s.Passcode), nullStr(s.ServiceType), nullStr(s.TenantID),
		nullStr(s.Theme), nullStr(s.OrganizationUnit), nullStr(s.OwnerEmail),
		nullStr(s.Tag), s.IsScheduled, nullTime(s.TSAutoRemove), s.LastSynced.UTC())
	if err != nil {
		return err
	}
	return row.Scan(&s.ID)
}

// GetSpace fetches a space by primary key.
func (db *DB) GetSpace(ctx context.Context, id int64) (*models.Space, error) {
	row, err := db.queryRow(ctx, `SELECT `+spaceColumns+` FROM spaces WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetSpaceByExternalID fetches a space by its backend id.
func (db *DB) GetSpaceByExternalID(ctx context.Context, providerID int64, externalID string) (*models.Space, error) {
	row, err := db.queryRow(ctx, `SELECT `+spaceColumns+` FROM spaces
		WHERE provider_id = ? AND external_id = ?`, providerID, externalID)
	if err != nil {
		return nil, err
	}
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// FindSpaceByURI resolves an active space on any of the given providers
// whose uri, secondary uri or call-id equals the candidate. Matching is
// case-insensitive.
func (db *DB) FindSpaceByURI(ctx context.Context, providerIDs []int64, candidate string) (*models.Space, error) {
	if len(providerIDs) == 0 {
		return nil, ErrNotFound
	}
	candidate = strings.ToLower(candidate)
	q := `SELECT ` + spaceColumns + ` FROM spaces
		WHERE is_active AND provider_id IN (` + placeholders(len(providerIDs)) + `)
		AND (lower(uri) = ? OR lower(secondary_uri) = ? OR call_id = ?)
		ORDER BY id LIMIT 1`
	args := make([]any, 0, len(providerIDs)+3)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, candidate, candidate, candidate)
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// FindSpaceByName resolves an active space by exact conference name,
// case-insensitive. Names are not unique; the lowest id wins.
func (db *DB) FindSpaceByName(ctx context.Context, providerIDs []int64, name string) (*models.Space, error) {
	if len(providerIDs) == 0 || name == "" {
		return nil, ErrNotFound
	}
	q := `SELECT ` + spaceColumns + ` FROM spaces
		WHERE is_active AND provider_id IN (` + placeholders(len(providerIDs)) + `)
		AND lower(name) = ? ORDER BY id LIMIT 1`
	args := make([]any, 0, len(providerIDs)+1)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, strings.ToLower(name))
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// SearchActiveSpaces returns active spaces matching the query. The name
// must match at the start or after a space; uri, call-id and owner
// email match by prefix. tenant == nil means any tenant, a pointer to
// "" means spaces with no tenant. Results are ordered by lowercased
// name, then id.
func (db *DB) SearchActiveSpaces(ctx context.Context, providerIDs []int64, tenant *string, queryStr string, limit int) ([]*models.Space, error) {
	if len(providerIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	needle := strings.ToLower(strings.TrimSpace(queryStr))

	q := `SELECT ` + spaceColumns + ` FROM spaces
		WHERE is_active AND provider_id IN (` + placeholders(len(providerIDs)) + `)`
	args := make([]any, 0, len(providerIDs)+8)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	if tenant != nil {
		if *tenant == "" {
			q += ` AND (tenant_id IS NULL OR tenant_id = '')`
		} else {
			q += ` AND tenant_id = ?`
			args = append(args, *tenant)
		}
	}
	if needle != "" {
		q += ` AND (lower(name) LIKE ? OR lower(name) LIKE ?
			OR lower(uri) LIKE ? OR call_id LIKE ? OR lower(owner_email) LIKE ?)`
		args = append(args, needle+"%", "% "+needle+"%", needle+"%", needle+"%", needle+"%")
	}
	q += ` ORDER BY lower(name), id LIMIT ?`
	args = append(args, limit)

	rows, err := db.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Space
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountTenantSpaces counts active spaces per tenant on a provider.
func (db *DB) CountTenantSpaces(ctx context.Context, providerID int64, tenantID string) (int, error) {
	row, err := db.queryRow(ctx, `SELECT count(*) FROM spaces
		WHERE provider_id = ? AND tenant_id = ? AND is_active`, providerID, tenantID)
	if err != nil {
		return 0, err
	}
	var n int
	return n, row.Scan(&n)
}

// CountTenantUsers counts active mirrored users per tenant on a provider.
func (db *DB) CountTenantUsers(ctx context.Context, providerID int64, tenantID string) (int, error) {
	row, err := db.queryRow(ctx, `SELECT count(*) FROM users
		WHERE provider_id = ? AND tenant_id = ? AND is_active`, providerID, tenantID)
	if err != nil {
		return 0, err
	}
	var n int
	return n, row.Scan(&n)
}

// DeleteSpace removes a space row and its dependents.
func (db *DB) DeleteSpace(ctx context.Context, id int64) error {
	if _, err := db.exec(ctx, `DELETE FROM space_aliases WHERE space_id = ?`, id); err != nil {
		return err
	}
	if _, err := db.exec(ctx, `DELETE FROM auto_participants WHERE space_id = ?`, id); err != nil {
		return err
	}
	_, err := db.exec(ctx, `DELETE FROM spaces WHERE id = ?`, id)
	return err
}

const aliasColumns = `id, provider_id, external_id, space_id, alias, descriptor,
	last_synced, is_active`

func scanAlias(row interface{ Scan(...any) error }) (*models.SpaceAlias, error) {
	var a models.SpaceAlias
	var descriptor sql.NullString
	err := row.Scan(&a.ID, &a.ProviderID, &a.ExternalID, &a.SpaceID, &a.Alias,
		&descriptor, &a.LastSynced, &a.IsActive)
	if err != nil {
		return nil, err
	}
	a.Descriptor = scanNullStr(descriptor)
	a.LastSynced = a.LastSynced.UTC()
	return &a, nil
}

// UpsertSpaceAlias inserts or refreshes a mirrored alias.
func (db *DB) UpsertSpaceAlias(ctx context.Context, a *models.SpaceAlias) error {
	a.IsActive = true
	row, err := db.queryRow(ctx, `INSERT INTO space_aliases
		(provider_id, external_id, space_id, alias, descriptor, last_synced, is_active)
		VALUES (?, ?, ?, ?, ?, ?, true)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			space_id = excluded.space_id, alias = excluded.alias,
			descriptor = excluded.descriptor, last_synced = excluded.last_synced,
			is_active = true
		RETURNING id`,
		a.ProviderID, a.ExternalID, a.SpaceID, a.Alias, nullStr(a.Descriptor),
		a.LastSynced.UTC())
	if err != nil {
		return err
	}
	return row.Scan(&a.ID)
}

// FindSpaceByAlias resolves an active space through its alias table.
// Matching is case-insensitive.
func (db *DB) FindSpaceByAlias(ctx context.Context, providerIDs []int64, alias string) (*models.Space, error) {
	if len(providerIDs) == 0 {
		return nil, ErrNotFound
	}
	q := `SELECT ` + prefixColumns(spaceColumns, "s.") + `
		FROM space_aliases a JOIN spaces s ON s.id = a.space_id
		WHERE a.is_active AND s.is_active
		AND a.provider_id IN (` + placeholders(len(providerIDs)) + `)
		AND lower(a.alias) = ? ORDER BY a.id LIMIT 1`
	args := make([]any, 0, len(providerIDs)+1)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, strings.ToLower(alias))
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	s, err := scanSpace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// AliasExists reports whether any active alias or space uri on the
// providers equals the candidate. Used to reject number range picks.
func (db *DB) AliasExists(ctx context.Context, providerIDs []int64, candidate string) (bool, error) {
	if len(providerIDs) == 0 {
		return false, nil
	}
	ph := placeholders(len(providerIDs))
	q := `SELECT EXISTS (
			SELECT 1 FROM space_aliases WHERE is_active AND provider_id IN (` + ph + `) AND lower(alias) = ?
		) OR EXISTS (
			SELECT 1 FROM spaces WHERE is_active AND provider_id IN (` + ph + `)
			AND (lower(uri) = ? OR call_id = ?)
		)`
	lower := strings.ToLower(candidate)
	args := make([]any, 0, 2*len(providerIDs)+3)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, lower)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, lower, candidate)
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return false, err
	}
	var exists bool
	return exists, row.Scan(&exists)
}

// ListSpaceAliases returns the active aliases of a space.
func (db *DB) ListSpaceAliases(ctx context.Context, spaceID int64) ([]*models.SpaceAlias, error) {
	rows, err := db.query(ctx, `SELECT `+aliasColumns+` FROM space_aliases
		WHERE space_id = ? AND is_active ORDER BY id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.SpaceAlias
	for rows.Next() {
		a, err := scanAlias(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpsertAutoParticipant inserts or refreshes a mirrored auto participant.
func (db *DB) UpsertAutoParticipant(ctx context.Context, p *models.AutoParticipant) error {
	p.IsActive = true
	row, err := db.queryRow(ctx, `INSERT INTO auto_participants
		(provider_id, external_id, space_id, alias, protocol, role, keep_alive,
		 streaming, dtmf_seq, remote_name, last_synced, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, true)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			space_id = excluded.space_id, alias = excluded.alias,
			protocol = excluded.protocol, role = excluded.role,
			keep_alive = excluded.keep_alive, streaming = excluded.streaming,
			dtmf_seq = excluded.dtmf_seq, remote_name = excluded.remote_name,
			last_synced = excluded.last_synced, is_active = true
		RETURNING id`,
		p.ProviderID, p.ExternalID, p.SpaceID, p.Alias, nullStr(p.Protocol),
		nullStr(p.Role), p.KeepAlive, p.Streaming, nullStr(p.DTMFSeq),
		nullStr(p.RemoteName), p.LastSynced.UTC())
	if err != nil {
		return err
	}
	return row.Scan(&p.ID)
}

// ListAutoParticipants returns the active auto participants of a space.
func (db *DB) ListAutoParticipants(ctx context.Context, spaceID int64) ([]*models.AutoParticipant, error) {
	rows, err := db.query(ctx, `SELECT id, provider_id, external_id, space_id, alias,
		protocol, role, keep_alive, streaming, dtmf_seq, remote_name, last_synced,
		is_active FROM auto_participants WHERE space_id = ? AND is_active ORDER BY id`, spaceID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.AutoParticipant
	for rows.Next() {
		var p models.AutoParticipant
		var protocol, role, dtmf, remoteName sql.NullString
		if err := rows.Scan(&p.ID, &p.ProviderID, &p.ExternalID, &p.SpaceID, &p.Alias,
			&protocol, &role, &p.KeepAlive, &p.Streaming, &dtmf, &remoteName,
			&p.LastSynced, &p.IsActive); err != nil {
			return nil, err
		}
		p.Protocol = scanNullStr(protocol)
		p.Role = scanNullStr(role)
		p.DTMFSeq = scanNullStr(dtmf)
		p.RemoteName = scanNullStr(remoteName)
		p.LastSynced = p.LastSynced.UTC()
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpsertTheme inserts or refreshes a mirrored theme.
func (db *DB) UpsertTheme(ctx context.Context, t *models.Theme) error {
	t.IsActive = true
	row, err := db.queryRow(ctx, `INSERT INTO themes
		(provider_id, external_id, name, resource_uri, uuid, last_synced, is_active)
		VALUES (?, ?, ?, ?, ?, ?, true)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			name = excluded.name, resource_uri = excluded.resource_uri,
			uuid = excluded.uuid, last_synced = excluded.last_synced, is_active = true
		RETURNING id`,
		t.ProviderID, t.ExternalID, nullStr(t.Name), nullStr(t.ResourceURI),
		nullStr(t.UUID), t.LastSynced.UTC())
	if err != nil {
		return err
	}
	return row.Scan(&t.ID)
}

// ListThemes returns the active themes of a provider.
func (db *DB) ListThemes(ctx context.Context, providerID int64) ([]*models.Theme, error) {
	rows, err := db.query(ctx, `SELECT id, provider_id, external_id, name,
		resource_uri, uuid, last_synced, is_active FROM themes
		WHERE provider_id = ? AND is_active ORDER BY id`, providerID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.Theme
	for rows.Next() {
		var t models.Theme
		var name, resourceURI, uuid sql.NullString
		if err := rows.Scan(&t.ID, &t.ProviderID, &t.ExternalID, &name, &resourceURI,
			&uuid, &t.LastSynced, &t.IsActive); err != nil {
			return nil, err
		}
		t.Name = scanNullStr(name)
		t.ResourceURI = scanNullStr(resourceURI)
		t.UUID = scanNullStr(uuid)
		t.LastSynced = t.LastSynced.UTC()
		out = append(out, &t)
	}
	return out, rows.Err()
}

// UpsertUser inserts or refreshes a mirrored directory user.
func (db *DB) UpsertUser(ctx context.Context, u *models.User) error {
	u.IsActive = true
	row, err := db.queryRow(ctx, `INSERT INTO users
		(provider_id, external_id, email, name, tenant_id, organization_unit,
		 sync_tag, last_synced, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, true)
		ON CONFLICT (provider_id, external_id) DO UPDATE SET
			email = excluded.email, name = excluded.name,
			tenant_id = excluded.tenant_id,
			organization_unit = excluded.organization_unit,
			sync_tag = excluded.sync_tag, last_synced = excluded.last_synced,
			is_active = true
		RETURNING id`,
		u.ProviderID, u.ExternalID, nullStr(u.Email), nullStr(u.Name),
		nullStr(u.TenantID), nullStr(u.OrganizationUnit), nullStr(u.SyncTag),
		u.LastSynced.UTC())
	if err != nil {
		return err
	}
	return row.Scan(&u.ID)
}

// FindUserByEmail resolves an active user by exact email, case-insensitive.
func (db *DB) FindUserByEmail(ctx context.Context, providerIDs []int64, email string) (*models.User, error) {
	if len(providerIDs) == 0 {
		return nil, ErrNotFound
	}
	q := `SELECT id, provider_id, external_id, email, name, tenant_id,
		organization_unit, sync_tag, last_synced, is_active FROM users
		WHERE is_active AND provider_id IN (` + placeholders(len(providerIDs)) + `)
		AND lower(email) = ? ORDER BY id LIMIT 1`
	args := make([]any, 0, len(providerIDs)+1)
	for _, id := range providerIDs {
		args = append(args, id)
	}
	args = append(args, strings.ToLower(email))
	row, err := db.queryRow(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var u models.User
	var em, name, tenantID, ou, syncTag sql.NullString
	err = row.Scan(&u.ID, &u.ProviderID, &u.ExternalID, &em, &name, &tenantID, &ou,
		&syncTag, &u.LastSynced, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Email = scanNullStr(em)
	u.Name = scanNullStr(name)
	u.TenantID = scanNullStr(tenantID)
	u.OrganizationUnit = scanNullStr(ou)
	u.SyncTag = scanNullStr(syncTag)
	u.LastSynced = u.LastSynced.UTC()
	return &u, nil
}

// mirrorTables are swept by the tombstone pass after a full sync.
var mirrorTables = []string{"spaces", "space_aliases", "auto_participants", "themes", "users"}

// TombstoneStale marks mirrored rows of a provider inactive when their
// last sync stamp predates the cutoff. Returns rows flipped per table.
func (db *DB) TombstoneStale(ctx context.Context, providerID int64, cutoff time.Time) (map[string]int64, error) {
	out := make(map[string]int64, len(mirrorTables))
	for _, table := range mirrorTables {
		res, err := db.exec(ctx, `UPDATE `+table+` SET is_active = false
			WHERE provider_id = ? AND is_active AND last_synced < ?`,
			providerID, cutoff.UTC())
		if err != nil {
			return out, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return out, err
		}
		out[table] = n
	}
	return out, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// prefixColumns qualifies every column of a comma-separated list with a
// table alias.
func prefixColumns(cols, prefix string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
