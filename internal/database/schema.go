// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"fmt"
)

// schemaStatements holds the full DDL, executed in order on startup.
// Every statement is idempotent so a restart against an existing file
// is a no-op.
var schemaStatements = []string{
	`CREATE SEQUENCE IF NOT EXISTS seq_customers START 1`,
	`CREATE TABLE IF NOT EXISTS customers (
		id            BIGINT PRIMARY KEY DEFAULT nextval('seq_customers'),
		title         VARCHAR NOT NULL,
		tenant_id_a   VARCHAR,
		tenant_id_b   VARCHAR,
		cluster_id    BIGINT,
		enable_core   BOOLEAN NOT NULL DEFAULT true,
		enable_epm    BOOLEAN NOT NULL DEFAULT false,
		enable_streaming BOOLEAN NOT NULL DEFAULT false,
		enable_recording BOOLEAN NOT NULL DEFAULT false,
		username_prefix  VARCHAR,
		organization_unit VARCHAR,
		remove_expired_rooms_seconds BIGINT NOT NULL DEFAULT 0,
		shared_key    VARCHAR,
		created_at    TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_customer_keys START 1`,
	`CREATE TABLE IF NOT EXISTS customer_keys (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_customer_keys'),
		customer_id BIGINT NOT NULL,
		api_key     VARCHAR NOT NULL,
		title       VARCHAR,
		enabled     BOOLEAN NOT NULL DEFAULT true,
		limit_api   BOOLEAN NOT NULL DEFAULT false,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_customer_keys_key ON customer_keys (api_key)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_clusters START 1`,
	`CREATE TABLE IF NOT EXISTS clusters (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_clusters'),
		title       VARCHAR NOT NULL,
		family      VARCHAR NOT NULL,
		cdr_active  BOOLEAN NOT NULL DEFAULT false,
		web_host    VARCHAR,
		phone_ivr   VARCHAR,
		internal_domain VARCHAR,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_providers START 1`,
	`CREATE TABLE IF NOT EXISTS providers (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_providers'),
		cluster_id  BIGINT NOT NULL,
		title       VARCHAR,
		family      VARCHAR NOT NULL,
		subtype     VARCHAR,
		hostname    VARCHAR NOT NULL,
		api_host    VARCHAR,
		port        INTEGER NOT NULL DEFAULT 443,
		username    VARCHAR,
		password    VARCHAR,
		verify_tls  BOOLEAN NOT NULL DEFAULT true,
		enabled     BOOLEAN NOT NULL DEFAULT true,
		session_id  VARCHAR,
		session_expires TIMESTAMP,
		software_version VARCHAR,
		internal_domains VARCHAR,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_providers_cluster ON providers (cluster_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_cluster_settings START 1`,
	`CREATE TABLE IF NOT EXISTS cluster_settings (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_cluster_settings'),
		cluster_id  BIGINT NOT NULL,
		customer_id BIGINT,
		main_domain VARCHAR,
		additional_domains VARCHAR,
		web_domain  VARCHAR,
		phone_ivr   VARCHAR,
		dial_out_location VARCHAR,
		theme_profile VARCHAR,
		scheduled_room_number_range_id BIGINT,
		static_room_number_range_id BIGINT,
		remove_expired_rooms_seconds BIGINT NOT NULL DEFAULT 0,
		set_call_id_as_uri BOOLEAN NOT NULL DEFAULT false,
		use_local_database BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cluster_settings_lookup ON cluster_settings (cluster_id, customer_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_number_ranges START 1`,
	`CREATE TABLE IF NOT EXISTS number_ranges (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_number_ranges'),
		cluster_id  BIGINT NOT NULL,
		title       VARCHAR,
		range_start BIGINT NOT NULL,
		range_stop  BIGINT NOT NULL,
		range_next  BIGINT NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_match_rules START 1`,
	`CREATE TABLE IF NOT EXISTS match_rules (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_match_rules'),
		cluster_id  BIGINT NOT NULL,
		customer_id BIGINT,
		prefix      VARCHAR,
		suffix      VARCHAR,
		regex       VARCHAR,
		match_mode  VARCHAR NOT NULL DEFAULT 'both',
		priority    INTEGER NOT NULL DEFAULT 10,
		room_count  INTEGER NOT NULL DEFAULT 0,
		require_authorization BOOLEAN NOT NULL DEFAULT false,
		tenant_id   VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_match_rules_cluster ON match_rules (cluster_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_spaces START 1`,
	`CREATE TABLE IF NOT EXISTS spaces (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_spaces'),
		provider_id BIGINT NOT NULL,
		external_id VARCHAR NOT NULL,
		name        VARCHAR,
		uri         VARCHAR,
		call_id     VARCHAR,
		pin         VARCHAR,
		guest_pin   VARCHAR,
		allow_guests BOOLEAN NOT NULL DEFAULT true,
		secondary_uri VARCHAR,
		passcode    VARCHAR,
		service_type VARCHAR,
		tenant_id   VARCHAR,
		theme       VARCHAR,
		organization_unit VARCHAR,
		owner_email VARCHAR,
		tag         VARCHAR,
		is_scheduled BOOLEAN NOT NULL DEFAULT false,
		ts_auto_remove TIMESTAMP,
		last_synced TIMESTAMP NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_spaces_ext ON spaces (provider_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_spaces_uri ON spaces (provider_id, uri)`,
	`CREATE INDEX IF NOT EXISTS idx_spaces_tenant ON spaces (provider_id, tenant_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_space_aliases START 1`,
	`CREATE TABLE IF NOT EXISTS space_aliases (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_space_aliases'),
		provider_id BIGINT NOT NULL,
		external_id VARCHAR NOT NULL,
		space_id    BIGINT NOT NULL,
		alias       VARCHAR NOT NULL,
		descriptor  VARCHAR,
		last_synced TIMESTAMP NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_space_aliases_ext ON space_aliases (provider_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_space_aliases_alias ON space_aliases (provider_id, alias)`,
	`CREATE INDEX IF NOT EXISTS idx_space_aliases_space ON space_aliases (space_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_auto_participants START 1`,
	`CREATE TABLE IF NOT EXISTS auto_participants (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_auto_participants'),
		provider_id BIGINT NOT NULL,
		external_id VARCHAR NOT NULL,
		space_id    BIGINT NOT NULL,
		alias       VARCHAR NOT NULL,
		protocol    VARCHAR,
		role        VARCHAR,
		keep_alive  BOOLEAN NOT NULL DEFAULT false,
		streaming   BOOLEAN NOT NULL DEFAULT false,
		dtmf_seq    VARCHAR,
		remote_name VARCHAR,
		last_synced TIMESTAMP NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_auto_participants_ext ON auto_participants (provider_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_auto_participants_space ON auto_participants (space_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_themes START 1`,
	`CREATE TABLE IF NOT EXISTS themes (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_themes'),
		provider_id BIGINT NOT NULL,
		external_id VARCHAR NOT NULL,
		name        VARCHAR,
		resource_uri VARCHAR,
		uuid        VARCHAR,
		last_synced TIMESTAMP NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_themes_ext ON themes (provider_id, external_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_users START 1`,
	`CREATE TABLE IF NOT EXISTS users (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_users'),
		provider_id BIGINT NOT NULL,
		external_id VARCHAR NOT NULL,
		email       VARCHAR,
		name        VARCHAR,
		tenant_id   VARCHAR,
		organization_unit VARCHAR,
		sync_tag    VARCHAR,
		last_synced TIMESTAMP NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_ext ON users (provider_id, external_id)`,
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users (provider_id, email)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_meetings START 1`,
	`CREATE TABLE IF NOT EXISTS meetings (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_meetings'),
		secret_key  VARCHAR NOT NULL,
		customer_id BIGINT NOT NULL,
		cluster_id  BIGINT NOT NULL,
		provider_id BIGINT,
		provider_ref VARCHAR,
		provider_ref2 VARCHAR,
		provider_secret VARCHAR,
		title       VARCHAR NOT NULL,
		creator     VARCHAR,
		creator_ip  VARCHAR,
		source      VARCHAR,
		meeting_type VARCHAR,
		ts_start    TIMESTAMP NOT NULL,
		ts_stop     TIMESTAMP NOT NULL,
		timezone    VARCHAR,
		internal_clients INTEGER NOT NULL DEFAULT 0,
		external_clients INTEGER NOT NULL DEFAULT 0,
		only_internal BOOLEAN NOT NULL DEFAULT false,
		password    VARCHAR,
		moderator_password VARCHAR,
		is_private  BOOLEAN NOT NULL DEFAULT false,
		recurring_meeting_id BIGINT,
		recurrence_id VARCHAR,
		recurrence_uid VARCHAR,
		room_info   VARCHAR,
		recording_json VARCHAR,
		webinar_json VARCHAR,
		settings_json VARCHAR,
		layout      VARCHAR,
		moderator_layout VARCHAR,
		organization_unit VARCHAR,
		backend_active BOOLEAN NOT NULL DEFAULT false,
		is_superseded BOOLEAN NOT NULL DEFAULT false,
		parent_id   BIGINT,
		schedule_id VARCHAR NOT NULL DEFAULT '',
		customer_confirmed TIMESTAMP,
		ts_provisioned TIMESTAMP,
		ts_deprovisioned TIMESTAMP,
		ts_unbooked TIMESTAMP,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_window ON meetings (cluster_id, ts_start, ts_stop)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_recurring ON meetings (recurring_meeting_id)`,
	`CREATE INDEX IF NOT EXISTS idx_meetings_ref ON meetings (provider_ref)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_recurring_meetings START 1`,
	`CREATE TABLE IF NOT EXISTS recurring_meetings (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_recurring_meetings'),
		customer_id BIGINT NOT NULL,
		provider_id BIGINT,
		rule        VARCHAR NOT NULL,
		exceptions  VARCHAR,
		overrides   VARCHAR,
		duration_seconds BIGINT NOT NULL,
		uid         VARCHAR,
		first_meeting_id BIGINT,
		external_occasion_handling BOOLEAN NOT NULL DEFAULT false
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_meeting_recordings START 1`,
	`CREATE TABLE IF NOT EXISTS meeting_recordings (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_meeting_recordings'),
		meeting_id  BIGINT NOT NULL,
		recording_id VARCHAR,
		recording_id2 VARCHAR,
		is_live     BOOLEAN NOT NULL DEFAULT false,
		is_public   BOOLEAN NOT NULL DEFAULT false,
		name        VARCHAR,
		callback_url VARCHAR,
		ts_activated TIMESTAMP,
		ts_deactivated TIMESTAMP,
		schedule_id VARCHAR,
		retry_count INTEGER NOT NULL DEFAULT 0,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meeting_recordings_meeting ON meeting_recordings (meeting_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_meeting_dialouts START 1`,
	`CREATE TABLE IF NOT EXISTS meeting_dialouts (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_meeting_dialouts'),
		meeting_id  BIGINT NOT NULL,
		dialstring  VARCHAR NOT NULL,
		title       VARCHAR,
		leg_id      VARCHAR,
		ts_activated TIMESTAMP,
		ts_deactivated TIMESTAMP,
		schedule_id VARCHAR,
		retry_count INTEGER NOT NULL DEFAULT 0,
		is_active   BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meeting_dialouts_meeting ON meeting_dialouts (meeting_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_meeting_webinars START 1`,
	`CREATE TABLE IF NOT EXISTS meeting_webinars (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_meeting_webinars'),
		meeting_id  BIGINT NOT NULL,
		uri         VARCHAR NOT NULL,
		moderator_pin VARCHAR,
		user_group  VARCHAR,
		enable_chat BOOLEAN NOT NULL DEFAULT true,
		user_jids   VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_meeting_webinars_meeting ON meeting_webinars (meeting_id)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_calls START 1`,
	`CREATE TABLE IF NOT EXISTS calls (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_calls'),
		guid        VARCHAR NOT NULL,
		cluster_id  BIGINT NOT NULL,
		space_id    VARCHAR,
		name        VARCHAR,
		call_id     VARCHAR,
		tenant_id   VARCHAR,
		ts_start    TIMESTAMP NOT NULL,
		ts_stop     TIMESTAMP,
		duration_seconds BIGINT NOT NULL DEFAULT 0,
		leg_count   INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_guid ON calls (cluster_id, guid)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_open ON calls (cluster_id, ts_stop)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_legs START 1`,
	`CREATE TABLE IF NOT EXISTS legs (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_legs'),
		guid        VARCHAR NOT NULL,
		cluster_id  BIGINT NOT NULL,
		call_guid   VARCHAR,
		local_alias VARCHAR,
		remote_alias VARCHAR,
		display_name VARCHAR,
		direction   VARCHAR,
		protocol    VARCHAR,
		tenant_id   VARCHAR,
		is_external BOOLEAN NOT NULL DEFAULT false,
		should_count_stats BOOLEAN NOT NULL DEFAULT true,
		ts_start    TIMESTAMP NOT NULL,
		ts_stop     TIMESTAMP,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_legs_guid ON legs (cluster_id, guid)`,
	`CREATE INDEX IF NOT EXISTS idx_legs_call ON legs (call_guid)`,
	`CREATE INDEX IF NOT EXISTS idx_legs_open ON legs (cluster_id, ts_stop)`,

	`CREATE TABLE IF NOT EXISTS global_locks (
		name        VARCHAR PRIMARY KEY,
		holder      VARCHAR NOT NULL,
		expires     TIMESTAMP NOT NULL
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_trace_logs START 1`,
	`CREATE TABLE IF NOT EXISTS trace_logs (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_trace_logs'),
		customer_id BIGINT,
		cluster_id  BIGINT,
		provider_id BIGINT,
		method      VARCHAR,
		url         VARCHAR,
		request_body VARCHAR,
		response_status INTEGER,
		response_body VARCHAR,
		response_headers VARCHAR,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_error_logs START 1`,
	`CREATE TABLE IF NOT EXISTS error_logs (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_error_logs'),
		customer_id BIGINT,
		cluster_id  BIGINT,
		provider_id BIGINT,
		origin      VARCHAR,
		url         VARCHAR,
		message     VARCHAR,
		created_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS sync_cursors (
		cluster_id  BIGINT NOT NULL,
		source      VARCHAR NOT NULL,
		last_end    TIMESTAMP NOT NULL,
		page_offset INTEGER NOT NULL DEFAULT 0,
		updated_at  TIMESTAMP NOT NULL DEFAULT now(),
		PRIMARY KEY (cluster_id, source)
	)`,

	`CREATE TABLE IF NOT EXISTS worker_status (
		name            VARCHAR PRIMARY KEY,
		last_heartbeat  TIMESTAMP NOT NULL,
		running_tasks   INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE SEQUENCE IF NOT EXISTS seq_tasks START 1`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id          BIGINT PRIMARY KEY DEFAULT nextval('seq_tasks'),
		kind        VARCHAR NOT NULL,
		payload     VARCHAR,
		meeting_id  BIGINT,
		schedule_id VARCHAR,
		eta         TIMESTAMP NOT NULL,
		state       VARCHAR NOT NULL DEFAULT 'pending',
		retries     INTEGER NOT NULL DEFAULT 0,
		last_error  VARCHAR,
		created_at  TIMESTAMP NOT NULL DEFAULT now(),
		updated_at  TIMESTAMP NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks (state, eta)`,
}

func (db *DB) createTables(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w\n%s", err, stmt)
		}
	}
	return nil
}
