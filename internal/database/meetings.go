// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package database

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

const meetingColumns = `id, secret_key, customer_id, cluster_id, provider_id,
	provider_ref, provider_ref2, provider_secret, title, creator, creator_ip,
	source, meeting_type, ts_start, ts_stop, timezone, internal_clients,
	external_clients, only_internal, password, moderator_password, is_private,
	recurring_meeting_id, recurrence_id, recurrence_uid, room_info,
	recording_json, webinar_json, settings_json, layout, moderator_layout,
	organization_unit, backend_active, is_superseded, parent_id, schedule_id,
	customer_confirmed, ts_provisioned, ts_deprovisioned, ts_unbooked, created_at`

func scanMeeting(row interface{ Scan(...any) error }) (*models.Meeting, error) {
	var m models.Meeting
	var providerID, recurringID, parentID sql.NullInt64
	var ref, ref2, secret, creator, creatorIP, source, mtype sql.NullString
	var tz, password, modPassword, recID, recUID sql.NullString
	var roomInfo, recordingJSON, webinarJSON, settingsJSON sql.NullString
	var layout, modLayout, ou sql.NullString
	var confirmed, provisioned, deprovisioned, unbooked sql.NullTime
	err := row.Scan(&m.ID, &m.SecretKey, &m.CustomerID, &m.ClusterID, &providerID,
		&ref, &ref2, &secret, &m.Title, &creator, &creatorIP, &source, &mtype,
		&m.TSStart, &m.TSStop, &tz, &m.InternalClients, &m.ExternalClients,
		&m.OnlyInternal, &password, &modPassword, &m.IsPrivate, &recurringID,
		&recID, &recUID, &roomInfo, &recordingJSON, &webinarJSON, &settingsJSON,
		&layout, &modLayout, &ou, &m.BackendActive, &m.IsSuperseded, &parentID,
		&m.ScheduleID, &confirmed, &provisioned, &deprovisioned, &unbooked,
		&m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ProviderID = scanNullInt(providerID)
	m.ProviderRef = scanNullStr(ref)
	m.ProviderRef2 = scanNullStr(ref2)
	m.ProviderSecret = scanNullStr(secret)
	m.Creator = scanNullStr(creator)
	m.CreatorIP = scanNullStr(creatorIP)
	m.Source = scanNullStr(source)
	m.Type = scanNullStr(mtype)
	m.Timezone = scanNullStr(tz)
	m.Password = scanNullStr(password)
	m.ModeratorPassword = scanNullStr(modPassword)
	m.RecurringMeetingID = scanNullInt(recurringID)
	m.RecurrenceID = scanNullStr(recID)
	m.RecurrenceUID = scanNullStr(recUID)
	m.RoomInfo = scanNullStr(roomInfo)
	m.Recording = scanNullStr(recordingJSON)
	m.Webinar = scanNullStr(webinarJSON)
	m.Settings = scanNullStr(settingsJSON)
	m.Layout = scanNullStr(layout)
	m.ModeratorLayout = scanNullStr(modLayout)
	m.OrganizationUnit = scanNullStr(ou)
	m.ParentID = scanNullInt(parentID)
	m.CustomerConfirmed = scanNullTime(confirmed)
	m.TSProvisioned = scanNullTime(provisioned)
	m.TSDeprovisioned = scanNullTime(deprovisioned)
	m.TSUnbooked = scanNullTime(unbooked)
	m.TSStart = m.TSStart.UTC()
	m.TSStop = m.TSStop.UTC()
	return &m, nil
}

// CreateMeeting inserts a booking row, generating the secret key when
// the caller left it empty.
func (db *DB) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	if m.SecretKey == "" {
		m.SecretKey = models.NewSecretKey(6)
	}
	row, err := db.queryRow(ctx, `INSERT INTO meetings
		(secret_key, customer_id, cluster_id, provider_id, provider_ref,
		 provider_ref2, provider_secret, title, creator, creator_ip, source,
		 meeting_type, ts_start, ts_stop, timezone, internal_clients,
		 external_clients, only_internal, password, moderator_password,
		 is_private, recurring_meeting_id, recurrence_id, recurrence_uid,
		 room_info, recording_json, webinar_json, settings_json, layout,
		 moderator_layout, organization_unit, backend_active, is_superseded,
		 parent_id, schedule_id, customer_confirmed, ts_provisioned,
		 ts_deprovisioned, ts_unbooked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id, created_at`,
		m.SecretKey, m.CustomerID, m.ClusterID, nullInt(m.ProviderID),
		nullStr(m.ProviderRef), nullStr(m.ProviderRef2), nullStr(m.ProviderSecret),
		m.Title, nullStr(m.Creator), nullStr(m.CreatorIP), nullStr(m.Source),
		nullStr(m.Type), m.TSStart.UTC(), m.TSStop.UTC(), nullStr(m.Timezone),
		m.InternalClients, m.ExternalClients, m.OnlyInternal, nullStr(m.Password),
		nullStr(m.ModeratorPassword), m.IsPrivate, nullInt(m.RecurringMeetingID),
		nullStr(m.RecurrenceID), nullStr(m.RecurrenceUID), nullStr(m.RoomInfo),
		nullStr(m.Recording), nullStr(m.Webinar), nullStr(m.Settings),
		nullStr(m.Layout), nullStr(m.ModeratorLayout), nullStr(m.OrganizationUnit),
		m.BackendActive, m.IsSuperseded, nullInt(m.ParentID), m.ScheduleID,
		nullTime(m.CustomerConfirmed), nullTime(m.TSProvisioned),
		nullTime(m.TSDeprovisioned), nullTime(m.TSUnbooked))
	if err != nil {
		return err
	}
	return row.Scan(&m.ID, &m.CreatedAt)
}

// UpdateMeeting writes all mutable fields back.
func (db *DB) UpdateMeeting(ctx context.Context, m *models.Meeting) error {
	_, err := db.exec(ctx, `UPDATE meetings SET provider_id = ?, provider_ref = ?,
		provider_ref2 = ?, provider_secret = ?, title = ?, creator = ?,
		creator_ip = ?, source = ?, meeting_type = ?, ts_start = ?, ts_stop = ?,
		timezone = ?, internal_clients = ?, external_clients = ?,
		only_internal = ?, password = ?, moderator_password = ?, is_private = ?,
		recurring_meeting_id = ?, recurrence_id = ?, recurrence_uid = ?,
		room_info = ?, recording_json = ?, webinar_json = ?, settings_json = ?,
		layout = ?, moderator_layout = ?, organization_unit = ?,
		backend_active = ?, is_superseded = ?, parent_id = ?, schedule_id = ?,
		customer_confirmed = ?, ts_provisioned = ?, ts_deprovisioned = ?,
		ts_unbooked = ? WHERE id = ?`,
		nullInt(m.ProviderID), nullStr(m.ProviderRef), nullStr(m.ProviderRef2),
		nullStr(m.ProviderSecret), m.Title, nullStr(m.Creator),
		nullStr(m.CreatorIP), nullStr(m.Source), nullStr(m.Type),
		m.TSStart.UTC(), m.TSStop.UTC(), nullStr(m.Timezone),
		m.InternalClients, m.ExternalClients, m.OnlyInternal, nullStr(m.Password),
		nullStr(m.ModeratorPassword), m.IsPrivate, nullInt(m.RecurringMeetingID),
		nullStr(m.RecurrenceID), nullStr(m.RecurrenceUID), nullStr(m.RoomInfo),
		nullStr(m.Recording), nullStr(m.Webinar), nullStr(m.Settings),
		nullStr(m.Layout), nullStr(m.ModeratorLayout), nullStr(m.OrganizationUnit),
		m.BackendActive, m.IsSuperseded, nullInt(m.ParentID), m.ScheduleID,
		nullTime(m.CustomerConfirmed), nullTime(m.TSProvisioned),
		nullTime(m.TSDeprovisioned), nullTime(m.TSUnbooked), m.ID)
	return err
}

// GetMeeting fetches a booking by primary key.
func (db *DB) GetMeeting(ctx context.Context, id int64) (*models.Meeting, error) {
	row, err := db.queryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// GetMeetingByKey resolves a booking by its external "<pk>-<secret>"
// reference; a wrong secret reads the same as a missing row.
func (db *DB) GetMeetingByKey(ctx context.Context, key string) (*models.Meeting, error) {
	id, secret, err := models.ParseIDKey(key)
	if err != nil {
		return nil, ErrNotFound
	}
	m, err := db.GetMeeting(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SecretKey != secret {
		return nil, ErrNotFound
	}
	return m, nil
}

// GetMeetingByProviderRef resolves the current booking holding a
// call-id on a cluster, superseded rows excluded.
func (db *DB) GetMeetingByProviderRef(ctx context.Context, clusterID int64, ref string) (*models.Meeting, error) {
	row, err := db.queryRow(ctx, `SELECT `+meetingColumns+` FROM meetings
		WHERE cluster_id = ? AND provider_ref = ? AND NOT is_superseded
		AND ts_unbooked IS NULL ORDER BY id DESC LIMIT 1`, clusterID, ref)
	if err != nil {
		return nil, err
	}
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// ListMeetingsInWindow returns non-superseded, non-unbooked bookings of
// a cluster overlapping [from, to).
func (db *DB) ListMeetingsInWindow(ctx context.Context, clusterID int64, from, to time.Time) ([]*models.Meeting, error) {
	rows, err := db.query(ctx, `SELECT `+meetingColumns+` FROM meetings
		WHERE cluster_id = ? AND NOT is_superseded AND ts_unbooked IS NULL
		AND ts_stop > ? AND ts_start < ? ORDER BY ts_start, id`,
		clusterID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)
	return collectMeetings(rows)
}

// ListSeriesMeetings returns all occurrences of a recurring booking
// ordered by start time, superseded and unbooked rows excluded.
// Duplicate rows for the same recurrence id come back adjacent.
func (db *DB) ListSeriesMeetings(ctx context.Context, recurringID int64) ([]*models.Meeting, error) {
	rows, err := db.query(ctx, `SELECT `+meetingColumns+` FROM meetings
		WHERE recurring_meeting_id = ? AND NOT is_superseded AND ts_unbooked IS NULL
		ORDER BY ts_start, id`, recurringID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	return collectMeetings(rows)
}

// ListExpiredMeetings returns provisioned bookings whose stop time plus
// the grace period has passed and that were never deprovisioned.
func (db *DB) ListExpiredMeetings(ctx context.Context, clusterID int64, now time.Time, grace time.Duration) ([]*models.Meeting, error) {
	rows, err := db.query(ctx, `SELECT `+meetingColumns+` FROM meetings
		WHERE cluster_id = ? AND backend_active AND ts_deprovisioned IS NULL
		AND ts_stop < ? ORDER BY ts_stop, id`,
		clusterID, now.Add(-grace).UTC())
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)
	return collectMeetings(rows)
}

func collectMeetings(rows *sql.Rows) ([]*models.Meeting, error) {
	var out []*models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// BumpScheduleID issues and stores a fresh staleness token for the
// meeting, serialized per row.
func (db *DB) BumpScheduleID(ctx context.Context, meetingID int64) (string, error) {
	mu := db.lockRow(scheduleLockKey(meetingID))
	defer mu.Unlock()

	m, err := db.GetMeeting(ctx, meetingID)
	if err != nil {
		return "", err
	}
	token := models.NewScheduleID(m.ScheduleID)
	if _, err := db.exec(ctx, `UPDATE meetings SET schedule_id = ? WHERE id = ?`, token, meetingID); err != nil {
		return "", err
	}
	return token, nil
}

func scheduleLockKey(meetingID int64) string {
	return "meeting-schedule:" + strconv.FormatInt(meetingID, 10)
}

// CreateRecurringMeeting inserts a series row.
func (db *DB) CreateRecurringMeeting(ctx context.Context, r *models.RecurringMeeting) error {
	row, err := db.queryRow(ctx, `INSERT INTO recurring_meetings
		(customer_id, provider_id, rule, exceptions, overrides, duration_seconds,
		 uid, first_meeting_id, external_occasion_handling)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.CustomerID, nullInt(r.ProviderID), r.Rule, nullStr(r.Exceptions),
		nullStr(r.Overrides), int64(r.Duration/time.Second), nullStr(r.UID),
		nullInt(r.FirstMeetingID), r.ExternalOccasionHandling)
	if err != nil {
		return err
	}
	return row.Scan(&r.ID)
}

// UpdateRecurringMeeting writes the mutable series fields back.
func (db *DB) UpdateRecurringMeeting(ctx context.Context, r *models.RecurringMeeting) error {
	_, err := db.exec(ctx, `UPDATE recurring_meetings SET rule = ?, exceptions = ?,
		overrides = ?, duration_seconds = ?, uid = ?, first_meeting_id = ?,
		external_occasion_handling = ? WHERE id = ?`,
		r.Rule, nullStr(r.Exceptions), nullStr(r.Overrides),
		int64(r.Duration/time.Second), nullStr(r.UID), nullInt(r.FirstMeetingID),
		r.ExternalOccasionHandling, r.ID)
	return err
}

// GetRecurringMeeting fetches a series row by primary key.
func (db *DB) GetRecurringMeeting(ctx context.Context, id int64) (*models.RecurringMeeting, error) {
	row, err := db.queryRow(ctx, `SELECT id, customer_id, provider_id, rule,
		exceptions, overrides, duration_seconds, uid, first_meeting_id,
		external_occasion_handling FROM recurring_meetings WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	var r models.RecurringMeeting
	var providerID, firstMeetingID sql.NullInt64
	var exceptions, overrides, uid sql.NullString
	var durationSec int64
	err = row.Scan(&r.ID, &r.CustomerID, &providerID, &r.Rule, &exceptions,
		&overrides, &durationSec, &uid, &firstMeetingID, &r.ExternalOccasionHandling)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ProviderID = scanNullInt(providerID)
	r.Exceptions = scanNullStr(exceptions)
	r.Overrides = scanNullStr(overrides)
	r.Duration = time.Duration(durationSec) * time.Second
	r.UID = scanNullStr(uid)
	r.FirstMeetingID = scanNullInt(firstMeetingID)
	return &r, nil
}

// CreateMeetingRecording inserts a recording side-car.
func (db *DB) CreateMeetingRecording(ctx context.Context, r *models.MeetingRecording) error {
	row, err := db.queryRow(ctx, `INSERT INTO meeting_recordings
		(meeting_id, recording_id, recording_id2, is_live, is_public, name,
		 callback_url, ts_activated, ts_deactivated, schedule_id, retry_count,
		 is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.MeetingID, nullStr(r.RecordingID), nullStr(r.RecordingID2), r.IsLive,
		r.IsPublic, nullStr(r.Name), nullStr(r.CallbackURL),
		nullTime(r.TSActivated), nullTime(r.TSDeactivated), nullStr(r.ScheduleID),
		r.RetryCount, r.IsActive)
	if err != nil {
		return err
	}
	return row.Scan(&r.ID)
}

// UpdateMeetingRecording writes the side-car back, including its
// meeting binding so rebooks can repoint it.
func (db *DB) UpdateMeetingRecording(ctx context.Context, r *models.MeetingRecording) error {
	_, err := db.exec(ctx, `UPDATE meeting_recordings SET meeting_id = ?,
		recording_id = ?, recording_id2 = ?, is_live = ?, is_public = ?,
		name = ?, callback_url = ?, ts_activated = ?, ts_deactivated = ?,
		schedule_id = ?, retry_count = ?, is_active = ? WHERE id = ?`,
		r.MeetingID, nullStr(r.RecordingID), nullStr(r.RecordingID2), r.IsLive,
		r.IsPublic, nullStr(r.Name), nullStr(r.CallbackURL),
		nullTime(r.TSActivated), nullTime(r.TSDeactivated), nullStr(r.ScheduleID),
		r.RetryCount, r.IsActive, r.ID)
	return err
}

// ListMeetingRecordings returns the active recording side-cars.
func (db *DB) ListMeetingRecordings(ctx context.Context, meetingID int64) ([]*models.MeetingRecording, error) {
	rows, err := db.query(ctx, `SELECT id, meeting_id, recording_id, recording_id2,
		is_live, is_public, name, callback_url, ts_activated, ts_deactivated,
		schedule_id, retry_count, is_active FROM meeting_recordings
		WHERE meeting_id = ? AND is_active ORDER BY id`, meetingID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.MeetingRecording
	for rows.Next() {
		var r models.MeetingRecording
		var recID, recID2, name, callback, scheduleID sql.NullString
		var activated, deactivated sql.NullTime
		if err := rows.Scan(&r.ID, &r.MeetingID, &recID, &recID2, &r.IsLive,
			&r.IsPublic, &name, &callback, &activated, &deactivated, &scheduleID,
			&r.RetryCount, &r.IsActive); err != nil {
			return nil, err
		}
		r.RecordingID = scanNullStr(recID)
		r.RecordingID2 = scanNullStr(recID2)
		r.Name = scanNullStr(name)
		r.CallbackURL = scanNullStr(callback)
		r.ScheduleID = scanNullStr(scheduleID)
		r.TSActivated = scanNullTime(activated)
		r.TSDeactivated = scanNullTime(deactivated)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CreateMeetingDialout inserts a dial-out side-car.
func (db *DB) CreateMeetingDialout(ctx context.Context, d *models.MeetingDialout) error {
	row, err := db.queryRow(ctx, `INSERT INTO meeting_dialouts
		(meeting_id, dialstring, title, leg_id, ts_activated, ts_deactivated,
		 schedule_id, retry_count, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		d.MeetingID, d.Dialstring, nullStr(d.Title), nullStr(d.LegID),
		nullTime(d.TSActivated), nullTime(d.TSDeactivated), nullStr(d.ScheduleID),
		d.RetryCount, d.IsActive)
	if err != nil {
		return err
	}
	return row.Scan(&d.ID)
}

// UpdateMeetingDialout writes the side-car back.
func (db *DB) UpdateMeetingDialout(ctx context.Context, d *models.MeetingDialout) error {
	_, err := db.exec(ctx, `UPDATE meeting_dialouts SET meeting_id = ?,
		dialstring = ?, title = ?, leg_id = ?, ts_activated = ?,
		ts_deactivated = ?, schedule_id = ?, retry_count = ?, is_active = ?
		WHERE id = ?`,
		d.MeetingID, d.Dialstring, nullStr(d.Title), nullStr(d.LegID),
		nullTime(d.TSActivated), nullTime(d.TSDeactivated), nullStr(d.ScheduleID),
		d.RetryCount, d.IsActive, d.ID)
	return err
}

// ListMeetingDialouts returns the active dial-out side-cars.
func (db *DB) ListMeetingDialouts(ctx context.Context, meetingID int64) ([]*models.MeetingDialout, error) {
	rows, err := db.query(ctx, `SELECT id, meeting_id, dialstring, title, leg_id,
		ts_activated, ts_deactivated, schedule_id, retry_count, is_active
		FROM meeting_dialouts WHERE meeting_id = ? AND is_active ORDER BY id`, meetingID)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(rows)

	var out []*models.MeetingDialout
	for rows.Next() {
		var d models.MeetingDialout
		var title, legID, scheduleID sql.NullString
		var activated, deactivated sql.NullTime
		if err := rows.Scan(&d.ID, &d.MeetingID, &d.Dialstring, &title, &legID,
			&activated, &deactivated, &scheduleID, &d.RetryCount, &d.IsActive); err != nil {
			return nil, err
		}
		d.Title = scanNullStr(title)
		d.LegID = scanNullStr(legID)
		d.ScheduleID = scanNullStr(scheduleID)
		d.TSActivated = scanNullTime(activated)
		d.TSDeactivated = scanNullTime(deactivated)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// CreateMeetingWebinar inserts a webinar side-car.
func (db *DB) CreateMeetingWebinar(ctx context.Context, w *models.MeetingWebinar) error {
	row, err := db.queryRow(ctx, `INSERT INTO meeting_webinars
		(meeting_id, uri, moderator_pin, user_group, enable_chat, user_jids)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		w.MeetingID, w.URI, nullStr(w.ModeratorPIN), nullStr(w.Group),
		w.EnableChat, nullStr(w.UserJIDs))
	if err != nil {
		return err
	}
	return row.Scan(&w.ID)
}

// UpdateMeetingWebinar writes the side-car back.
func (db *DB) UpdateMeetingWebinar(ctx context.Context, w *models.MeetingWebinar) error {
	_, err := db.exec(ctx, `UPDATE meeting_webinars SET meeting_id = ?, uri = ?,
		moderator_pin = ?, user_group = ?, enable_chat = ?, user_jids = ?
		WHERE id = ?`,
		w.MeetingID, w.URI, nullStr(w.ModeratorPIN), nullStr(w.Group),
		w.EnableChat, nullStr(w.UserJIDs), w.ID)
	return err
}

// GetMeetingWebinar fetches the webinar side-car of a meeting.
func (db *DB) GetMeetingWebinar(ctx context.Context, meetingID int64) (*models.MeetingWebinar, error) {
	row, err := db.queryRow(ctx, `SELECT id, meeting_id, uri, moderator_pin,
		user_group, enable_chat, user_jids FROM meeting_webinars
		WHERE meeting_id = ? ORDER BY id LIMIT 1`, meetingID)
	if err != nil {
		return nil, err
	}
	var w models.MeetingWebinar
	var pin, group, jids sql.NullString
	err = row.Scan(&w.ID, &w.MeetingID, &w.URI, &pin, &group, &w.EnableChat, &jids)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	w.ModeratorPIN = scanNullStr(pin)
	w.Group = scanNullStr(group)
	w.UserJIDs = scanNullStr(jids)
	return &w, nil
}

// RepointSideCars moves all side-cars of one booking onto another.
// Used by rebook, where the old row is kept superseded.
func (db *DB) RepointSideCars(ctx context.Context, fromMeetingID, toMeetingID int64) error {
	for _, q := range []string{
		`UPDATE meeting_recordings SET meeting_id = ? WHERE meeting_id = ?`,
		`UPDATE meeting_dialouts SET meeting_id = ? WHERE meeting_id = ?`,
		`UPDATE meeting_webinars SET meeting_id = ? WHERE meeting_id = ?`,
	} {
		if _, err := db.exec(ctx, q, toMeetingID, fromMeetingID); err != nil {
			return err
		}
	}
	return nil
}
