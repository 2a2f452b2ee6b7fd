// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// BookingRequest is the validated input bundle of one booking.
// The JSON side-car blobs are decoded strictly: unknown keys reject the
// request rather than silently dropping.
type BookingRequest struct {
	CustomerID int64  `json:"customer_id"`
	Title      string `json:"title"`
	Creator    string `json:"creator"`
	CreatorIP  string `json:"creator_ip"`
	Source     string `json:"source"`
	Type       string `json:"meeting_type"`

	TSStart  time.Time `json:"ts_start"`
	TSStop   time.Time `json:"ts_stop"`
	Timezone string    `json:"timezone"`

	Recurring           string `json:"recurring"`
	RecurringExceptions string `json:"recurring_exceptions"`
	RecurrenceID        string `json:"recurrence_id"`

	OnlyInternal    bool `json:"only_internal"`
	InternalClients int  `json:"internal_clients"`
	ExternalClients int  `json:"external_clients"`

	Password          string `json:"password"`
	ModeratorPassword string `json:"moderator_password"`
	IsPrivate         bool   `json:"is_private"`

	RoomInfo  string `json:"room_info"`
	Recording string `json:"recording"`
	Webinar   string `json:"webinar"`
	Settings  string `json:"settings"`

	Layout          string `json:"layout"`
	ModeratorLayout string `json:"moderator_layout"`

	Confirm bool `json:"confirm"`
}

// RoomInfoEntry is one pre-configured participant of the booking.
type RoomInfoEntry struct {
	Title      string `json:"title,omitempty"`
	Dialstring string `json:"dialstring,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	Dialout    bool   `json:"dialout,omitempty"`
}

// RecordingSettings is the recording/streaming side-car request.
type RecordingSettings struct {
	Record   bool   `json:"record,omitempty"`
	IsLive   bool   `json:"is_live,omitempty"`
	IsPublic bool   `json:"is_public,omitempty"`
	Name     string `json:"name,omitempty"`
	Callback string `json:"callback,omitempty"`
}

// WebinarSettings is the webinar side-car request.
type WebinarSettings struct {
	URI          string   `json:"uri"`
	ModeratorPIN string   `json:"moderator_pin,omitempty"`
	Group        string   `json:"group,omitempty"`
	EnableChat   bool     `json:"enable_chat,omitempty"`
	UserJIDs     []string `json:"user_jids,omitempty"`
}

// MeetingSettings carries the miscellaneous booking toggles.
type MeetingSettings struct {
	ForceEncryption bool     `json:"force_encryption,omitempty"`
	DisableChat     bool     `json:"disable_chat,omitempty"`
	LobbyPIN        FlexPIN  `json:"lobby_pin,omitempty"`
	ExternalURI     string   `json:"external_uri,omitempty"`
}

// FlexPIN accepts a PIN encoded as either a JSON number or string.
type FlexPIN string

// UnmarshalJSON implements json.Unmarshaler.
func (p *FlexPIN) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = FlexPIN(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("lobby_pin must be a number or string: %w", err)
	}
	*p = FlexPIN(strconv.FormatInt(n, 10))
	return nil
}

// decodeStrict unmarshals JSON rejecting unknown keys.
func decodeStrict(data string, v any) error {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// ParseRoomInfo decodes and validates the room_info blob.
func (b *BookingRequest) ParseRoomInfo() ([]RoomInfoEntry, error) {
	if strings.TrimSpace(b.RoomInfo) == "" {
		return nil, nil
	}
	var entries []RoomInfoEntry
	if err := decodeStrict(b.RoomInfo, &entries); err != nil {
		return nil, fmt.Errorf("room_info: %w", err)
	}
	return entries, nil
}

// ParseRecording decodes and validates the recording blob.
func (b *BookingRequest) ParseRecording() (*RecordingSettings, error) {
	if strings.TrimSpace(b.Recording) == "" {
		return nil, nil
	}
	var rec RecordingSettings
	if err := decodeStrict(b.Recording, &rec); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	return &rec, nil
}

// ParseWebinar decodes and validates the webinar blob.
func (b *BookingRequest) ParseWebinar() (*WebinarSettings, error) {
	if strings.TrimSpace(b.Webinar) == "" {
		return nil, nil
	}
	var w WebinarSettings
	if err := decodeStrict(b.Webinar, &w); err != nil {
		return nil, fmt.Errorf("webinar: %w", err)
	}
	if w.URI == "" {
		return nil, fmt.Errorf("webinar: uri is required")
	}
	return &w, nil
}

// ParseSettings decodes and validates the settings blob.
func (b *BookingRequest) ParseSettings() (*MeetingSettings, error) {
	if strings.TrimSpace(b.Settings) == "" {
		return nil, nil
	}
	var s MeetingSettings
	if err := decodeStrict(b.Settings, &s); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}
	return &s, nil
}

// Validate applies the cross-field booking rules. Side-car blobs are
// validated by their Parse helpers, which Validate also exercises.
func (b *BookingRequest) Validate() error {
	if b.Title == "" {
		return fmt.Errorf("booking: title is required")
	}
	if !b.TSStop.After(b.TSStart) {
		return fmt.Errorf("booking: ts_stop must be after ts_start")
	}
	if b.Password != "" && len(b.Password) < 4 {
		return fmt.Errorf("booking: password must be at least 4 characters")
	}
	if b.ModeratorPassword != "" && len(b.ModeratorPassword) < 4 {
		return fmt.Errorf("booking: moderator_password must be at least 4 characters")
	}
	if !b.OnlyInternal && b.InternalClients == 0 && b.ExternalClients == 0 {
		return fmt.Errorf("booking: at least one of only_internal, internal_clients, external_clients")
	}
	if b.OnlyInternal && b.ExternalClients > 0 {
		return fmt.Errorf("booking: only_internal excludes external_clients")
	}

	for _, rid := range splitIDList(b.RecurringExceptions) {
		if _, err := ParseRecurrenceID(rid); err != nil {
			return fmt.Errorf("booking: invalid exception %q: %w", rid, err)
		}
	}

	if _, err := b.ParseRoomInfo(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	if _, err := b.ParseRecording(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	if _, err := b.ParseWebinar(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	if _, err := b.ParseSettings(); err != nil {
		return fmt.Errorf("booking: %w", err)
	}
	return nil
}
