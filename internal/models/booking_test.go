// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBooking() *BookingRequest {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &BookingRequest{
		CustomerID:      1,
		Title:           "Weekly standup",
		Creator:         "alice@example.org",
		TSStart:         start,
		TSStop:          start.Add(time.Hour),
		InternalClients: 2,
	}
}

func TestBookingValidateOK(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validBooking().Validate())
}

func TestBookingValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*BookingRequest)
	}{
		{"missing title", func(b *BookingRequest) { b.Title = "" }},
		{"stop before start", func(b *BookingRequest) { b.TSStop = b.TSStart.Add(-time.Minute) }},
		{"stop equals start", func(b *BookingRequest) { b.TSStop = b.TSStart }},
		{"short password", func(b *BookingRequest) { b.Password = "123" }},
		{"short moderator password", func(b *BookingRequest) { b.ModeratorPassword = "12" }},
		{"no clients at all", func(b *BookingRequest) { b.InternalClients = 0 }},
		{"only_internal with external", func(b *BookingRequest) {
			b.OnlyInternal = true
			b.ExternalClients = 1
		}},
		{"bad exception date", func(b *BookingRequest) { b.RecurringExceptions = "not-a-date" }},
		{"unknown settings key", func(b *BookingRequest) { b.Settings = `{"surprise": true}` }},
		{"unknown webinar key", func(b *BookingRequest) { b.Webinar = `{"uri":"w","extra":1}` }},
		{"webinar missing uri", func(b *BookingRequest) { b.Webinar = `{"moderator_pin":"1234"}` }},
		{"unknown recording key", func(b *BookingRequest) { b.Recording = `{"record":true,"x":1}` }},
		{"room_info not a list", func(b *BookingRequest) { b.RoomInfo = `{"title":"x"}` }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBooking()
			tt.mutate(b)
			assert.Error(t, b.Validate())
		})
	}
}

func TestBookingParseSettingsFlexPIN(t *testing.T) {
	t.Parallel()

	b := validBooking()
	b.Settings = `{"lobby_pin": 1234, "force_encryption": true}`
	s, err := b.ParseSettings()
	require.NoError(t, err)
	assert.Equal(t, FlexPIN("1234"), s.LobbyPIN)
	assert.True(t, s.ForceEncryption)

	b.Settings = `{"lobby_pin": "007"}`
	s, err = b.ParseSettings()
	require.NoError(t, err)
	assert.Equal(t, FlexPIN("007"), s.LobbyPIN)
}

func TestBookingParseRoomInfo(t *testing.T) {
	t.Parallel()

	b := validBooking()
	b.RoomInfo = `[{"title":"Board room","dialstring":"room1@example.org","dialout":true},{"endpoint":"ep-1"}]`
	entries, err := b.ParseRoomInfo()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Dialout)
	assert.Equal(t, "ep-1", entries[1].Endpoint)

	b.RoomInfo = ""
	entries, err = b.ParseRoomInfo()
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestBookingParseWebinar(t *testing.T) {
	t.Parallel()

	b := validBooking()
	b.Webinar = `{"uri":"allhands","moderator_pin":"4321","enable_chat":true,"user_jids":["a@x","b@x"]}`
	w, err := b.ParseWebinar()
	require.NoError(t, err)
	assert.Equal(t, "allhands", w.URI)
	assert.Equal(t, []string{"a@x", "b@x"}, w.UserJIDs)
}
