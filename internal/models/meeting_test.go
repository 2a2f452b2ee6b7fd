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

func TestRecurrenceIDRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	rid := FormatRecurrenceID(ts)
	assert.Equal(t, "20240103T100000", rid)

	parsed, err := ParseRecurrenceID(rid)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	// non-UTC input is canonicalized
	loc := time.FixedZone("CET", 3600)
	assert.Equal(t, "20240103T090000", FormatRecurrenceID(time.Date(2024, 1, 3, 10, 0, 0, 0, loc)))
}

func TestNewScheduleIDMonotonic(t *testing.T) {
	t.Parallel()

	prev := ""
	for i := 0; i < 100; i++ {
		id := NewScheduleID(prev)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestStaleSchedule(t *testing.T) {
	t.Parallel()

	m := &Meeting{ScheduleID: "100.5"}
	assert.False(t, m.StaleSchedule("100.5"))
	assert.True(t, m.StaleSchedule("99.0"))
	assert.True(t, m.StaleSchedule(""))
}

func TestIDKeyRoundTrip(t *testing.T) {
	t.Parallel()

	m := &Meeting{ID: 42, SecretKey: "aB3xY9"}
	key := m.IDKey()
	assert.Equal(t, "42-aB3xY9", key)

	pk, secret, err := ParseIDKey(key)
	require.NoError(t, err)
	assert.Equal(t, int64(42), pk)
	assert.Equal(t, "aB3xY9", secret)

	_, _, err = ParseIDKey("nodash")
	assert.Error(t, err)
	_, _, err = ParseIDKey("abc-def")
	assert.Error(t, err)
}

func TestRecurringMeetingExceptionList(t *testing.T) {
	t.Parallel()

	r := &RecurringMeeting{Exceptions: "20240103T100000"}
	r.AddException("20240105T100000")
	r.AddException("20240103T100000") // duplicate ignored

	assert.Equal(t, []string{"20240103T100000", "20240105T100000"}, r.ExceptionIDs())
}

func TestMeetingHelpers(t *testing.T) {
	t.Parallel()

	start := time.Now()
	m := &Meeting{TSStart: start, TSStop: start.Add(time.Hour), ModeratorPassword: "9999"}
	assert.Equal(t, time.Hour, m.Duration())
	assert.True(t, m.HasLobby())
	assert.False(t, m.IsRecurring())

	m.RecurringMeetingID = 3
	assert.True(t, m.IsRecurring())
}

func TestRecordingRetryCap(t *testing.T) {
	t.Parallel()

	r := &MeetingRecording{}
	for i := 0; i < MaxRecordingRetries; i++ {
		assert.True(t, r.CanRetry())
		r.RetryCount++
	}
	assert.False(t, r.CanRetry())
}
