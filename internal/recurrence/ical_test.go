// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package recurrence

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICal = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-42@example.org\r\n" +
	"DTSTART:20240108T090000Z\r\n" +
	"DTEND:20240108T100000Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20240122T090000Z\r\n" +
	"SUMMARY:Weekly planning with a long subject line that the\r\n" +
	" exporter folded onto a second line\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:weekly-42@example.org\r\n" +
	"RECURRENCE-ID:20240115T090000Z\r\n" +
	"DTSTART:20240115T140000Z\r\n" +
	"DTEND:20240115T153000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICalSeries(t *testing.T) {
	t.Parallel()
	s, err := ParseICal(sampleICal)
	require.NoError(t, err)

	assert.Equal(t, "weekly-42@example.org", s.UID)
	assert.Equal(t, "FREQ=WEEKLY;COUNT=4", s.Rule)
	assert.True(t, s.Start.Equal(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Hour, s.Duration())
	assert.Equal(t, "20240122T090000", s.ExceptionList())
	assert.Equal(t, "20240115T090000", s.OverrideList())
}

func TestICalOccurrencesUseOverrideTimes(t *testing.T) {
	t.Parallel()
	s, err := ParseICal(sampleICal)
	require.NoError(t, err)

	occ, err := s.Occurrences()
	require.NoError(t, err)
	require.Len(t, occ, 3, "COUNT=4 minus one EXDATE")

	assert.Equal(t, "20240108T090000", occ[0].RecurrenceID)
	assert.True(t, occ[0].Stop.Equal(occ[0].Start.Add(time.Hour)))

	// The 15th diverges: moved to the afternoon and stretched.
	assert.Equal(t, "20240115T090000", occ[1].RecurrenceID)
	assert.True(t, occ[1].Start.Equal(time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)))
	assert.True(t, occ[1].Stop.Equal(time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)))

	assert.Equal(t, "20240129T090000", occ[2].RecurrenceID)
}

func TestParseICalTZID(t *testing.T) {
	t.Parallel()
	body := strings.Join([]string{
		"BEGIN:VEVENT",
		"UID:tz@example.org",
		"DTSTART;TZID=Europe/Stockholm:20240601T100000",
		"DTEND;TZID=Europe/Stockholm:20240601T110000",
		"END:VEVENT",
	}, "\r\n")
	s, err := ParseICal(body)
	require.NoError(t, err)

	// CEST is UTC+2 in June.
	assert.True(t, s.Start.Equal(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)))

	occ, err := s.Occurrences()
	require.NoError(t, err)
	require.Len(t, occ, 1, "a rule-less body is a single slot")
	assert.Equal(t, "20240601T080000", occ[0].RecurrenceID)
}

func TestParseICalRejectsMalformedBodies(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"no event":      "BEGIN:VCALENDAR\nEND:VCALENDAR",
		"unterminated":  "BEGIN:VEVENT\nDTSTART:20240101T100000Z",
		"missing dtend": "BEGIN:VEVENT\nDTSTART:20240101T100000Z\nEND:VEVENT",
		"bad rule": "BEGIN:VEVENT\nDTSTART:20240101T100000Z\n" +
			"DTEND:20240101T110000Z\nRRULE:FREQ=NEVER\nEND:VEVENT",
		"override only": "BEGIN:VEVENT\nRECURRENCE-ID:20240101T100000Z\n" +
			"DTSTART:20240101T100000Z\nDTEND:20240101T110000Z\nEND:VEVENT",
	}
	for name, body := range cases {
		_, err := ParseICal(body)
		assert.Error(t, err, name)
	}
}
