// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecurrenceIDLayout is the canonical occurrence key format, UTC.
const RecurrenceIDLayout = "20060102T150405"

// FormatRecurrenceID derives the occurrence key from a start timestamp.
func FormatRecurrenceID(ts time.Time) string {
	return ts.UTC().Format(RecurrenceIDLayout)
}

// ParseRecurrenceID parses a canonical occurrence key back to UTC time.
func ParseRecurrenceID(s string) (time.Time, error) {
	return time.Parse(RecurrenceIDLayout, s)
}

// Meeting is a scheduled booking bound to a backend space.
type Meeting struct {
	ID         int64
	SecretKey  string
	CustomerID int64
	ClusterID  int64
	ProviderID int64

	// ProviderRef is the allocated call-id; ProviderRef2 the backend
	// space external id; ProviderSecret a backend-issued secret.
	ProviderRef    string
	ProviderRef2   string
	ProviderSecret string

	Title     string
	Creator   string
	CreatorIP string
	Source    string
	Type      string

	TSStart  time.Time
	TSStop   time.Time
	Timezone string

	InternalClients int
	ExternalClients int
	OnlyInternal    bool

	Password          string
	ModeratorPassword string
	IsPrivate         bool

	// RecurringMeetingID groups occurrences; RecurrenceID is this
	// occurrence's canonical key within the series.
	RecurringMeetingID int64
	RecurrenceID       string
	RecurrenceUID      string

	// Raw JSON blobs of the validated booking bundle.
	RoomInfo  string
	Recording string
	Webinar   string
	Settings  string

	Layout          string
	ModeratorLayout string

	OrganizationUnit string

	BackendActive bool
	IsSuperseded  bool
	ParentID      int64

	// ScheduleID is the monotonic staleness token. Background tasks
	// carrying an older value must no-op.
	ScheduleID string

	CustomerConfirmed time.Time
	TSProvisioned     time.Time
	TSDeprovisioned   time.Time
	TSUnbooked        time.Time

	CreatedAt time.Time
}

// NewScheduleID issues a fresh monotonic token, strictly greater than
// prev even under sub-nanosecond clock resolution.
func NewScheduleID(prev string) string {
	id := strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 7, 64)
	if prev != "" && id <= prev {
		if f, err := strconv.ParseFloat(prev, 64); err == nil {
			id = strconv.FormatFloat(f+1e-7, 'f', 7, 64)
		}
	}
	return id
}

// StaleSchedule reports whether a task token is older than the meeting's
// current schedule id.
func (m *Meeting) StaleSchedule(token string) bool {
	return token != m.ScheduleID
}

// IDKey is the external meeting reference, "<pk>-<secret>".
func (m *Meeting) IDKey() string {
	return fmt.Sprintf("%d-%s", m.ID, m.SecretKey)
}

// ParseIDKey splits an external meeting reference.
func ParseIDKey(key string) (int64, string, error) {
	i := strings.IndexByte(key, '-')
	if i <= 0 || i == len(key)-1 {
		return 0, "", fmt.Errorf("invalid meeting key %q", key)
	}
	pk, err := strconv.ParseInt(key[:i], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid meeting key %q: %w", key, err)
	}
	return pk, key[i+1:], nil
}

// Duration returns the booked length.
func (m *Meeting) Duration() time.Duration {
	return m.TSStop.Sub(m.TSStart)
}

// HasLobby reports whether the booking separates hosts from guests.
func (m *Meeting) HasLobby() bool {
	return m.ModeratorPassword != ""
}

// IsRecurring reports whether the meeting belongs to a series.
func (m *Meeting) IsRecurring() bool {
	return m.RecurringMeetingID != 0
}

// RecurringMeeting groups the occurrences of one recurring booking.
type RecurringMeeting struct {
	ID         int64
	CustomerID int64
	ProviderID int64

	// Rule is the iCalendar RRULE; Exceptions the EXDATE list as
	// comma-separated canonical recurrence ids; Overrides the
	// recurrence ids intentionally diverged from the series.
	Rule       string
	Exceptions string
	Overrides  string

	Duration time.Duration
	UID      string

	FirstMeetingID int64

	// ExternalOccasionHandling defers occurrence management to the
	// booking source; sync then only prunes.
	ExternalOccasionHandling bool
}

// ExceptionIDs returns the EXDATE recurrence ids.
func (r *RecurringMeeting) ExceptionIDs() []string {
	return splitIDList(r.Exceptions)
}

// OverrideIDs returns the recurrence ids excluded from series sync.
func (r *RecurringMeeting) OverrideIDs() []string {
	return splitIDList(r.Overrides)
}

// Endless reports whether the rule repeats forever, carrying neither
// an UNTIL nor a COUNT bound.
func (r *RecurringMeeting) Endless() bool {
	rule := strings.ToUpper(r.Rule)
	return rule != "" && !strings.Contains(rule, "UNTIL=") && !strings.Contains(rule, "COUNT=")
}

// AddException appends rid to the EXDATE list if not already present.
func (r *RecurringMeeting) AddException(rid string) {
	for _, existing := range r.ExceptionIDs() {
		if existing == rid {
			return
		}
	}
	if r.Exceptions == "" {
		r.Exceptions = rid
	} else {
		r.Exceptions += "," + rid
	}
}

func splitIDList(s string) []string {
	if s == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// MeetingRecording binds a meeting to a recording/streaming job.
type MeetingRecording struct {
	ID        int64
	MeetingID int64

	RecordingID  string
	RecordingID2 string
	IsLive       bool
	IsPublic     bool
	Name         string
	CallbackURL  string

	TSActivated   time.Time
	TSDeactivated time.Time

	ScheduleID string
	RetryCount int

	IsActive bool
}

// MaxRecordingRetries caps automatic restart attempts per recording.
const MaxRecordingRetries = 3

// CanRetry reports whether another start attempt is allowed.
func (r *MeetingRecording) CanRetry() bool {
	return r.RetryCount < MaxRecordingRetries
}

// MeetingDialout binds a meeting to one outbound dial target.
type MeetingDialout struct {
	ID        int64
	MeetingID int64

	Dialstring string
	Title      string

	// LegID is the backend call-leg created by the dial-out, used by
	// the liveness re-check.
	LegID string

	TSActivated   time.Time
	TSDeactivated time.Time

	ScheduleID string
	RetryCount int

	IsActive bool
}

// MeetingWebinar is the webinar side-car of a lecture-mode booking.
type MeetingWebinar struct {
	ID        int64
	MeetingID int64

	URI          string
	ModeratorPIN string
	Group        string
	EnableChat   bool

	// UserJIDs is the comma-separated list of pre-authorized users.
	UserJIDs string
}

// UserJIDList splits UserJIDs.
func (w *MeetingWebinar) UserJIDList() []string {
	return splitIDList(w.UserJIDs)
}
