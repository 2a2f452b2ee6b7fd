// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package recurrence reconciles recurring bookings against their
// occurrence rows. It expands the series rule, diffs the result against
// the stored meetings and creates, unbooks or deactivates rows until
// both sides agree.
package recurrence

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
)

const (
	// expansionHorizon bounds open-ended rules. Rules carrying an
	// explicit UNTIL or COUNT stop earlier on their own.
	expansionHorizon = 365 * 24 * time.Hour

	// activeWindow is how far ahead occurrences get a backend space.
	activeWindow = 60 * 24 * time.Hour
)

// Hooks let the booking layer plug backend side effects into the
// reconciler. Nil hooks degrade to database-only changes.
type Hooks struct {
	// Unbook tears down the backend object of an occurrence that the
	// series no longer contains.
	Unbook func(ctx context.Context, m *models.Meeting) error

	// Activate provisions the backend object for a promoted occurrence.
	Activate func(ctx context.Context, m *models.Meeting) error
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created []*models.Meeting
	Deleted []*models.Meeting
	Changed []*models.Meeting
}

// Empty reports whether the pass was a no-op.
func (r *Result) Empty() bool {
	return len(r.Created) == 0 && len(r.Deleted) == 0 && len(r.Changed) == 0
}

// UpdateFunc patches one existing occurrence row and reports whether it
// changed anything.
type UpdateFunc func(m *models.Meeting) bool

// Engine reconciles recurring meetings.
type Engine struct {
	db    *database.DB
	hooks Hooks
	now   func() time.Time
}

// New returns an engine writing through db.
func New(db *database.DB, hooks Hooks) *Engine {
	return &Engine{db: db, hooks: hooks, now: time.Now}
}

// ValidateRule reports whether rule is a parseable RRULE.
func ValidateRule(rule string) error {
	if rule == "" {
		return fmt.Errorf("empty recurrence rule")
	}
	if _, err := rrule.StrToROption(strings.TrimPrefix(rule, "RRULE:")); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", rule, err)
	}
	return nil
}

// Enumerate expands the series rule from start, minus exceptions. The
// result is bounded by UNTIL, COUNT or the expansion horizon, whichever
// comes first.
func Enumerate(r *models.RecurringMeeting, start time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(strings.TrimPrefix(r.Rule, "RRULE:"))
	if err != nil {
		return nil, fmt.Errorf("recurring meeting %d: invalid rule %q: %w", r.ID, r.Rule, err)
	}
	start = start.UTC().Truncate(time.Second)
	opt.Dtstart = start
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("recurring meeting %d: %w", r.ID, err)
	}

	excluded := make(map[string]bool)
	for _, rid := range r.ExceptionIDs() {
		excluded[rid] = true
	}

	all := rule.Between(start, start.Add(expansionHorizon), true)
	times := make([]time.Time, 0, len(all))
	for _, ts := range all {
		if excluded[models.FormatRecurrenceID(ts)] {
			continue
		}
		times = append(times, ts.UTC())
	}
	return times, nil
}

// Sync reconciles the stored occurrence rows with the expanded series.
// Missing occurrences are cloned from the first meeting, surplus rows
// are unbooked (future) or deactivated (past). Rows listed in the
// override set are left untouched. A non-nil update is applied to every
// surviving occurrence; rows it reports as changed are written back.
func (e *Engine) Sync(ctx context.Context, r *models.RecurringMeeting, update UpdateFunc) (*Result, error) {
	first, err := e.db.GetMeeting(ctx, r.FirstMeetingID)
	if err != nil {
		return nil, fmt.Errorf("recurring meeting %d: first meeting: %w", r.ID, err)
	}

	times, err := Enumerate(r, first.TSStart)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.ListSeriesMeetings(ctx, r.ID)
	if err != nil {
		return nil, err
	}

	overridden := make(map[string]bool)
	for _, rid := range r.OverrideIDs() {
		overridden[rid] = true
	}
	wanted := make(map[string]time.Time, len(times))
	for _, ts := range times {
		wanted[models.FormatRecurrenceID(ts)] = ts
	}

	existing := make(map[string]*models.Meeting)
	var extra []*models.Meeting
	for _, m := range rows {
		switch {
		case overridden[m.RecurrenceID]:
			// Intentionally diverged, managed outside the series.
		case wanted[m.RecurrenceID].IsZero():
			if m.BackendActive {
				extra = append(extra, m)
			}
		case existing[m.RecurrenceID] != nil:
			if m.BackendActive {
				extra = append(extra, m)
			}
		default:
			existing[m.RecurrenceID] = m
		}
	}

	var missing []string
	for rid := range wanted {
		if !overridden[rid] && existing[rid] == nil {
			missing = append(missing, rid)
		}
	}
	sort.Strings(missing)

	res := &Result{}

	// Externally managed series only prune; the booking source supplies
	// the occurrence rows itself.
	if !r.ExternalOccasionHandling {
		for _, rid := range missing {
			clone := e.cloneOccurrence(first, r, rid, wanted[rid])
			if err := e.db.CreateMeeting(ctx, clone); err != nil {
				return nil, fmt.Errorf("recurring meeting %d: create occurrence %s: %w", r.ID, rid, err)
			}
			res.Created = append(res.Created, clone)
		}
	}

	now := e.now().UTC()
	for _, m := range extra {
		if err := e.removeOccurrence(ctx, m, now); err != nil {
			return nil, err
		}
		res.Deleted = append(res.Deleted, m)
	}

	if update != nil {
		for _, rid := range sortedKeys(existing) {
			m := existing[rid]
			if !update(m) {
				continue
			}
			if err := e.db.UpdateMeeting(ctx, m); err != nil {
				return nil, fmt.Errorf("recurring meeting %d: update occurrence %s: %w", r.ID, rid, err)
			}
			res.Changed = append(res.Changed, m)
		}
	}

	if !res.Empty() {
		logging.Info().Int64("recurring_meeting", r.ID).
			Int("created", len(res.Created)).
			Int("deleted", len(res.Deleted)).
			Int("changed", len(res.Changed)).
			Msg("recurring series reconciled")
	}
	return res, nil
}

// SyncActive provisions backend spaces for the near-term occurrences:
// everything starting within the active window, or just the next
// occurrence when the window is empty. Each promoted row inherits the
// first meeting's backend binding.
func (e *Engine) SyncActive(ctx context.Context, r *models.RecurringMeeting) error {
	first, err := e.db.GetMeeting(ctx, r.FirstMeetingID)
	if err != nil {
		return fmt.Errorf("recurring meeting %d: first meeting: %w", r.ID, err)
	}
	rows, err := e.db.ListSeriesMeetings(ctx, r.ID)
	if err != nil {
		return err
	}

	now := e.now().UTC()
	horizon := now.Add(activeWindow)
	var due []*models.Meeting
	var next *models.Meeting
	for _, m := range rows {
		if !m.TSStart.After(now) {
			continue
		}
		if next == nil || m.TSStart.Before(next.TSStart) {
			next = m
		}
		if m.TSStart.Before(horizon) {
			due = append(due, m)
		}
	}
	if len(due) == 0 && next != nil {
		due = append(due, next)
	}

	for _, m := range due {
		if m.ID == first.ID || m.ProviderRef2 != "" {
			continue
		}
		m.ProviderID = first.ProviderID
		m.ProviderRef = first.ProviderRef
		m.ProviderRef2 = first.ProviderRef2
		m.ProviderSecret = first.ProviderSecret
		m.TSProvisioned = first.TSProvisioned
		m.TSDeprovisioned = first.TSDeprovisioned
		m.BackendActive = true
		if err := e.db.UpdateMeeting(ctx, m); err != nil {
			return fmt.Errorf("recurring meeting %d: promote occurrence %s: %w", r.ID, m.RecurrenceID, err)
		}
		if e.hooks.Activate != nil {
			if err := e.hooks.Activate(ctx, m); err != nil {
				return fmt.Errorf("recurring meeting %d: activate occurrence %s: %w", r.ID, m.RecurrenceID, err)
			}
		}
	}
	return nil
}

// UnbookOccurrence removes one occurrence from the series for good by
// recording it as an exception and unbooking its row.
func (e *Engine) UnbookOccurrence(ctx context.Context, r *models.RecurringMeeting, rid string) error {
	if _, err := models.ParseRecurrenceID(rid); err != nil {
		return fmt.Errorf("invalid recurrence id %q: %w", rid, err)
	}
	r.AddException(rid)
	if err := e.db.UpdateRecurringMeeting(ctx, r); err != nil {
		return err
	}

	rows, err := e.db.ListSeriesMeetings(ctx, r.ID)
	if err != nil {
		return err
	}
	now := e.now().UTC()
	for _, m := range rows {
		if m.RecurrenceID != rid {
			continue
		}
		if err := e.removeOccurrence(ctx, m, now); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) cloneOccurrence(first *models.Meeting, r *models.RecurringMeeting, rid string, ts time.Time) *models.Meeting {
	clone := *first
	clone.ID = 0
	clone.SecretKey = ""
	clone.ProviderRef = ""
	clone.ProviderRef2 = ""
	clone.ProviderSecret = ""
	clone.TSStart = ts
	clone.TSStop = ts.Add(r.Duration)
	clone.RecurrenceID = rid
	clone.BackendActive = true
	clone.IsSuperseded = false
	clone.ParentID = 0
	clone.ScheduleID = models.NewScheduleID("")
	clone.CustomerConfirmed = time.Time{}
	clone.TSProvisioned = time.Time{}
	clone.TSDeprovisioned = time.Time{}
	clone.TSUnbooked = time.Time{}
	clone.CreatedAt = time.Time{}
	return &clone
}

// removeOccurrence unbooks a future row and deactivates a past one. The
// backend teardown hook only runs for future rows that still hold a
// backend object.
func (e *Engine) removeOccurrence(ctx context.Context, m *models.Meeting, now time.Time) error {
	if m.TSStart.After(now) {
		if e.hooks.Unbook != nil && m.ProviderRef2 != "" {
			if err := e.hooks.Unbook(ctx, m); err != nil {
				logging.Warn().Err(err).Int64("meeting", m.ID).
					Msg("backend unbook of surplus occurrence failed")
			}
		}
		m.TSUnbooked = now
	}
	m.BackendActive = false
	if err := e.db.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("remove occurrence %d: %w", m.ID, err)
	}
	return nil
}

func sortedKeys(m map[string]*models.Meeting) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
