// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/models"
)

// ICalOverride is one occurrence diverged from its series, carrying its
// own start and stop times.
type ICalOverride struct {
	RecurrenceID string
	Start        time.Time
	Stop         time.Time
}

// ICalSeries is the series definition extracted from an external
// calendar body: the master VEVENT plus any RECURRENCE-ID overrides.
type ICalSeries struct {
	UID        string
	Rule       string
	Start      time.Time
	Stop       time.Time
	Exceptions []string
	Overrides  []ICalOverride
}

// Occurrence is one concrete expansion slot.
type Occurrence struct {
	RecurrenceID string
	Start        time.Time
	Stop         time.Time
}

// ParseICal extracts the recurring series from an iCalendar body. The
// VEVENT without a RECURRENCE-ID is the master; every other VEVENT is
// treated as a per-occurrence override.
func ParseICal(body string) (*ICalSeries, error) {
	events, err := splitVEvents(body)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("ical body contains no VEVENT")
	}

	series := &ICalSeries{}
	var haveMaster bool
	for _, ev := range events {
		rid, hasRID := ev.first("RECURRENCE-ID")
		start, err := ev.time("DTSTART")
		if err != nil {
			return nil, err
		}
		stop, err := ev.time("DTEND")
		if err != nil {
			return nil, err
		}

		if hasRID {
			ridTime, err := parseICalTime(rid.value, rid.params)
			if err != nil {
				return nil, fmt.Errorf("invalid RECURRENCE-ID %q: %w", rid.value, err)
			}
			series.Overrides = append(series.Overrides, ICalOverride{
				RecurrenceID: models.FormatRecurrenceID(ridTime),
				Start:        start,
				Stop:         stop,
			})
			continue
		}
		if haveMaster {
			return nil, fmt.Errorf("ical body contains more than one master VEVENT")
		}
		haveMaster = true
		series.Start = start
		series.Stop = stop
		if uid, ok := ev.first("UID"); ok {
			series.UID = uid.value
		}
		if rule, ok := ev.first("RRULE"); ok {
			series.Rule = rule.value
		}
		for _, ex := range ev.all("EXDATE") {
			for _, raw := range strings.Split(ex.value, ",") {
				ts, err := parseICalTime(strings.TrimSpace(raw), ex.params)
				if err != nil {
					return nil, fmt.Errorf("invalid EXDATE %q: %w", raw, err)
				}
				series.Exceptions = append(series.Exceptions, models.FormatRecurrenceID(ts))
			}
		}
	}
	if !haveMaster {
		return nil, fmt.Errorf("ical body contains no master VEVENT")
	}
	if series.Rule != "" {
		if err := ValidateRule(series.Rule); err != nil {
			return nil, err
		}
	}
	sort.Slice(series.Overrides, func(i, j int) bool {
		return series.Overrides[i].RecurrenceID < series.Overrides[j].RecurrenceID
	})
	return series, nil
}

// Duration returns the master event length.
func (s *ICalSeries) Duration() time.Duration {
	return s.Stop.Sub(s.Start)
}

// ExceptionList renders the EXDATE set in stored form.
func (s *ICalSeries) ExceptionList() string {
	return strings.Join(s.Exceptions, ",")
}

// OverrideList renders the override recurrence ids in stored form.
func (s *ICalSeries) OverrideList() string {
	ids := make([]string, len(s.Overrides))
	for i, o := range s.Overrides {
		ids[i] = o.RecurrenceID
	}
	return strings.Join(ids, ",")
}

// Occurrences expands the series. Slots matching an override take the
// override's own times; all other slots run rule start to start plus
// the master duration. A rule-less series yields only the master slot.
func (s *ICalSeries) Occurrences() ([]Occurrence, error) {
	overrides := make(map[string]ICalOverride, len(s.Overrides))
	for _, o := range s.Overrides {
		overrides[o.RecurrenceID] = o
	}

	if s.Rule == "" {
		rid := models.FormatRecurrenceID(s.Start)
		if o, ok := overrides[rid]; ok {
			return []Occurrence{{RecurrenceID: rid, Start: o.Start, Stop: o.Stop}}, nil
		}
		return []Occurrence{{RecurrenceID: rid, Start: s.Start, Stop: s.Stop}}, nil
	}

	rm := &models.RecurringMeeting{Rule: s.Rule, Exceptions: s.ExceptionList()}
	times, err := Enumerate(rm, s.Start)
	if err != nil {
		return nil, err
	}
	out := make([]Occurrence, 0, len(times))
	dur := s.Duration()
	for _, ts := range times {
		rid := models.FormatRecurrenceID(ts)
		if o, ok := overrides[rid]; ok {
			out = append(out, Occurrence{RecurrenceID: rid, Start: o.Start, Stop: o.Stop})
			continue
		}
		out = append(out, Occurrence{RecurrenceID: rid, Start: ts, Stop: ts.Add(dur)})
	}
	return out, nil
}

type icalProp struct {
	name   string
	params map[string]string
	value  string
}

type icalEvent []icalProp

func (e icalEvent) first(name string) (icalProp, bool) {
	for _, p := range e {
		if p.name == name {
			return p, true
		}
	}
	return icalProp{}, false
}

func (e icalEvent) all(name string) []icalProp {
	var out []icalProp
	for _, p := range e {
		if p.name == name {
			out = append(out, p)
		}
	}
	return out
}

func (e icalEvent) time(name string) (time.Time, error) {
	p, ok := e.first(name)
	if !ok {
		return time.Time{}, fmt.Errorf("VEVENT missing %s", name)
	}
	ts, err := parseICalTime(p.value, p.params)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", name, p.value, err)
	}
	return ts, nil
}

// splitVEvents unfolds the body and collects the properties of every
// VEVENT block. Everything outside VEVENT is ignored.
func splitVEvents(body string) ([]icalEvent, error) {
	var events []icalEvent
	var current icalEvent
	inEvent := false
	for _, line := range unfoldLines(body) {
		switch {
		case line == "BEGIN:VEVENT":
			if inEvent {
				return nil, fmt.Errorf("nested VEVENT")
			}
			inEvent = true
			current = nil
		case line == "END:VEVENT":
			if !inEvent {
				return nil, fmt.Errorf("END:VEVENT without BEGIN")
			}
			inEvent = false
			events = append(events, current)
		case inEvent:
			prop, ok := parseICalProp(line)
			if ok {
				current = append(current, prop)
			}
		}
	}
	if inEvent {
		return nil, fmt.Errorf("unterminated VEVENT")
	}
	return events, nil
}

// unfoldLines joins RFC 5545 folded continuation lines.
func unfoldLines(body string) []string {
	raw := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	var lines []string
	for _, l := range raw {
		if (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += l[1:]
			continue
		}
		if l = strings.TrimRight(l, "\r"); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseICalProp(line string) (icalProp, bool) {
	colon := strings.IndexByte(line, ':')
	if colon <= 0 {
		return icalProp{}, false
	}
	head, value := line[:colon], line[colon+1:]
	parts := strings.Split(head, ";")
	prop := icalProp{name: strings.ToUpper(parts[0]), value: value}
	for _, p := range parts[1:] {
		if eq := strings.IndexByte(p, '='); eq > 0 {
			if prop.params == nil {
				prop.params = make(map[string]string)
			}
			prop.params[strings.ToUpper(p[:eq])] = p[eq+1:]
		}
	}
	return prop, true
}

// parseICalTime handles UTC, floating with TZID, and date-only values.
func parseICalTime(value string, params map[string]string) (time.Time, error) {
	if strings.HasSuffix(value, "Z") {
		return time.Parse("20060102T150405Z", value)
	}
	loc := time.UTC
	if tzid := params["TZID"]; tzid != "" {
		l, err := time.LoadLocation(tzid)
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown timezone %q: %w", tzid, err)
		}
		loc = l
	}
	if len(value) == 8 {
		ts, err := time.ParseInLocation("20060102", value, loc)
		if err != nil {
			return time.Time{}, err
		}
		return ts.UTC(), nil
	}
	ts, err := time.ParseInLocation("20060102T150405", value, loc)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
