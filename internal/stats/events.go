// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package stats

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/tenantmatch"
)

// Event kinds pushed by the conference-server event sink.
const (
	EventConferenceStarted       = "conference_started"
	EventConferenceEnded         = "conference_ended"
	EventParticipantConnected    = "participant_connected"
	EventParticipantDisconnected = "participant_disconnected"
)

// epoch is a unix timestamp in seconds, sent either as a number or a
// quoted string with an optional fraction.
type epoch time.Time

func (e *epoch) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	s := string(b)
	if s == "" || s == "null" {
		*e = epoch(time.Time{})
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("stats: bad timestamp %q", s)
	}
	sec, frac := int64(f), f-float64(int64(f))
	*e = epoch(time.Unix(sec, int64(frac*float64(time.Second))).UTC())
	return nil
}

func (e epoch) Time() time.Time { return time.Time(e) }

type sinkEvent struct {
	Event string          `json:"event"`
	Node  string          `json:"node"`
	Time  epoch           `json:"time"`
	Data  json.RawMessage `json:"data"`
}

type sinkConference struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Tag       string `json:"tag"`
	StartTime epoch  `json:"start_time"`
	EndTime   epoch  `json:"end_time"`
}

type sinkParticipant struct {
	CallID           string `json:"call_id"`
	UUID             string `json:"uuid"`
	ConversationID   string `json:"conversation_id"`
	Conference       string `json:"conference"`
	ConferenceGUID   string `json:"conference_guid"`
	ConnectTime      epoch  `json:"connect_time"`
	DisconnectTime   epoch  `json:"disconnect_time"`
	Protocol         string `json:"protocol"`
	CallDirection    string `json:"call_direction"`
	SourceAlias      string `json:"source_alias"`
	DestinationAlias string `json:"destination_alias"`
	DisplayName      string `json:"display_name"`
	ServiceType      string `json:"service_type"`
	Tag              string `json:"tag"`
}

// guid returns the stable leg key, preferring the per-call id over the
// per-conversation one.
func (p *sinkParticipant) guid() string {
	for _, id := range []string{p.CallID, p.UUID, p.ConversationID} {
		if id != "" {
			return id
		}
	}
	return ""
}

// callKey is what event-sink records correlate a conference on: the
// backend GUID when the payload carries one, otherwise the conference
// name. Both sides of a start/end pair always agree.
func (p *sinkParticipant) callKey() string {
	if p.ConferenceGUID != "" {
		return p.ConferenceGUID
	}
	return p.Conference
}

// HandleEvent applies one event-sink message to the store. Unknown
// event kinds are ignored. Messages replayed by the broker are
// harmless: inserts collapse on the GUID key and stop stamps are
// set-once.
func (in *Ingestor) HandleEvent(ctx context.Context, c *models.Cluster, body []byte) error {
	var ev sinkEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("stats: decode event: %w", err)
	}
	if len(ev.Data) == 0 {
		return nil
	}

	switch ev.Event {
	case EventConferenceStarted, EventConferenceEnded:
		return in.handleConferenceEvent(ctx, c, &ev)
	case EventParticipantConnected, EventParticipantDisconnected:
		return in.handleParticipantEvent(ctx, c, &ev)
	}
	logging.Trace().Str("event", ev.Event).Msg("ignoring event kind")
	return nil
}

func (in *Ingestor) handleConferenceEvent(ctx context.Context, c *models.Cluster, ev *sinkEvent) error {
	var data sinkConference
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("stats: decode conference event: %w", err)
	}
	guid := data.GUID
	if guid == "" {
		guid = data.Name
	}
	if guid == "" {
		return nil
	}

	call := &models.Call{
		GUID:      guid,
		ClusterID: c.ID,
		Name:      data.Name,
		TSStart:   data.StartTime.Time(),
		TSStop:    data.EndTime.Time(),
	}
	if tag, ok := models.ParseServiceTag(data.Tag); ok {
		call.TenantID = tag.TenantID
	}
	if ev.Event == EventConferenceEnded && call.TSStop.IsZero() {
		call.TSStop = ev.Time.Time()
	}
	in.attributeCall(ctx, c, call)
	return in.storeCall(ctx, c.ID, call)
}

func (in *Ingestor) handleParticipantEvent(ctx context.Context, c *models.Cluster, ev *sinkEvent) error {
	var data sinkParticipant
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		return fmt.Errorf("stats: decode participant event: %w", err)
	}
	guid := data.guid()
	if guid == "" || data.ConnectTime.Time().IsZero() {
		// still connecting, a later event carries the times
		return nil
	}
	switch data.ServiceType {
	case "ivr", "two_stage_dialing":
		return nil
	}

	local := strip(data.DestinationAlias)
	remote := strip(data.SourceAlias)
	if data.CallDirection != "in" {
		local, remote = remote, local
	}

	leg := &models.Leg{
		GUID:        guid,
		ClusterID:   c.ID,
		CallGUID:    data.callKey(),
		LocalAlias:  local,
		RemoteAlias: remote,
		DisplayName: strings.TrimSpace(strings.SplitN(data.DisplayName, "|", 2)[0]),
		Direction:   data.CallDirection,
		Protocol:    strings.ToLower(data.Protocol),
		External:    data.ServiceType == "gateway",
		TSStart:     data.ConnectTime.Time(),
	}
	if tag, ok := models.ParseServiceTag(data.Tag); ok {
		leg.TenantID = tag.TenantID
	}
	if ev.Event == EventParticipantDisconnected {
		leg.TSStop = data.DisconnectTime.Time()
		if leg.TSStop.IsZero() {
			leg.TSStop = ev.Time.Time()
		}
	}

	// the conference name resolves through the mirrored VMR as well
	m, err := in.match.Resolve(ctx, c, tenantmatch.Candidate{
		TenantID:    leg.TenantID,
		Name:        data.Conference,
		LocalAlias:  leg.LocalAlias,
		RemoteAlias: leg.RemoteAlias,
	})
	if err != nil {
		return err
	}
	if m != nil {
		leg.TenantID = m.TenantID
	}

	leg.ShouldCountStats = shouldCount(leg)
	return in.storeLeg(ctx, c.ID, leg)
}

// strip removes the scheme prefix the event sink leaves on aliases.
func strip(alias string) string {
	return strings.TrimPrefix(strings.TrimSpace(alias), "sip:")
}
