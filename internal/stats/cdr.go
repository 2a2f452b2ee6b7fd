// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package stats

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
)

// CDR record types posted by call-bridge nodes. Recording and
// streaming records belong to the recorder component and are skipped.
const (
	cdrCallStart     = "callStart"
	cdrCallEnd       = "callEnd"
	cdrCallLegStart  = "callLegStart"
	cdrCallLegEnd    = "callLegEnd"
	cdrCallLegUpdate = "callLegUpdate"
)

type cdrRecords struct {
	XMLName xml.Name    `xml:"records"`
	Records []cdrRecord `xml:"record"`
}

type cdrRecord struct {
	Type    string      `xml:"type,attr"`
	Time    string      `xml:"time,attr"`
	Call    *cdrCall    `xml:"call"`
	CallLeg *cdrCallLeg `xml:"callLeg"`
}

type cdrCall struct {
	ID                string  `xml:"id,attr"`
	Name              string  `xml:"name"`
	CoSpace           string  `xml:"coSpace"`
	Tenant            string  `xml:"tenant"`
	CDRTag            string  `xml:"cdrTag"`
	DurationSeconds   float64 `xml:"durationSeconds"`
	CallLegsMaxActive int     `xml:"callLegsMaxActive"`
}

type cdrCallLeg struct {
	ID              string  `xml:"id,attr"`
	Call            string  `xml:"call"`
	DisplayName     string  `xml:"displayName"`
	LocalAddress    string  `xml:"localAddress"`
	RemoteParty     string  `xml:"remoteParty"`
	RemoteAddress   string  `xml:"remoteAddress"`
	Direction       string  `xml:"direction"`
	Type            string  `xml:"type"`
	SubType         string  `xml:"subType"`
	GuestConnection string  `xml:"guestConnection"`
	Recording       string  `xml:"recording"`
	Streaming       string  `xml:"streaming"`
	DurationSeconds float64 `xml:"durationSeconds"`
	Reason          string  `xml:"reason"`
}

// HandleCDR applies one CDR POST body to the store. A body holds one
// or more records; unknown record types are skipped. Redelivered
// records are harmless for the same reason event replays are.
func (in *Ingestor) HandleCDR(ctx context.Context, c *models.Cluster, body []byte) error {
	var batch cdrRecords
	if err := xml.Unmarshal(body, &batch); err != nil {
		return fmt.Errorf("stats: decode cdr: %w", err)
	}
	for i := range batch.Records {
		r := &batch.Records[i]
		var err error
		switch {
		case r.Call != nil:
			err = in.handleCDRCall(ctx, c, r)
		case r.CallLeg != nil:
			err = in.handleCDRLeg(ctx, c, r)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (in *Ingestor) handleCDRCall(ctx context.Context, c *models.Cluster, r *cdrRecord) error {
	rec := r.Call
	if rec.ID == "" {
		return nil
	}
	switch r.Type {
	case cdrCallStart:
		call := &models.Call{
			GUID:      rec.ID,
			ClusterID: c.ID,
			SpaceID:   rec.CoSpace,
			Name:      rec.Name,
			TenantID:  rec.Tenant,
			TSStart:   cdrTime(r.Time, in.now()),
		}
		if call.TenantID == "" {
			if tag, ok := models.ParseServiceTag(rec.CDRTag); ok {
				call.TenantID = tag.TenantID
			}
		}
		in.attributeCall(ctx, c, call)
		return in.storeCall(ctx, c.ID, call)
	case cdrCallEnd:
		stop := cdrTime(r.Time, in.now())
		prev, err := in.db.GetCallByGUID(ctx, c.ID, rec.ID)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				return err
			}
			// end without a seen start, keep the duration at least
			call := &models.Call{
				GUID:      rec.ID,
				ClusterID: c.ID,
				SpaceID:   rec.CoSpace,
				TSStart:   stop.Add(-time.Duration(rec.DurationSeconds * float64(time.Second))),
				TSStop:    stop,
				Duration:  time.Duration(rec.DurationSeconds * float64(time.Second)),
				LegCount:  rec.CallLegsMaxActive,
			}
			in.attributeCall(ctx, c, call)
			return in.storeCall(ctx, c.ID, call)
		}
		prev.TSStop = stop
		prev.Duration = time.Duration(rec.DurationSeconds * float64(time.Second))
		prev.LegCount = rec.CallLegsMaxActive
		return in.storeCall(ctx, c.ID, prev)
	}
	return nil
}

func (in *Ingestor) handleCDRLeg(ctx context.Context, c *models.Cluster, r *cdrRecord) error {
	rec := r.CallLeg
	if rec.ID == "" {
		return nil
	}

	switch r.Type {
	case cdrCallLegStart:
		remote := rec.RemoteParty
		if remote == "" {
			remote = rec.RemoteAddress
		}
		if remote == "" && rec.Call == "" {
			// scanner probe with no destination, nothing to record
			return nil
		}
		leg := &models.Leg{
			GUID:        rec.ID,
			ClusterID:   c.ID,
			CallGUID:    rec.Call,
			LocalAlias:  rec.LocalAddress,
			RemoteAlias: remote,
			DisplayName: strings.TrimSpace(rec.DisplayName),
			Direction:   cdrDirection(rec.Direction),
			Protocol:    cdrProtocol(rec),
			External:    rec.SubType == "lync",
			TSStart:     cdrTime(r.Time, in.now()),
		}
		in.attributeLeg(ctx, c, leg)
		leg.ShouldCountStats = shouldCount(leg)
		return in.storeLeg(ctx, c.ID, leg)

	case cdrCallLegEnd:
		stop := cdrTime(r.Time, in.now())
		prev, err := in.db.GetLegByGUID(ctx, c.ID, rec.ID)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				return err
			}
			if rec.Reason == "unknownDestination" || rec.Reason == "ringingTimeout" {
				// never connected, scanner noise
				return nil
			}
			leg := &models.Leg{
				GUID:      rec.ID,
				ClusterID: c.ID,
				CallGUID:  rec.Call,
				TSStart:   stop.Add(-time.Duration(rec.DurationSeconds * float64(time.Second))),
				TSStop:    stop,
			}
			in.attributeLeg(ctx, c, leg)
			leg.ShouldCountStats = shouldCount(leg)
			return in.storeLeg(ctx, c.ID, leg)
		}
		prev.TSStop = stop
		prev.ShouldCountStats = shouldCount(prev)
		return in.storeLeg(ctx, c.ID, prev)

	case cdrCallLegUpdate:
		prev, err := in.db.GetLegByGUID(ctx, c.ID, rec.ID)
		if err != nil {
			if !errors.Is(err, database.ErrNotFound) {
				return err
			}
			return nil
		}
		if rec.DisplayName != "" {
			prev.DisplayName = strings.TrimSpace(rec.DisplayName)
		}
		if prev.CallGUID == "" && rec.Call != "" {
			prev.CallGUID = rec.Call
			in.attributeLeg(ctx, c, prev)
		}
		return in.storeLeg(ctx, c.ID, prev)
	}
	return nil
}

// cdrTime parses the record timestamp, falling back to the receive
// time when a node sends a malformed one.
func cdrTime(s string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

func cdrDirection(s string) string {
	switch s {
	case "incoming":
		return "in"
	case "outgoing":
		return "out"
	}
	return s
}

// cdrProtocol maps the wire type fields onto the store's protocol
// names. Distribution links between clustered nodes map to "cluster"
// so they never count toward statistics.
func cdrProtocol(rec *cdrCallLeg) string {
	switch rec.SubType {
	case "lync":
		return "lync"
	case "distributionLink":
		return "cluster"
	}
	if rec.Recording == "true" || rec.Streaming == "true" {
		return "stream"
	}
	switch rec.Type {
	case "sip":
		return "sip"
	case "acano":
		return "webrtc"
	}
	if rec.Type != "" {
		logging.Trace().Str("type", rec.Type).Msg("unmapped cdr leg type")
	}
	return rec.Type
}
