// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import "time"

// Call is one live (or completed) conference instance, stitched from
// history pulls and event-sink messages and keyed by the backend GUID.
type Call struct {
	ID        int64
	GUID      string
	ClusterID int64

	SpaceID   string
	Name      string
	CallID    string
	TenantID  string
	TSStart   time.Time
	TSStop    time.Time
	Duration  time.Duration

	// LegCount mirrors the backend participant count for live calls.
	LegCount int

	CreatedAt time.Time
}

// Active reports whether the call has not ended yet.
func (c *Call) Active() bool {
	return c.TSStop.IsZero()
}

// Leg is one participant connection of a call.
type Leg struct {
	ID        int64
	GUID      string
	ClusterID int64
	CallGUID  string

	LocalAlias  string
	RemoteAlias string
	DisplayName string

	// Direction is "in" or "out"; Protocol e.g. "sip", "h323", "webrtc".
	Direction string
	Protocol  string

	TenantID string
	External bool

	TSStart time.Time
	TSStop  time.Time

	// ShouldCountStats excludes presentation and duplicate legs from
	// statistics rollups.
	ShouldCountStats bool

	CreatedAt time.Time
}

// Active reports whether the leg is still connected.
func (l *Leg) Active() bool {
	return l.TSStop.IsZero()
}
