// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"strings"
	"time"
)

// MirrorRow carries the bookkeeping every mirrored backend object has:
// owning provider, sync stamp, and the is_active tombstone flag.
type MirrorRow struct {
	ProviderID int64
	LastSynced time.Time
	IsActive   bool
}

// Space is a mirrored virtual meeting room.
type Space struct {
	ID         int64
	ExternalID string
	MirrorRow

	Name   string
	URI    string
	CallID string

	PIN         string
	GuestPIN    string
	AllowGuests bool

	// SecondaryURI and passcode carry the call-bridge family's second
	// access method used for moderator/lobby semantics.
	SecondaryURI string
	Passcode     string

	// Secret is the call-bridge space secret returned on reads. It is
	// kept on the meeting row, not in the mirror.
	Secret string

	// ServiceType is "conference" or "lecture" (webinar).
	ServiceType string

	TenantID         string
	Theme            string
	OrganizationUnit string
	OwnerEmail       string

	// Tag is the conference-server family's correlation tag, a
	// query-string of tenant/customer/guid/meeting ids.
	Tag string

	IsScheduled  bool
	TSAutoRemove time.Time
}

// SpaceAlias is one dialable alias of a conference-server space.
// Numeric-only aliases double as call-ids.
type SpaceAlias struct {
	ID         int64
	ExternalID string
	MirrorRow

	SpaceID    int64
	Alias      string
	Descriptor string
}

// IsNumeric reports whether the alias is digits only and therefore
// usable as a call-id.
func (a *SpaceAlias) IsNumeric() bool {
	if a.Alias == "" {
		return false
	}
	for _, r := range a.Alias {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// AutoParticipant is a participant a conference-server space dials out
// to automatically when the conference starts.
type AutoParticipant struct {
	ID         int64
	ExternalID string
	MirrorRow

	SpaceID    int64
	Alias      string
	Protocol   string
	Role       string
	KeepAlive  bool
	Streaming  bool
	DTMFSeq    string
	RemoteName string
}

// Theme is a mirrored backend theme / IVR profile.
type Theme struct {
	ID         int64
	ExternalID string
	MirrorRow

	Name        string
	ResourceURI string
	UUID        string
}

// User is a mirrored backend directory user.
type User struct {
	ID         int64
	ExternalID string
	MirrorRow

	Email            string
	Name             string
	TenantID         string
	OrganizationUnit string
	SyncTag          string
}

// EmailDomain returns the domain part of the user's email, lowercased.
func (u *User) EmailDomain() string {
	if i := strings.LastIndexByte(u.Email, '@'); i >= 0 {
		return strings.ToLower(u.Email[i+1:])
	}
	return ""
}
