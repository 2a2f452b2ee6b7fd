// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"strings"
	"time"
)

// Family identifies a backend product family.
type Family string

const (
	// FamilyCallBridge backends model conferences as distinct call and
	// call-leg objects behind an XML REST API.
	FamilyCallBridge Family = "callbridge"

	// FamilyConfServer backends model conferences as flat participant
	// objects behind a JSON REST API.
	FamilyConfServer Family = "confserver"

	// FamilyCallControl backends are session border / call control
	// nodes with read-only scraped call records.
	FamilyCallControl Family = "callcontrol"
)

// Valid reports whether f names a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyCallBridge, FamilyConfServer, FamilyCallControl:
		return true
	}
	return false
}

// SupportsDialout reports whether the family can place outbound legs.
func (f Family) SupportsDialout() bool {
	return f == FamilyCallBridge || f == FamilyConfServer
}

// Cluster is a named set of peer providers of one family.
type Cluster struct {
	ID     int64
	Title  string
	Family Family

	// CDRActive is set once the cluster's CDR/event-sink receiver has
	// been registered on the backend.
	CDRActive bool

	// WebHost is the cluster-level web access host, used as a settings
	// fallback.
	WebHost  string
	PhoneIVR string

	// InternalDomain is the cluster-wide SIP domain fallback applied
	// when neither settings row nor node carries one.
	InternalDomain string

	CreatedAt time.Time
}

// Provider subtypes. An empty subtype is a regular conferencing node;
// anything else is a service node excluded from call distribution.
const (
	SubtypeRecorder = "recorder"
	SubtypeStreamer = "streamer"
	SubtypeUploader = "uploader"
)

// Provider is one physical backend node.
type Provider struct {
	ID        int64
	ClusterID int64
	Title     string
	Family    Family
	Subtype   string

	// Hostname is the reachable host; APIHost overrides it for API
	// traffic when the two differ.
	Hostname string
	APIHost  string
	Port     int

	Username  string
	Password  string
	VerifyTLS bool

	// Session state for cookie-authenticated families, persisted so
	// peers share a live session.
	SessionID      string
	SessionExpires time.Time

	SoftwareVersion string
	Enabled         bool

	// InternalDomains is a comma-separated SIP domain list; the first
	// entry is the node's primary internal domain.
	InternalDomains string

	CreatedAt time.Time
}

// IsServiceNode reports whether the node is a recorder, streamer or
// similar side-car rather than a conferencing member.
func (p *Provider) IsServiceNode() bool {
	return p.Subtype != ""
}

// APIHostname returns the host API requests should target.
func (p *Provider) APIHostname() string {
	if p.APIHost != "" {
		return p.APIHost
	}
	return p.Hostname
}

// InternalDomain returns the first configured internal domain.
func (p *Provider) InternalDomain() string {
	if p.InternalDomains == "" {
		return p.Hostname
	}
	return strings.SplitN(p.InternalDomains, ",", 2)[0]
}

// SessionValid reports whether the stored session cookie is still usable.
func (p *Provider) SessionValid(now time.Time) bool {
	return p.SessionID != "" && p.SessionExpires.After(now)
}

// ClusterSettings is the per-cluster, optionally per-(cluster, customer),
// bag of provisioning defaults. A row with CustomerID == 0 is the cluster
// default; customer overrides fall back to it field by field.
type ClusterSettings struct {
	ID         int64
	ClusterID  int64
	CustomerID int64

	MainDomain        string
	AdditionalDomains string
	WebDomain         string
	PhoneIVR          string
	DialOutLocation   string
	ThemeProfile      string

	ScheduledRoomNumberRangeID int64
	StaticRoomNumberRangeID    int64

	// RemoveExpiredRooms is the cluster-level expiry window applied
	// when the customer has none of its own.
	RemoveExpiredRooms time.Duration

	// SetCallIDAsURI also writes allocated call-ids as secondary
	// aliases. Off by default.
	SetCallIDAsURI bool

	// UseLocalDatabase lets read operations answer from the mirror
	// when a recent sync exists.
	UseLocalDatabase bool
}

// IsDefault reports whether this row is the cluster-wide default.
func (s *ClusterSettings) IsDefault() bool {
	return s.CustomerID == 0
}

// AdditionalDomainList splits AdditionalDomains, dropping entries that
// cannot be a domain.
func (s *ClusterSettings) AdditionalDomainList() []string {
	domains := strings.TrimSpace(s.AdditionalDomains)
	if domains == "" {
		return nil
	}
	var result []string
	for _, d := range strings.Split(domains, ",") {
		if d = strings.TrimSpace(d); strings.Contains(d, ".") {
			result = append(result, d)
		}
	}
	return result
}

// NumberRange allocates numeric call-ids from an inclusive [Start, Stop]
// interval. Next is the monotonic cursor; atomic allocation lives in the
// database layer.
type NumberRange struct {
	ID        int64
	ClusterID int64
	Title     string
	Start     int64
	Stop      int64
	Next      int64
}

// Contains reports whether n lies within the range.
func (r *NumberRange) Contains(n int64) bool {
	return n >= r.Start && n <= r.Stop
}

// Span returns the number of allocatable values.
func (r *NumberRange) Span() int64 {
	if r.Stop < r.Start {
		return 0
	}
	return r.Stop - r.Start + 1
}
