// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package provision maps logical bookings onto backend objects: spaces,
// aliases, access methods, PIN and lobby wiring, plus the delayed tasks
// that fire around a meeting's start and stop.
package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/recurrence"
	"github.com/confatlas/confatlas/internal/tasks"
)

// ExternalBooker books meetings onto a guest-bridge account when the
// hosting cluster cannot terminate external callers itself.
type ExternalBooker interface {
	Book(ctx context.Context, m *models.Meeting, req *models.BookingRequest) error
	Unbook(ctx context.Context, m *models.Meeting) error
}

// EndpointSyncFunc pushes a meeting's booking state to a room system.
type EndpointSyncFunc func(ctx context.Context, m *models.Meeting, endpoint string) error

// Service is the booking provisioner.
type Service struct {
	db       *database.DB
	clusters *cluster.Service
	runner   *tasks.Runner
	deps     backends.Deps

	recur *recurrence.Engine

	// External and Endpoints are optional integrations; nil skips the
	// corresponding step with a log line.
	External  ExternalBooker
	Endpoints EndpointSyncFunc

	now func() time.Time
}

// New wires a provisioner. The recurrence engine it embeds calls back
// into the provisioner for backend unbook and activation of promoted
// occurrences.
func New(db *database.DB, clusters *cluster.Service, runner *tasks.Runner, deps backends.Deps) *Service {
	s := &Service{
		db:       db,
		clusters: clusters,
		runner:   runner,
		deps:     deps,
		now:      time.Now,
	}
	s.recur = recurrence.New(db, recurrence.Hooks{
		Unbook:   s.unbookBackend,
		Activate: s.Activate,
	})
	return s
}

// Recurrence exposes the embedded engine for series-level operations.
func (s *Service) Recurrence() *recurrence.Engine { return s.recur }

// clustered builds the cluster-wide adapter wrapper scoped to one
// customer, so trace logging and settings memoization carry the right
// owner.
func (s *Service) clustered(c *models.Cluster, customerID int64) *backends.Clustered {
	deps := s.deps
	deps.CustomerID = customerID
	return backends.NewClustered(c, s.clusters, s.db, deps)
}

// ShouldBookExternalClient reports whether a booking on the given
// family needs a guest-bridge account: the backend cannot host outside
// callers itself and the booking expects any.
func ShouldBookExternalClient(family models.Family, req *models.BookingRequest) bool {
	switch family {
	case models.FamilyCallBridge, models.FamilyConfServer:
		return false
	}
	return req.Password != "" || req.ExternalClients > 0
}

// slug lowercases a title into a dialable alias local part.
func slug(title string) string {
	var b strings.Builder
	lastDot := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDot = false
		default:
			if !lastDot {
				b.WriteByte('.')
				lastDot = true
			}
		}
	}
	return strings.TrimRight(b.String(), ".")
}

func (s *Service) lookup(ctx context.Context, customerID int64) (*models.Customer, *models.Cluster, error) {
	customer, err := s.db.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, nil, fmt.Errorf("booking: customer %d: %w", customerID, err)
	}
	if customer.ClusterID == 0 {
		return nil, nil, fmt.Errorf("booking: customer %q has no cluster assigned", customer.Title)
	}
	c, err := s.db.GetCluster(ctx, customer.ClusterID)
	if err != nil {
		return nil, nil, fmt.Errorf("booking: cluster %d: %w", customer.ClusterID, err)
	}
	return customer, c, nil
}

// meetingFromRequest builds the inactive meeting row for a validated
// booking.
func meetingFromRequest(req *models.BookingRequest, customer *models.Customer, c *models.Cluster) *models.Meeting {
	return &models.Meeting{
		CustomerID:        customer.ID,
		ClusterID:         c.ID,
		Title:             req.Title,
		Creator:           req.Creator,
		CreatorIP:         req.CreatorIP,
		Source:            req.Source,
		Type:              req.Type,
		TSStart:           req.TSStart.UTC(),
		TSStop:            req.TSStop.UTC(),
		Timezone:          req.Timezone,
		InternalClients:   req.InternalClients,
		ExternalClients:   req.ExternalClients,
		OnlyInternal:      req.OnlyInternal,
		Password:          req.Password,
		ModeratorPassword: req.ModeratorPassword,
		IsPrivate:         req.IsPrivate,
		RecurrenceID:      req.RecurrenceID,
		RoomInfo:          req.RoomInfo,
		Recording:         req.Recording,
		Webinar:           req.Webinar,
		Settings:          req.Settings,
		Layout:            req.Layout,
		ModeratorLayout:   req.ModeratorLayout,
		OrganizationUnit:  customer.OrganizationUnit,
	}
}

// meetingSettings re-parses the stored settings blob of a meeting row.
func meetingSettings(m *models.Meeting) *models.MeetingSettings {
	req := models.BookingRequest{Settings: m.Settings}
	set, err := req.ParseSettings()
	if err != nil || set == nil {
		return &models.MeetingSettings{}
	}
	return set
}

func meetingRecording(m *models.Meeting) *models.RecordingSettings {
	req := models.BookingRequest{Recording: m.Recording}
	rec, err := req.ParseRecording()
	if err != nil {
		return nil
	}
	return rec
}

func meetingRoomInfo(m *models.Meeting) []models.RoomInfoEntry {
	req := models.BookingRequest{RoomInfo: m.RoomInfo}
	entries, err := req.ParseRoomInfo()
	if err != nil {
		return nil
	}
	return entries
}

func meetingWebinar(m *models.Meeting) *models.WebinarSettings {
	req := models.BookingRequest{Webinar: m.Webinar}
	w, err := req.ParseWebinar()
	if err != nil {
		return nil
	}
	return w
}
