// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package provision

import (
	"context"
	"fmt"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/recurrence"
)

// Rebook replaces a booking with an updated one. The old row survives
// as history with is_superseded set; the new row points back at it via
// parent_id and inherits the side-cars. A booking that stays on the
// same cluster keeps its backend space and gets it patched in place;
// moving clusters tears the old space down and provisions fresh.
func (s *Service) Rebook(ctx context.Context, old *models.Meeting, req *models.BookingRequest) (*models.Meeting, error) {
	if !old.TSUnbooked.IsZero() {
		return nil, fmt.Errorf("rebook: meeting %d is already unbooked", old.ID)
	}
	if old.IsSuperseded {
		return nil, fmt.Errorf("rebook: meeting %d is already superseded", old.ID)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Recurring != "" {
		if err := recurrence.ValidateRule(req.Recurring); err != nil {
			return nil, fmt.Errorf("rebook: %w", err)
		}
	}

	customer, c, err := s.lookup(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	m := meetingFromRequest(req, customer, c)
	m.ParentID = old.ID
	m.RecurringMeetingID = old.RecurringMeetingID
	m.RecurrenceID = old.RecurrenceID
	m.RecurrenceUID = old.RecurrenceUID
	if err := s.db.CreateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("rebook: persist meeting: %w", err)
	}

	samePlace := old.ClusterID == m.ClusterID && old.ProviderRef2 != ""
	if samePlace {
		if err := s.patchInPlace(ctx, c, customer, old, m); err != nil {
			return nil, err
		}
	} else {
		if err := s.unbookBackend(ctx, old); err != nil {
			return nil, err
		}
		cl := s.clustered(c, customer.ID)
		switch c.Family {
		case models.FamilyCallBridge:
			err = s.bookCallBridge(ctx, cl, c, customer, m)
		case models.FamilyConfServer:
			err = s.bookConfServer(ctx, cl, c, customer, m)
		default:
			err = s.bookExternalOnly(ctx, c, m, req)
		}
		if err != nil {
			return nil, err
		}
	}

	// Old side-car rows are closed out first so Activate schedules a
	// fresh set against the new token, then moved so their history
	// follows the live row.
	if err := s.teardownSideCars(ctx, old); err != nil {
		return nil, err
	}
	if err := s.db.RepointSideCars(ctx, old.ID, m.ID); err != nil {
		return nil, fmt.Errorf("rebook: move side-cars: %w", err)
	}

	if req.Confirm {
		m.CustomerConfirmed = s.now().UTC()
	}
	if err := s.db.UpdateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("rebook: store backend refs: %w", err)
	}

	old.IsSuperseded = true
	old.BackendActive = false
	if err := s.db.UpdateMeeting(ctx, old); err != nil {
		return nil, fmt.Errorf("rebook: supersede meeting %d: %w", old.ID, err)
	}

	if err := s.Activate(ctx, m); err != nil {
		return nil, err
	}

	if m.IsRecurring() {
		r, err := s.db.GetRecurringMeeting(ctx, m.RecurringMeetingID)
		if err != nil {
			return nil, err
		}
		if r.FirstMeetingID == old.ID {
			r.FirstMeetingID = m.ID
			r.Rule = req.Recurring
			r.Duration = m.Duration()
			if err := s.db.UpdateRecurringMeeting(ctx, r); err != nil {
				return nil, err
			}
		}
		if _, err := s.recur.Sync(ctx, r, nil); err != nil {
			return nil, err
		}
	}

	logging.Info().Int64("meeting", m.ID).Int64("superseded", old.ID).
		Bool("in_place", samePlace).Msg("meeting rebooked")
	return m, nil
}

// patchInPlace carries the backend binding over to the new row and
// pushes the changed booking fields onto the existing space.
func (s *Service) patchInPlace(ctx context.Context, c *models.Cluster, customer *models.Customer, old, m *models.Meeting) error {
	m.ProviderID = old.ProviderID
	m.ProviderRef = old.ProviderRef
	m.ProviderRef2 = old.ProviderRef2
	m.ProviderSecret = old.ProviderSecret
	m.TSProvisioned = old.TSProvisioned

	cl := s.clustered(c, customer.ID)
	patch := backends.SpacePatch{Name: &m.Title}
	switch c.Family {
	case models.FamilyCallBridge:
		patch.Passcode = &m.Password
	case models.FamilyConfServer:
		lobby := m.HasLobby()
		if lobby {
			patch.PIN = &m.ModeratorPassword
			patch.GuestPIN = &m.Password
		} else {
			patch.PIN = &m.Password
			empty := ""
			patch.GuestPIN = &empty
		}
		patch.AllowGuests = &lobby
	}
	if m.Layout != "" && m.Layout != old.Layout {
		patch.Layout = &m.Layout
	}
	if err := cl.UpdateSpace(ctx, m.ProviderRef2, patch); err != nil {
		return fmt.Errorf("rebook: patch space %s: %w", m.ProviderRef2, err)
	}
	return nil
}
