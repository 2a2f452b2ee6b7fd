// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package provision

import (
	"context"
	"fmt"

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

// Unbook cancels a meeting: the row is tombstoned, the backend space
// removed and the side-cars wound down. Cancelling one occurrence of a
// series also records the exception so sync does not recreate it.
func (s *Service) Unbook(ctx context.Context, m *models.Meeting) error {
	if !m.TSUnbooked.IsZero() {
		return nil
	}

	if err := s.unbookBackend(ctx, m); err != nil {
		return err
	}
	if s.External != nil {
		if err := s.External.Unbook(ctx, m); err != nil {
			logging.Warn().Err(err).Int64("meeting", m.ID).
				Msg("guest-bridge unbook failed")
		}
	}
	if err := s.teardownSideCars(ctx, m); err != nil {
		return err
	}

	m.TSUnbooked = s.now().UTC()
	m.BackendActive = false
	if err := s.db.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("unbook meeting %d: %w", m.ID, err)
	}

	if m.IsRecurring() && m.RecurrenceID != "" {
		r, err := s.db.GetRecurringMeeting(ctx, m.RecurringMeetingID)
		if err != nil {
			return err
		}
		r.AddException(m.RecurrenceID)
		if err := s.db.UpdateRecurringMeeting(ctx, r); err != nil {
			return err
		}
	}

	logging.Info().Int64("meeting", m.ID).Int64("customer", m.CustomerID).
		Msg("meeting unbooked")
	return nil
}

// unbookBackend removes the backend space behind a meeting. A space
// already gone on the backend counts as removed.
func (s *Service) unbookBackend(ctx context.Context, m *models.Meeting) error {
	if m.ProviderRef2 == "" {
		return nil
	}
	c, err := s.db.GetCluster(ctx, m.ClusterID)
	if err != nil {
		return err
	}
	cl := s.clustered(c, m.CustomerID)
	if err := cl.DeleteSpace(ctx, m.ProviderRef2); err != nil && !transport.IsNotFound(err) {
		return fmt.Errorf("delete space %s: %w", m.ProviderRef2, err)
	}
	m.TSDeprovisioned = s.now().UTC()
	m.BackendActive = false
	return nil
}

// teardownSideCars deactivates dialout rows and closes open recordings
// so the pending start tasks drop themselves.
func (s *Service) teardownSideCars(ctx context.Context, m *models.Meeting) error {
	dialouts, err := s.db.ListMeetingDialouts(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, d := range dialouts {
		if !d.IsActive {
			continue
		}
		d.IsActive = false
		d.TSDeactivated = s.now().UTC()
		if err := s.db.UpdateMeetingDialout(ctx, d); err != nil {
			return err
		}
	}

	recordings, err := s.db.ListMeetingRecordings(ctx, m.ID)
	if err != nil {
		return err
	}
	for _, r := range recordings {
		if !r.IsActive {
			continue
		}
		r.IsActive = false
		if !r.TSActivated.IsZero() && r.TSDeactivated.IsZero() {
			r.TSDeactivated = s.now().UTC()
		}
		if err := s.db.UpdateMeetingRecording(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
