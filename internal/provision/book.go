// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/recurrence"
	"github.com/confatlas/confatlas/internal/transport"
)

// Book validates the request, persists the meeting and provisions the
// backend space for the customer's cluster. The returned meeting is
// activated with its initial schedule token.
func (s *Service) Book(ctx context.Context, req *models.BookingRequest) (*models.Meeting, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Recurring != "" {
		if err := recurrence.ValidateRule(req.Recurring); err != nil {
			return nil, fmt.Errorf("booking: %w", err)
		}
	}

	customer, c, err := s.lookup(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}

	m := meetingFromRequest(req, customer, c)
	if req.Recurring != "" && m.RecurrenceID == "" {
		m.RecurrenceID = models.FormatRecurrenceID(m.TSStart)
	}
	if err := s.db.CreateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("booking: persist meeting: %w", err)
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
		logging.Error().Err(err).Int64("meeting", m.ID).Msg("backend booking failed")
		return nil, err
	}

	if req.Confirm {
		m.CustomerConfirmed = s.now().UTC()
	}
	if err := s.db.UpdateMeeting(ctx, m); err != nil {
		return nil, fmt.Errorf("booking: store backend refs: %w", err)
	}

	if w := meetingWebinar(m); w != nil {
		side := &models.MeetingWebinar{
			MeetingID:    m.ID,
			URI:          w.URI,
			ModeratorPIN: w.ModeratorPIN,
			Group:        w.Group,
			EnableChat:   w.EnableChat,
			UserJIDs:     strings.Join(w.UserJIDs, ","),
		}
		if err := s.db.CreateMeetingWebinar(ctx, side); err != nil {
			return nil, fmt.Errorf("booking: webinar side-car: %w", err)
		}
	}

	if req.Recurring != "" {
		if err := s.createSeries(ctx, customer, m, req); err != nil {
			return nil, err
		}
	}

	if err := s.Activate(ctx, m); err != nil {
		return nil, err
	}

	if req.Recurring != "" {
		r, err := s.db.GetRecurringMeeting(ctx, m.RecurringMeetingID)
		if err != nil {
			return nil, err
		}
		if _, err := s.recur.Sync(ctx, r, nil); err != nil {
			return nil, err
		}
	}

	logging.Info().Int64("meeting", m.ID).Int64("customer", customer.ID).
		Str("family", string(c.Family)).Str("ref", m.ProviderRef2).
		Msg("meeting booked")
	return m, nil
}

// createSeries persists the RecurringMeeting row and binds the booked
// meeting as its first occurrence.
func (s *Service) createSeries(ctx context.Context, customer *models.Customer, m *models.Meeting, req *models.BookingRequest) error {
	r := &models.RecurringMeeting{
		CustomerID:     customer.ID,
		ProviderID:     m.ProviderID,
		Rule:           req.Recurring,
		Exceptions:     req.RecurringExceptions,
		Duration:       m.Duration(),
		UID:            uuid.NewString(),
		FirstMeetingID: m.ID,
	}
	if err := s.db.CreateRecurringMeeting(ctx, r); err != nil {
		return fmt.Errorf("booking: create series: %w", err)
	}
	m.RecurringMeetingID = r.ID
	m.RecurrenceUID = r.UID
	if err := s.db.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("booking: bind first occurrence: %w", err)
	}
	return nil
}

// bookCallBridge provisions a family-A space: an allocated call-id used
// as URI, layered call/call-leg profiles, and a second access method
// when a lobby is configured.
func (s *Service) bookCallBridge(ctx context.Context, cl *backends.Clustered, c *models.Cluster, customer *models.Customer, m *models.Meeting) error {
	settings, err := s.clusters.Settings(ctx, c, customer.ID)
	if err != nil {
		return err
	}
	num, err := s.allocateCallID(ctx, c, customer.ID)
	if err != nil {
		return err
	}

	space := &models.Space{
		Name:        m.Title,
		URI:         num,
		CallID:      num,
		Passcode:    m.Password,
		TenantID:    customer.TenantIDA,
		IsScheduled: true,
	}
	id, err := cl.AddSpace(ctx, space, true)
	if err != nil {
		return fmt.Errorf("add space: %w", err)
	}
	m.ProviderID = space.ProviderID
	m.ProviderRef = space.CallID
	m.ProviderRef2 = id

	provider, err := s.db.GetProvider(ctx, space.ProviderID)
	if err != nil {
		return err
	}
	adapter, err := cl.Adapter(provider)
	if err != nil {
		return err
	}
	cb, ok := adapter.(*backends.CallBridge)
	if !ok {
		return fmt.Errorf("provider %d is not a call bridge", provider.ID)
	}

	set := meetingSettings(m)
	lobby := m.HasLobby()

	// Guests of a lobby meeting wait for activation; the space-level
	// profile carries that plus the encryption/chat toggles.
	spaceProfile, err := cb.EnsureCallLegProfile(ctx, lobby, set.ForceEncryption, set.DisableChat)
	if err != nil {
		return fmt.Errorf("call leg profile: %w", err)
	}
	callProfile := ""
	if m.Layout != "" {
		if callProfile, err = cb.EnsureCallProfile(ctx, m.Layout); err != nil {
			return fmt.Errorf("call profile: %w", err)
		}
	}
	if err := cb.AttachProfiles(ctx, id, callProfile, spaceProfile); err != nil {
		return fmt.Errorf("attach profiles: %w", err)
	}

	switch {
	case lobby:
		// Dialling the host URI with the moderator passcode bypasses
		// the activation gate and opens the lobby.
		hostProfile, err := cb.EnsureCallLegProfile(ctx, false, set.ForceEncryption, set.DisableChat)
		if err != nil {
			return fmt.Errorf("host call leg profile: %w", err)
		}
		hostURI := space.URI + ".host"
		if _, err := cb.AddAccessMethod(ctx, id, hostURI, m.ModeratorPassword, hostProfile); err != nil {
			return fmt.Errorf("host access method: %w", err)
		}
		space.SecondaryURI = hostURI
	case settings.SetCallIDAsURI:
		if err := cl.UpdateSpace(ctx, id, backends.SpacePatch{SecondaryURI: &space.CallID}); err != nil {
			logging.Warn().Err(err).Str("space", id).Msg("secondary alias write failed")
		}
	}

	if created, err := adapter.GetSpace(ctx, id); err == nil {
		m.ProviderSecret = created.Secret
	}
	return nil
}

// bookConfServer provisions a family-B conference: PIN pair, service
// type, correlation tag, and slug/number aliases on every configured
// domain.
func (s *Service) bookConfServer(ctx context.Context, cl *backends.Clustered, c *models.Cluster, customer *models.Customer, m *models.Meeting) error {
	settings, err := s.clusters.Settings(ctx, c, customer.ID)
	if err != nil {
		return err
	}
	tenant, err := s.db.EnsureTenantIDB(ctx, customer.ID, uuid.NewString)
	if err != nil {
		return fmt.Errorf("tenant id: %w", err)
	}

	space := &models.Space{
		Name:        m.Title,
		ServiceType: "conference",
		TenantID:    tenant,
		Tag: models.ServiceTag{
			TenantID:   tenant,
			CustomerID: customer.ID,
			GUID:       uuid.NewString(),
			MeetingID:  m.ID,
		}.Encode(),
		IsScheduled: true,
	}
	if meetingWebinar(m) != nil {
		space.ServiceType = "lecture"
	}
	if m.HasLobby() {
		space.PIN = m.ModeratorPassword
		space.GuestPIN = m.Password
		space.AllowGuests = true
	} else {
		space.PIN = m.Password
	}
	if strings.Contains(m.Creator, "@") {
		space.OwnerEmail = m.Creator
	}

	id, err := cl.AddSpace(ctx, space, false)
	if transport.IsDuplicate(err) {
		// Conference names are unique per deployment; retry once with
		// the meeting id appended.
		space.Name = fmt.Sprintf("%s (%d)", m.Title, m.ID)
		id, err = cl.AddSpace(ctx, space, false)
	}
	if err != nil {
		return fmt.Errorf("add conference: %w", err)
	}
	m.ProviderID = space.ProviderID
	m.ProviderRef2 = id

	if settings.ThemeProfile != "" {
		if err := cl.UpdateSpace(ctx, id, backends.SpacePatch{Theme: &settings.ThemeProfile}); err != nil {
			logging.Warn().Err(err).Str("conference", id).Msg("theme attach failed")
		}
	}

	num, err := s.allocateCallID(ctx, c, customer.ID)
	if err != nil {
		return err
	}

	provider, err := s.db.GetProvider(ctx, space.ProviderID)
	if err != nil {
		return err
	}
	adapter, err := cl.Adapter(provider)
	if err != nil {
		return err
	}
	if err := s.addConferenceAliases(ctx, adapter, id, m, settings, num); err != nil {
		return err
	}
	return nil
}

// addConferenceAliases writes the dialable aliases: the bare call-id,
// then the title slug and the call-id on each configured domain. The
// numeric alias retries with incremented tails on collisions.
func (s *Service) addConferenceAliases(ctx context.Context, a backends.Adapter, spaceID string, m *models.Meeting, settings *models.ClusterSettings, num string) error {
	title := slug(m.Title)
	if title == "" {
		title = fmt.Sprintf("meeting.%d", m.ID)
	}

	finalNum := num
	_, err := backends.FindFreeNumber(ctx, map[string]string{"alias": num},
		func(ctx context.Context, fields map[string]string) (string, error) {
			id, err := a.AddAlias(ctx, spaceID, fields["alias"], "call-id")
			if err == nil {
				finalNum = fields["alias"]
			}
			return id, err
		})
	if err != nil {
		return fmt.Errorf("call-id alias: %w", err)
	}
	num = finalNum
	m.ProviderRef = num

	domains := settings.AdditionalDomainList()
	if settings.MainDomain != "" {
		domains = append([]string{settings.MainDomain}, domains...)
	}
	seen := map[string]bool{num: true}
	for _, d := range domains {
		for _, local := range []string{title, num} {
			alias := local + "@" + d
			if seen[alias] {
				continue
			}
			seen[alias] = true
			if _, err := a.AddAlias(ctx, spaceID, alias, "scheduled meeting"); err != nil {
				if transport.IsDuplicate(err) {
					logging.Warn().Str("alias", alias).Int64("meeting", m.ID).
						Msg("alias already taken, skipping")
					continue
				}
				return fmt.Errorf("alias %s: %w", alias, err)
			}
		}
	}
	return nil
}

// bookExternalOnly handles clusters whose backend cannot host bookings
// itself: the meeting lives entirely on the guest bridge.
func (s *Service) bookExternalOnly(ctx context.Context, c *models.Cluster, m *models.Meeting, req *models.BookingRequest) error {
	if !ShouldBookExternalClient(c.Family, req) {
		return fmt.Errorf("booking: cluster family %s cannot host internal-only bookings", c.Family)
	}
	if s.External == nil {
		return fmt.Errorf("booking: cluster family %s needs an external bridge, none configured", c.Family)
	}
	return s.External.Book(ctx, m, req)
}

// allocateCallID takes the next free number from the cluster's
// scheduled-room range, skipping numbers the mirror already knows.
func (s *Service) allocateCallID(ctx context.Context, c *models.Cluster, customerID int64) (string, error) {
	rng, err := s.clusters.ScheduledNumberRange(ctx, c, customerID)
	if err != nil {
		return "", fmt.Errorf("number range: %w", err)
	}
	members, err := s.clusters.Members(ctx, c.ID)
	if err != nil {
		return "", err
	}
	ids := make([]int64, 0, len(members))
	for _, p := range members {
		ids = append(ids, p.ID)
	}
	num, err := s.clusters.AllocateNumber(ctx, rng, ids)
	if err != nil {
		return "", fmt.Errorf("allocate call id: %w", err)
	}
	return num, nil
}
