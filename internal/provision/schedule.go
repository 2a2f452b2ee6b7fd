// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/tasks"
	"github.com/confatlas/confatlas/internal/transport"
)

// Task kinds the provisioner enqueues.
const (
	TaskRecordStart      = "record-start"
	TaskRecordStop       = "record-stop"
	TaskStreamStart      = "stream-start"
	TaskStreamStop       = "stream-stop"
	TaskDialout          = "dialout"
	TaskDialoutCheck     = "dialout-check"
	TaskAddCreatorMember = "add-creator-member"
	TaskEndpointSync     = "endpoint-sync"
)

const (
	// dialoutCheckDelay is how long after a dial attempt the liveness
	// re-check fires; dialoutRedialDelay how long after a dead leg the
	// next attempt goes out.
	dialoutCheckDelay  = 40 * time.Second
	dialoutRedialDelay = 5 * time.Minute

	creatorMemberLead = 10 * time.Minute

	maxDialoutRedials = 3
)

type dialoutArgs struct {
	DialoutID int64 `json:"dialout_id"`
}

type recordingArgs struct {
	RecordingID int64 `json:"recording_id"`
}

type endpointArgs struct {
	Endpoint string `json:"endpoint"`
}

// Activate issues a fresh schedule token, flips the meeting active and
// enqueues all background tasks around its start and stop. Tasks from
// earlier activations carry the previous token and drop themselves.
func (s *Service) Activate(ctx context.Context, m *models.Meeting) error {
	token, err := s.db.BumpScheduleID(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("activate meeting %d: %w", m.ID, err)
	}
	m.ScheduleID = token
	m.BackendActive = true
	if m.TSProvisioned.IsZero() {
		m.TSProvisioned = s.now().UTC()
	}
	if err := s.db.UpdateMeeting(ctx, m); err != nil {
		return fmt.Errorf("activate meeting %d: %w", m.ID, err)
	}
	return s.scheduleTasks(ctx, m)
}

func (s *Service) scheduleTasks(ctx context.Context, m *models.Meeting) error {
	if rec := meetingRecording(m); rec != nil && rec.Record {
		side := &models.MeetingRecording{
			MeetingID:   m.ID,
			IsLive:      rec.IsLive,
			IsPublic:    rec.IsPublic,
			Name:        rec.Name,
			CallbackURL: rec.Callback,
			ScheduleID:  m.ScheduleID,
			IsActive:    true,
		}
		if err := s.db.CreateMeetingRecording(ctx, side); err != nil {
			return err
		}
		args := recordingArgs{RecordingID: side.ID}
		if _, err := s.runner.Enqueue(ctx, TaskRecordStart, args, m, m.TSStart); err != nil {
			return err
		}
		if _, err := s.runner.Enqueue(ctx, TaskRecordStop, args, m, m.TSStop); err != nil {
			return err
		}
		if rec.IsLive {
			if _, err := s.runner.Enqueue(ctx, TaskStreamStart, args, m, m.TSStart); err != nil {
				return err
			}
			if _, err := s.runner.Enqueue(ctx, TaskStreamStop, args, m, m.TSStop); err != nil {
				return err
			}
		}
	}

	for _, entry := range meetingRoomInfo(m) {
		if entry.Dialout && entry.Dialstring != "" {
			side := &models.MeetingDialout{
				MeetingID:  m.ID,
				Dialstring: entry.Dialstring,
				Title:      entry.Title,
				ScheduleID: m.ScheduleID,
				IsActive:   true,
			}
			if err := s.db.CreateMeetingDialout(ctx, side); err != nil {
				return err
			}
			if _, err := s.runner.Enqueue(ctx, TaskDialout, dialoutArgs{DialoutID: side.ID}, m, m.TSStart); err != nil {
				return err
			}
		}
		if entry.Endpoint != "" {
			args := endpointArgs{Endpoint: entry.Endpoint}
			if _, err := s.runner.Enqueue(ctx, TaskEndpointSync, args, m, m.TSStart); err != nil {
				return err
			}
			if _, err := s.runner.Enqueue(ctx, TaskEndpointSync, args, m, m.TSStop); err != nil {
				return err
			}
		}
	}

	c, err := s.db.GetCluster(ctx, m.ClusterID)
	if err != nil {
		return err
	}
	if c.Family == models.FamilyCallBridge && m.Creator != "" {
		if _, err := s.runner.Enqueue(ctx, TaskAddCreatorMember, nil, m, m.TSStart.Add(-creatorMemberLead)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterHandlers binds the provisioner's task kinds on the runner.
// Dial-outs are rate limited so a large booking cannot flood a backend.
func (s *Service) RegisterHandlers(r *tasks.Runner, dialoutPerSecond float64) {
	r.RegisterLimited(TaskDialout, dialoutPerSecond, s.runDialout)
	r.Register(TaskDialoutCheck, s.runDialoutCheck)
	r.Register(TaskRecordStart, s.runRecordingStart)
	r.Register(TaskRecordStop, s.runRecordingStop)
	r.Register(TaskStreamStart, s.runRecordingStart)
	r.Register(TaskStreamStop, s.runRecordingStop)
	r.Register(TaskAddCreatorMember, s.runAddCreatorMember)
	r.Register(TaskEndpointSync, s.runEndpointSync)
}

// meetingAdapter resolves the adapter of the node a meeting's space
// lives on.
func (s *Service) meetingAdapter(ctx context.Context, m *models.Meeting) (backends.Adapter, *backends.Clustered, error) {
	c, err := s.db.GetCluster(ctx, m.ClusterID)
	if err != nil {
		return nil, nil, err
	}
	cl := s.clustered(c, m.CustomerID)
	if m.ProviderID != 0 {
		p, err := s.db.GetProvider(ctx, m.ProviderID)
		if err != nil {
			return nil, nil, err
		}
		a, err := cl.Adapter(p)
		return a, cl, err
	}
	a, err := cl.Pick(ctx)
	return a, cl, err
}

func (s *Service) runDialout(ctx context.Context, t *models.Task) error {
	args, err := tasks.DecodePayload[dialoutArgs](t)
	if err != nil {
		return err
	}
	d, m, err := s.dialoutRow(ctx, t.MeetingID, args.DialoutID)
	if err != nil {
		return err
	}
	if !d.IsActive {
		return nil
	}
	a, _, err := s.meetingAdapter(ctx, m)
	if err != nil {
		return err
	}

	legID, err := a.Dial(ctx, backends.DialRequest{
		SpaceExternalID: m.ProviderRef2,
		Local:           m.ProviderRef,
		Remote:          d.Dialstring,
		RemoteName:      d.Title,
		Role:            "guest",
	})
	if err != nil {
		return fmt.Errorf("dialout %d: %w", d.ID, err)
	}
	d.LegID = legID
	d.TSActivated = s.now().UTC()
	if err := s.db.UpdateMeetingDialout(ctx, d); err != nil {
		return err
	}
	_, err = s.runner.Enqueue(ctx, TaskDialoutCheck, dialoutArgs{DialoutID: d.ID}, m,
		s.now().Add(dialoutCheckDelay))
	return err
}

// runDialoutCheck verifies the dialled leg is still up and redials once
// per retry budget when it is not.
func (s *Service) runDialoutCheck(ctx context.Context, t *models.Task) error {
	args, err := tasks.DecodePayload[dialoutArgs](t)
	if err != nil {
		return err
	}
	d, m, err := s.dialoutRow(ctx, t.MeetingID, args.DialoutID)
	if err != nil {
		return err
	}
	if !d.IsActive || d.LegID == "" {
		return nil
	}
	a, _, err := s.meetingAdapter(ctx, m)
	if err != nil {
		return err
	}

	leg, err := a.CallLeg(ctx, d.LegID)
	alive := err == nil && leg.Active()
	if alive {
		return nil
	}
	if err != nil && !transport.IsNotFound(err) {
		return err
	}
	if d.RetryCount >= maxDialoutRedials {
		logging.Warn().Int64("dialout", d.ID).Int64("meeting", m.ID).
			Msg("dialout gave up after retries")
		return nil
	}
	d.RetryCount++
	d.LegID = ""
	if err := s.db.UpdateMeetingDialout(ctx, d); err != nil {
		return err
	}
	_, err = s.runner.Enqueue(ctx, TaskDialout, dialoutArgs{DialoutID: d.ID}, m,
		s.now().Add(dialoutRedialDelay))
	return err
}

func (s *Service) dialoutRow(ctx context.Context, meetingID, dialoutID int64) (*models.MeetingDialout, *models.Meeting, error) {
	m, err := s.db.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.ListMeetingDialouts(ctx, meetingID)
	if err != nil {
		return nil, nil, err
	}
	for _, d := range rows {
		if d.ID == dialoutID {
			return d, m, nil
		}
	}
	return nil, nil, fmt.Errorf("dialout %d not found on meeting %d", dialoutID, meetingID)
}

// runRecordingStart marks the recording job live. The recorder itself
// picks jobs up through its own backend integration; the control plane
// tracks the lifecycle and the retry budget.
func (s *Service) runRecordingStart(ctx context.Context, t *models.Task) error {
	rec, err := s.recordingRow(ctx, t)
	if err != nil || rec == nil {
		return err
	}
	if !rec.TSActivated.IsZero() {
		return nil
	}
	rec.RecordingID = uuid.NewString()
	rec.TSActivated = s.now().UTC()
	rec.IsActive = true
	logging.Info().Int64("meeting", rec.MeetingID).Str("recording", rec.RecordingID).
		Bool("live", rec.IsLive).Msg("recording job started")
	return s.db.UpdateMeetingRecording(ctx, rec)
}

func (s *Service) runRecordingStop(ctx context.Context, t *models.Task) error {
	rec, err := s.recordingRow(ctx, t)
	if err != nil || rec == nil {
		return err
	}
	if rec.TSDeactivated.IsZero() {
		rec.TSDeactivated = s.now().UTC()
	}
	rec.IsActive = false
	return s.db.UpdateMeetingRecording(ctx, rec)
}

func (s *Service) recordingRow(ctx context.Context, t *models.Task) (*models.MeetingRecording, error) {
	args, err := tasks.DecodePayload[recordingArgs](t)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.ListMeetingRecordings(ctx, t.MeetingID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ID == args.RecordingID {
			return r, nil
		}
	}
	logging.Warn().Int64("meeting", t.MeetingID).Int64("recording", args.RecordingID).
		Msg("recording row vanished")
	return nil, nil
}

// runAddCreatorMember adds the booking creator as a space member
// shortly before start, as moderator when a lobby is configured.
func (s *Service) runAddCreatorMember(ctx context.Context, t *models.Task) error {
	m, err := s.db.GetMeeting(ctx, t.MeetingID)
	if err != nil {
		return err
	}
	if m.ProviderRef2 == "" || m.Creator == "" {
		return nil
	}
	a, _, err := s.meetingAdapter(ctx, m)
	if err != nil {
		return err
	}
	_, err = a.AddMember(ctx, m.ProviderRef2, backends.Member{
		Email:     m.Creator,
		Moderator: m.HasLobby(),
	})
	if transport.IsDuplicate(err) {
		return nil
	}
	return err
}

func (s *Service) runEndpointSync(ctx context.Context, t *models.Task) error {
	args, err := tasks.DecodePayload[endpointArgs](t)
	if err != nil {
		return err
	}
	m, err := s.db.GetMeeting(ctx, t.MeetingID)
	if err != nil {
		return err
	}
	if s.Endpoints == nil {
		logging.Debug().Str("endpoint", args.Endpoint).Int64("meeting", m.ID).
			Msg("no endpoint integration configured")
		return nil
	}
	return s.Endpoints(ctx, m, args.Endpoint)
}
