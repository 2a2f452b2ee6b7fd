// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package tasks runs the delayed background jobs the booking layer
// enqueues: recording and streaming starts, dial-outs, endpoint syncs
// and cleanup work. Tasks live in the database, so restarts pick up
// where the previous process stopped.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/models"
)

// WorkerName keys the runner's heartbeat row; readiness probes read it.
const WorkerName = "task-runner"

const (
	heartbeatEvery = 30 * time.Second
	claimBatch     = 20
)

// Handler executes one task kind. A nil return finishes the task; an
// error reschedules it until the retry budget runs out.
type Handler func(ctx context.Context, t *models.Task) error

// Runner polls the task table and dispatches due tasks to registered
// handlers. It implements suture.Service.
type Runner struct {
	db  *database.DB
	cfg config.TasksConfig

	mu       sync.RWMutex
	handlers map[string]Handler
	limiters map[string]*rate.Limiter

	now func() time.Time
}

// New returns a runner with the config's worker settings, filling in
// defaults for unset fields.
func New(db *database.DB, cfg config.TasksConfig) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Runner{
		db:       db,
		cfg:      cfg,
		handlers: make(map[string]Handler),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Register binds a handler to a task kind.
func (r *Runner) Register(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// RegisterLimited binds a handler whose dispatch rate is capped, used
// for dial-outs so a large meeting does not flood the backend.
func (r *Runner) RegisterLimited(kind string, perSecond float64, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
	if perSecond > 0 {
		r.limiters[kind] = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// Enqueue stores a task. A non-nil meeting pins the task to the
// meeting's current schedule token so later rebooks invalidate it.
func (r *Runner) Enqueue(ctx context.Context, kind string, payload any, meeting *models.Meeting, eta time.Time) (*models.Task, error) {
	t := &models.Task{Kind: kind, ETA: eta.UTC()}
	if meeting != nil {
		t.MeetingID = meeting.ID
		t.ScheduleID = meeting.ScheduleID
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("task %s: encode payload: %w", kind, err)
		}
		t.Payload = string(raw)
	}
	if err := r.db.EnqueueTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Serve polls for due tasks until the context ends. In-flight tasks
// drain before Serve returns.
func (r *Runner) Serve(ctx context.Context) error {
	logging.Info().Int("workers", r.cfg.Workers).
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("task runner starting")

	poll := time.NewTicker(r.cfg.PollInterval)
	defer poll.Stop()
	beat := time.NewTicker(heartbeatEvery)
	defer beat.Stop()

	sem := make(chan struct{}, r.cfg.Workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	r.heartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-beat.C:
			r.heartbeat(ctx)
		case <-poll.C:
			tasks, err := r.db.ClaimDueTasks(ctx, claimBatch)
			if err != nil {
				logging.Error().Err(err).Msg("task claim failed")
				continue
			}
			for _, t := range tasks {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				wg.Add(1)
				go func(t *models.Task) {
					defer wg.Done()
					defer func() { <-sem }()
					r.run(ctx, t)
				}(t)
			}
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context) {
	running, err := r.db.CountRunningTasks(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("task count failed")
		return
	}
	if err := r.db.Heartbeat(ctx, WorkerName, running); err != nil {
		logging.Warn().Err(err).Msg("worker heartbeat failed")
	}
}

func (r *Runner) run(ctx context.Context, t *models.Task) {
	r.mu.RLock()
	h := r.handlers[t.Kind]
	lim := r.limiters[t.Kind]
	r.mu.RUnlock()
	if h == nil {
		logging.Error().Str("kind", t.Kind).Int64("task", t.ID).Msg("no handler for task kind")
		_ = r.db.RetryTask(ctx, t.ID, "no handler registered", r.now().UTC(), 0)
		return
	}

	stale, err := r.staleSchedule(ctx, t)
	if err != nil {
		r.reschedule(ctx, t, err)
		return
	}
	if stale {
		logging.Debug().Int64("task", t.ID).Int64("meeting", t.MeetingID).
			Str("kind", t.Kind).Msg("task schedule token superseded, dropping")
		if err := r.db.FinishTask(ctx, t.ID); err != nil {
			logging.Warn().Err(err).Int64("task", t.ID).Msg("finish of stale task failed")
		}
		metrics.TasksProcessed.WithLabelValues(t.Kind, "stale").Inc()
		return
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			r.reschedule(ctx, t, err)
			return
		}
	}

	if err := h(ctx, t); err != nil {
		metrics.TasksProcessed.WithLabelValues(t.Kind, "error").Inc()
		r.reschedule(ctx, t, err)
		return
	}
	if err := r.db.FinishTask(ctx, t.ID); err != nil {
		logging.Warn().Err(err).Int64("task", t.ID).Msg("finish task failed")
	}
	metrics.TasksProcessed.WithLabelValues(t.Kind, "ok").Inc()
}

// staleSchedule reports whether the bound meeting has moved past the
// token the task was enqueued with. A vanished meeting counts as stale.
func (r *Runner) staleSchedule(ctx context.Context, t *models.Task) (bool, error) {
	if t.MeetingID == 0 || t.ScheduleID == "" {
		return false, nil
	}
	m, err := r.db.GetMeeting(ctx, t.MeetingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if m.TSUnbooked.IsZero() && !m.StaleSchedule(t.ScheduleID) {
		return false, nil
	}
	return true, nil
}

func (r *Runner) reschedule(ctx context.Context, t *models.Task, cause error) {
	backoff := r.cfg.RetryDelay * time.Duration(t.Retries+1)
	if max := 5 * r.cfg.RetryDelay; backoff > max {
		backoff = max
	}
	logging.Warn().Err(cause).Str("kind", t.Kind).Int64("task", t.ID).
		Int("retries", t.Retries).Dur("backoff", backoff).Msg("task attempt failed")
	err := r.db.RetryTask(ctx, t.ID, cause.Error(), r.now().UTC().Add(backoff), r.cfg.MaxRetries)
	if err != nil {
		logging.Error().Err(err).Int64("task", t.ID).Msg("task reschedule failed")
	}
}

// DecodePayload unmarshals a task's JSON argument blob.
func DecodePayload[T any](t *models.Task) (T, error) {
	var v T
	if t.Payload == "" {
		return v, nil
	}
	if err := json.Unmarshal([]byte(t.Payload), &v); err != nil {
		return v, fmt.Errorf("task %d: decode payload: %w", t.ID, err)
	}
	return v, nil
}
