// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/models"
)

// meetingResponse is the external view of a booking. The key is the
// only handle callers ever get; row ids stay internal.
type meetingResponse struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Creator string `json:"creator,omitempty"`
	Type    string `json:"meeting_type,omitempty"`

	TSStart  time.Time `json:"ts_start"`
	TSStop   time.Time `json:"ts_stop"`
	Timezone string    `json:"timezone,omitempty"`

	CallID            string `json:"call_id,omitempty"`
	Password          string `json:"password,omitempty"`
	ModeratorPassword string `json:"moderator_password,omitempty"`
	IsPrivate         bool   `json:"is_private"`

	RecurrenceID  string    `json:"recurrence_id,omitempty"`
	BackendActive bool      `json:"backend_active"`
	Cancelled     bool      `json:"cancelled"`
	CreatedAt     time.Time `json:"created_at"`
}

func toMeetingResponse(m *models.Meeting) *meetingResponse {
	return &meetingResponse{
		Key:               m.IDKey(),
		Title:             m.Title,
		Creator:           m.Creator,
		Type:              m.Type,
		TSStart:           m.TSStart,
		TSStop:            m.TSStop,
		Timezone:          m.Timezone,
		CallID:            m.ProviderRef,
		Password:          m.Password,
		ModeratorPassword: m.ModeratorPassword,
		IsPrivate:         m.IsPrivate,
		RecurrenceID:      m.RecurrenceID,
		BackendActive:     m.BackendActive,
		Cancelled:         !m.TSUnbooked.IsZero(),
		CreatedAt:         m.CreatedAt,
	}
}

func (s *Server) createMeeting(w http.ResponseWriter, r *http.Request) {
	customer := customerFrom(r.Context())

	var req models.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CustomerID = customer.ID
	req.CreatorIP = r.RemoteAddr
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.prov.Book(r.Context(), &req)
	if err != nil {
		metrics.Bookings.WithLabelValues("book", "error").Inc()
		fail(w, err)
		return
	}
	metrics.Bookings.WithLabelValues("book", "ok").Inc()
	writeJSON(w, http.StatusCreated, toMeetingResponse(m))
}

// meetingFor loads the addressed booking and enforces ownership. A
// foreign meeting reads the same as a missing one.
func (s *Server) meetingFor(w http.ResponseWriter, r *http.Request) *models.Meeting {
	key := chi.URLParam(r, "key")
	m, err := s.db.GetMeetingByKey(r.Context(), key)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	if err != nil {
		fail(w, err)
		return nil
	}
	if m.CustomerID != customerFrom(r.Context()).ID {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	return m
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	m := s.meetingFor(w, r)
	if m == nil {
		return
	}
	writeJSON(w, http.StatusOK, toMeetingResponse(m))
}

func (s *Server) updateMeeting(w http.ResponseWriter, r *http.Request) {
	old := s.meetingFor(w, r)
	if old == nil {
		return
	}

	var req models.BookingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.CustomerID = old.CustomerID
	req.CreatorIP = r.RemoteAddr
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.prov.Rebook(r.Context(), old, &req)
	if err != nil {
		metrics.Bookings.WithLabelValues("rebook", "error").Inc()
		fail(w, err)
		return
	}
	metrics.Bookings.WithLabelValues("rebook", "ok").Inc()
	writeJSON(w, http.StatusOK, toMeetingResponse(m))
}

func (s *Server) deleteMeeting(w http.ResponseWriter, r *http.Request) {
	m := s.meetingFor(w, r)
	if m == nil {
		return
	}
	if err := s.prov.Unbook(r.Context(), m); err != nil {
		metrics.Bookings.WithLabelValues("unbook", "error").Inc()
		fail(w, err)
		return
	}
	metrics.Bookings.WithLabelValues("unbook", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}
