// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/models"
	"github.com/confatlas/confatlas/internal/transport"
)

type clusterResponse struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Family    string `json:"family"`
	CDRActive bool   `json:"cdr_active"`
}

type licenseResponse struct {
	Feature string    `json:"feature"`
	Status  string    `json:"status"`
	Expires time.Time `json:"expires,omitempty"`
}

type alarmResponse struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	Since time.Time `json:"since,omitempty"`
}

type statusResponse struct {
	Cluster  clusterResponse   `json:"cluster"`
	Node     string            `json:"node"`
	Version  string            `json:"version,omitempty"`
	Uptime   int64             `json:"uptime_seconds"`
	Calls    int               `json:"calls"`
	Legs     int               `json:"legs"`
	Licenses []licenseResponse `json:"licenses"`
	Alarms   []alarmResponse   `json:"alarms"`
}

func toClusterResponse(c *models.Cluster) clusterResponse {
	return clusterResponse{
		ID:        c.ID,
		Title:     c.Title,
		Family:    string(c.Family),
		CDRActive: c.CDRActive,
	}
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.db.ListClusters(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, toClusterResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// clusterFor parses the cluster id path segment and loads the row.
func (s *Server) clusterFor(w http.ResponseWriter, r *http.Request) *models.Cluster {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return nil
	}
	c, err := s.db.GetCluster(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return nil
	}
	if err != nil {
		fail(w, err)
		return nil
	}
	return c
}

// clusterStatus asks a reader node for its live view. Licenses and
// alarms are per-family capabilities; families without them report
// empty lists.
func (s *Server) clusterStatus(w http.ResponseWriter, r *http.Request) {
	c := s.clusterFor(w, r)
	if c == nil {
		return
	}
	ctx := r.Context()

	p, err := s.clusters.Reader(ctx, c.ID)
	if err != nil {
		fail(w, err)
		return
	}
	a, err := backends.New(p, s.deps)
	if err != nil {
		fail(w, err)
		return
	}

	st, err := a.Status(ctx)
	if err != nil {
		fail(w, err)
		return
	}
	resp := statusResponse{
		Cluster:  toClusterResponse(c),
		Node:     p.Hostname,
		Version:  st.Version,
		Uptime:   int64(st.Uptime.Seconds()),
		Calls:    st.CallCount,
		Legs:     st.LegCount,
		Licenses: []licenseResponse{},
		Alarms:   []alarmResponse{},
	}

	licenses, err := a.Licenses(ctx)
	if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		logging.Ctx(ctx).Warn().Err(err).Int64("cluster", c.ID).Msg("license read failed")
	}
	for _, l := range licenses {
		resp.Licenses = append(resp.Licenses, licenseResponse{
			Feature: l.Feature, Status: l.Status, Expires: l.Expires,
		})
	}

	alarms, err := a.Alarms(ctx)
	if err != nil && !errors.Is(err, transport.ErrNotImplemented) {
		logging.Ctx(ctx).Warn().Err(err).Int64("cluster", c.ID).Msg("alarm read failed")
	}
	for _, al := range alarms {
		resp.Alarms = append(resp.Alarms, alarmResponse{
			Type: al.Type, ID: al.ExternalID, Since: al.Since,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type cdrHookRequest struct {
	ReceiverURL string `json:"receiver_url"`
}

// registerCDRHook points the cluster's CDR / event-sink stream at the
// given receiver and records the hookup on the cluster row.
func (s *Server) registerCDRHook(w http.ResponseWriter, r *http.Request) {
	c := s.clusterFor(w, r)
	if c == nil {
		return
	}

	var req cdrHookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ReceiverURL == "" {
		writeError(w, http.StatusBadRequest, "receiver_url is required")
		return
	}

	ctx := r.Context()
	p, err := s.clusters.Writer(ctx, c.ID)
	if err != nil {
		fail(w, err)
		return
	}
	a, err := backends.New(p, s.deps)
	if err != nil {
		fail(w, err)
		return
	}
	if err := a.RegisterCDRReceiver(ctx, req.ReceiverURL); err != nil {
		fail(w, err)
		return
	}

	c.CDRActive = true
	if err := s.db.UpdateCluster(ctx, c); err != nil {
		fail(w, err)
		return
	}
	logging.Info().Int64("cluster", c.ID).Str("receiver", req.ReceiverURL).
		Msg("CDR receiver registered")
	writeJSON(w, http.StatusOK, toClusterResponse(c))
}
