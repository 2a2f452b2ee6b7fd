// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/stats"
)

// maxWebhookBody bounds a single CDR or event-sink post. The backends
// batch records but stay well under this.
const maxWebhookBody = 4 << 20

// eventSink takes conference-server event-sink JSON posts.
func (s *Server) eventSink(w http.ResponseWriter, r *http.Request) {
	s.sink(w, r, stats.TopicEvents)
}

// cdrSink takes call-bridge CDR XML posts.
func (s *Server) cdrSink(w http.ResponseWriter, r *http.Request) {
	s.sink(w, r, stats.TopicCDR)
}

// sink hands the raw body to the ingest pipeline. A non-2xx answer
// makes the backend retry, so only delivery failures report one;
// malformed payloads are the pipeline's problem.
func (s *Server) sink(w http.ResponseWriter, r *http.Request, topic string) {
	clusterID, err := strconv.ParseInt(chi.URLParam(r, "cluster"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cluster id")
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusServiceUnavailable, "ingest pipeline not running")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := s.pipeline.Feed(r.Context(), topic, clusterID, body); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Int64("cluster", clusterID).Str("topic", topic).
			Msg("webhook ingest failed")
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	w.WriteHeader(http.StatusOK)
}
