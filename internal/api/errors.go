// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"errors"
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/transport"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps the transport and store error taxonomy onto status codes.
// Backend auth failures surface as 502: they mean broken provider
// credentials, not a caller problem.
func fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound), transport.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found")
	case transport.IsDuplicate(err):
		writeError(w, http.StatusConflict, err.Error())
	case transport.IsAuthentication(err):
		logging.Error().Err(err).Msg("backend authentication failed")
		writeError(w, http.StatusBadGateway, "backend authentication failed")
	case transport.IsTransient(err):
		logging.Warn().Err(err).Msg("backend unreachable")
		writeError(w, http.StatusGatewayTimeout, "backend unreachable")
	default:
		logging.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}
