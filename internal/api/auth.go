// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/models"
)

// maxKeyLen caps a single key candidate; anything longer cannot be a
// stored key.
const maxKeyLen = 40

type ctxKey int

const (
	ctxCustomer ctxKey = iota
	ctxCustomerKey
)

// authenticate resolves the caller's customer from an API key. The key
// arrives in X-API-Key or as a bearer token and may be an extended
// comma-separated list; the grouping candidates are tried in order.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-API-Key")
		if raw == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				raw = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if strings.TrimSpace(raw) == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}

		for _, cand := range models.IterAllKeys(raw) {
			if len(cand) > maxKeyLen {
				continue
			}
			customer, key, err := s.db.GetCustomerByAPIKey(r.Context(), cand)
			if errors.Is(err, database.ErrNotFound) {
				continue
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "key lookup failed")
				return
			}
			ctx := context.WithValue(r.Context(), ctxCustomer, customer)
			ctx = context.WithValue(ctx, ctxCustomerKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}

// requireFullKey rejects keys flagged limit_api, which may only touch
// their own bookings.
func (s *Server) requireFullKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if key := keyFrom(r.Context()); key == nil || key.LimitAPI {
			writeError(w, http.StatusForbidden, "API key not permitted for this operation")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func customerFrom(ctx context.Context) *models.Customer {
	c, _ := ctx.Value(ctxCustomer).(*models.Customer)
	return c
}

func keyFrom(ctx context.Context) *models.CustomerKey {
	k, _ := ctx.Value(ctxCustomerKey).(*models.CustomerKey)
	return k
}
