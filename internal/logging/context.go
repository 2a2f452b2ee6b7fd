// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	loggerKey    contextKey = "logger"
)

// NewRequestID generates an identifier for correlating the log lines of
// one HTTP request.
func NewRequestID() string {
	return uuid.New().String()[:8]
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the stored request ID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithLogger stores a pre-configured logger in the context, e.g.
// one carrying the authenticated customer.
//
//nolint:gocritic // zerolog.Logger is passed by value
func ContextWithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Ctx returns the context's logger with the request ID attached, falling
// back to the global logger. Handlers log through this so every line of
// a request shares one request_id.
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := Logger()
	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		logger = l
	}
	if id := RequestIDFromContext(ctx); id != "" {
		logger = logger.With().Str("request_id", id).Logger()
	}
	return &logger
}
