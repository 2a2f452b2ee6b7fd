// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestNewRequestID(t *testing.T) {
	t.Parallel()

	a, b := NewRequestID(), NewRequestID()
	if len(a) != 8 {
		t.Errorf("request ID length = %d, want 8", len(a))
	}
	if a == b {
		t.Error("request IDs should be unique")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("empty context returned %q", got)
	}

	ctx = ContextWithRequestID(ctx, "abc12345")
	if got := RequestIDFromContext(ctx); got != "abc12345" {
		t.Errorf("got %q, want abc12345", got)
	}
}

func TestCtxAttachesRequestID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	ctx = ContextWithRequestID(ctx, "req-0001")

	Ctx(ctx).Info().Msg("handled")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-0001"`) {
		t.Errorf("request_id missing: %s", out)
	}
	if !strings.Contains(out, "handled") {
		t.Errorf("message missing: %s", out)
	}
}

func TestCtxFallsBackToGlobal(t *testing.T) {
	resetLogger(t)
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})

	Ctx(context.Background()).Warn().Msg("no scoped logger")

	if !strings.Contains(buf.String(), "no scoped logger") {
		t.Errorf("global fallback missing: %s", buf.String())
	}
}
