// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package backends

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/transport"
)

// maxFreeNumberAttempts bounds the duplicate-retry loop.
const maxFreeNumberAttempts = 20

// FindFreeNumber performs a write that allocates dialable identifiers.
// On a DuplicateError the numeric tail of each colliding key field is
// incremented and the write retried, up to 20 attempts; then the last
// duplicate error is returned.
func FindFreeNumber(ctx context.Context, fields map[string]string, attempt func(ctx context.Context, fields map[string]string) (string, error)) (string, error) {
	current := make(map[string]string, len(fields))
	for k, v := range fields {
		current[k] = v
	}

	var lastErr error
	for i := 0; i < maxFreeNumberAttempts; i++ {
		id, err := attempt(ctx, current)
		if err == nil {
			return id, nil
		}
		var dup *transport.DuplicateError
		if !errors.As(err, &dup) {
			return "", err
		}
		lastErr = err

		bumped := false
		for _, field := range collidingFields(dup, current) {
			next := incrementNumericTail(current[field])
			if next != current[field] {
				current[field] = next
				bumped = true
			}
		}
		if !bumped {
			break
		}
		logging.Debug().Int("attempt", i+1).Msg("identifier taken, retrying with incremented number")
	}
	return "", lastErr
}

// collidingFields picks which fields to bump: the ones the backend
// named, falling back to every key field.
func collidingFields(dup *transport.DuplicateError, current map[string]string) []string {
	var out []string
	for _, f := range dup.Fields {
		if _, ok := current[f]; ok {
			out = append(out, f)
		}
	}
	if len(out) > 0 {
		return out
	}
	for f := range current {
		out = append(out, f)
	}
	return out
}

// incrementNumericTail bumps the last run of digits in s, preserving
// leading zeros. A value with no digits gets a "2" appended.
func incrementNumericTail(s string) string {
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] >= '0' && s[i] <= '9' {
			end = i + 1
			break
		}
	}
	if end < 0 {
		return s + "2"
	}
	start := end
	for start > 0 && s[start-1] >= '0' && s[start-1] <= '9' {
		start--
	}
	n, err := strconv.ParseInt(s[start:end], 10, 64)
	if err != nil {
		return s + "2"
	}
	width := end - start
	return s[:start] + fmt.Sprintf("%0*d", width, n+1) + s[end:]
}
