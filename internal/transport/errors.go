// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package transport

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotImplemented marks an adapter capability the backend family does
// not support.
var ErrNotImplemented = errors.New("capability not implemented for this backend family")

// AuthenticationError reports rejected credentials or an expired
// session. The transport re-logs-in once before surfacing it.
type AuthenticationError struct {
	URL    string
	Status int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (status %d) for %s", e.Status, e.URL)
}

// DuplicateError reports a write rejected because an identifier already
// exists. Fields lists the colliding keys when the backend names them.
type DuplicateError struct {
	URL    string
	Fields []string
	Body   string
}

func (e *DuplicateError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("duplicate value for %s", strings.Join(e.Fields, ", "))
	}
	return "duplicate value: " + truncate(e.Body, 200)
}

// NotFoundError reports a missing target object.
type NotFoundError struct {
	URL  string
	Body string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.URL
}

// ResponseConnectionError reports DNS/TCP/TLS failures and 503 responses
// that persisted through the retry budget.
type ResponseConnectionError struct {
	URL string
	Err error
}

func (e *ResponseConnectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connection error for %s: %v", e.URL, e.Err)
	}
	return "connection error for " + e.URL
}

func (e *ResponseConnectionError) Unwrap() error { return e.Err }

// ResponseTimeoutError reports a connect or read timeout.
type ResponseTimeoutError struct {
	URL string
	Err error
}

func (e *ResponseTimeoutError) Error() string {
	return fmt.Sprintf("timeout for %s: %v", e.URL, e.Err)
}

func (e *ResponseTimeoutError) Unwrap() error { return e.Err }

// MessageResponseError reports a structured 400 body of
// {field: [messages]}, surfaced as field-level validation.
type MessageResponseError struct {
	URL    string
	Fields map[string][]string
}

func (e *MessageResponseError) Error() string {
	if len(e.Fields) == 0 {
		return "validation error for " + e.URL
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation error: " + strings.Join(parts, ", ")
}

// ResponseError is the catch-all for unexpected backend responses.
type ResponseError struct {
	URL    string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("backend error %d for %s: %s", e.Status, e.URL, truncate(e.Body, 200))
}

// InvalidKeyError reports a failed customer key or extended-key
// validation; callers map it to 401/403.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return "invalid customer key"
}

// IsTransient reports whether the error is a connection or timeout
// failure worth retrying.
func IsTransient(err error) bool {
	var connErr *ResponseConnectionError
	var timeoutErr *ResponseTimeoutError
	return errors.As(err, &connErr) || errors.As(err, &timeoutErr)
}

// IsAuthentication reports whether the error is an authentication
// failure.
func IsAuthentication(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsNotFound reports whether the error is a missing-target failure.
// Deletes and hang-ups treat it as success.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// IsDuplicate reports whether the error is an identifier collision.
func IsDuplicate(err error) bool {
	var dupErr *DuplicateError
	return errors.As(err, &dupErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
