// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"crypto/rand"
	"strings"
	"time"
)

// Customer is a logical tenant of the control plane. Backend-side tenant
// partitions map 1:1 to customers through the per-family tenant ids.
type Customer struct {
	ID    int64
	Title string

	// TenantIDA is the call-bridge family tenant id.
	TenantIDA string
	// TenantIDB is the conference-server family tenant id. Assigned
	// lazily under a row lock the first time it is needed and never
	// changed afterwards.
	TenantIDB string

	// ClusterID is the customer's preferred cluster.
	ClusterID int64

	EnableCore       bool
	EnableEPM        bool
	EnableStreaming  bool
	EnableRecording  bool
	UsernamePrefix   string
	OrganizationUnit string

	// RemoveExpiredRooms is how long after ts_stop a scheduled room
	// may linger before the expiry sweep deletes it.
	RemoveExpiredRooms time.Duration

	// SharedKey grants API access; a customer may carry several
	// comma-separated keys.
	SharedKey string

	CreatedAt time.Time
}

// TenantID returns the tenant id for the given backend family.
func (c *Customer) TenantID(family Family) string {
	switch family {
	case FamilyCallBridge:
		return c.TenantIDA
	case FamilyConfServer:
		return c.TenantIDB
	default:
		return ""
	}
}

// CustomerKey is one named API key for a customer, optionally limited to
// a subset of operations.
type CustomerKey struct {
	ID         int64
	CustomerID int64
	Key        string
	Title      string
	Active     bool
	LimitAPI   bool
	CreatedAt  time.Time
}

// IterAllKeys expands a comma-separated key list into the candidate
// combinations used for extended-key validation: groupings over the last
// three keys first, then the singletons.
//
//	IterAllKeys("a,b,c,d") = ["b,c,d", "b,c", "c,d", "b", "c", "d"]
func IterAllKeys(keys string) []string {
	parts := make([]string, 0, 4)
	for _, p := range strings.Split(keys, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}

	n := len(parts)
	if n == 0 {
		return nil
	}

	var result []string
	// groupings, longest first, then shorter windows left to right
	for size := n; size >= 2; size-- {
		for start := 0; start+size <= n; start++ {
			result = append(result, strings.Join(parts[start:start+size], ","))
		}
	}
	result = append(result, parts...)
	return result
}

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewSecretKey returns n random characters from [A-Za-z0-9].
func NewSecretKey(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("models: crypto/rand failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(buf)
}
