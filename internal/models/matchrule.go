// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchMode selects how a MatchRule classifies a candidate string.
type MatchMode string

const (
	// MatchModeBoth requires every set predicate (prefix and suffix)
	// to match.
	MatchModeBoth MatchMode = "both"

	// MatchModeEither requires at least one set predicate to match.
	MatchModeEither MatchMode = "either"

	// MatchModeRegex matches the anchored, case-insensitive regex.
	MatchModeRegex MatchMode = "regex"
)

// Valid reports whether m names a known mode.
func (m MatchMode) Valid() bool {
	return m == MatchModeBoth || m == MatchModeEither || m == MatchModeRegex
}

// MatchRule classifies call artefacts (aliases, URIs, conference names)
// to a customer within one cluster.
//
// A synthetic rule produced by tenant-id resolution carries TenantID and
// possibly CustomerID == 0 when the tenant is unknown in the cluster;
// TenantOnly distinguishes that case from a real rule hit.
type MatchRule struct {
	ID         int64
	ClusterID  int64
	CustomerID int64

	Prefix string
	Suffix string
	Regex  string
	Mode   MatchMode

	// Priority orders rule evaluation, lower first. Ties break on ID.
	Priority int

	RoomCount            int
	RequireAuthorization bool

	// TenantID is set on synthetic rules resolved from an explicit
	// backend tenant id.
	TenantID string
}

// TenantOnly reports whether the rule carries a tenant id without a
// resolved customer: matched, but the tenant is unknown in this cluster.
func (r *MatchRule) TenantOnly() bool {
	return r.TenantID != "" && r.CustomerID == 0
}

// Validate rejects rules whose regex does not compile or whose mode is
// unknown. Runs at save time; legacy rows with bad regexes are treated
// as non-matching instead.
func (r *MatchRule) Validate() error {
	if !r.Mode.Valid() {
		return fmt.Errorf("match rule: unknown mode %q", r.Mode)
	}
	if r.Mode == MatchModeRegex {
		if r.Regex == "" {
			return fmt.Errorf("match rule: regex mode requires a pattern")
		}
		if _, err := compileRuleRegex(r.Regex); err != nil {
			return fmt.Errorf("match rule: invalid regex %q: %w", r.Regex, err)
		}
	}
	return nil
}

// Matches reports whether the lowercased candidate satisfies the rule.
func (r *MatchRule) Matches(candidate string) bool {
	candidate = strings.ToLower(candidate)
	if candidate == "" {
		return false
	}

	switch r.Mode {
	case MatchModeRegex:
		re, err := compileRuleRegex(r.Regex)
		if err != nil {
			// legacy bad pattern, treated as non-matching
			return false
		}
		return re.MatchString(candidate)

	case MatchModeBoth:
		if r.Prefix == "" && r.Suffix == "" {
			return false
		}
		if r.Prefix != "" && !strings.HasPrefix(candidate, strings.ToLower(r.Prefix)) {
			return false
		}
		if r.Suffix != "" && !strings.HasSuffix(candidate, strings.ToLower(r.Suffix)) {
			return false
		}
		return true

	case MatchModeEither:
		if r.Prefix != "" && strings.HasPrefix(candidate, strings.ToLower(r.Prefix)) {
			return true
		}
		if r.Suffix != "" && strings.HasSuffix(candidate, strings.ToLower(r.Suffix)) {
			return true
		}
		return false
	}
	return false
}

// compileRuleRegex anchors the pattern at the start and makes it
// case-insensitive, mirroring a "match" rather than "search" semantic.
func compileRuleRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)^(?:" + pattern + ")")
}
