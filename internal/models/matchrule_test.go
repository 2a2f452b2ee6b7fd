// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchRuleBothMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		rule      MatchRule
		candidate string
		want      bool
	}{
		{
			name:      "prefix only set matches start",
			rule:      MatchRule{Mode: MatchModeBoth, Prefix: "prefix"},
			candidate: "prefix.room@example.org",
			want:      true,
		},
		{
			name:      "prefix only set rejects others",
			rule:      MatchRule{Mode: MatchModeBoth, Prefix: "prefix"},
			candidate: "other.room@example.org",
			want:      false,
		},
		{
			name:      "both set require both",
			rule:      MatchRule{Mode: MatchModeBoth, Prefix: "prefix", Suffix: "suffix"},
			candidate: "prefix.room@example.org.suffix",
			want:      true,
		},
		{
			name:      "both set missing suffix",
			rule:      MatchRule{Mode: MatchModeBoth, Prefix: "prefix", Suffix: "suffix"},
			candidate: "prefix.room@example.org",
			want:      false,
		},
		{
			name:      "case insensitive",
			rule:      MatchRule{Mode: MatchModeBoth, Prefix: "PREFIX"},
			candidate: "Prefix.Room@Example.Org",
			want:      true,
		},
		{
			name:      "no predicates never match",
			rule:      MatchRule{Mode: MatchModeBoth},
			candidate: "anything",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Matches(tt.candidate))
		})
	}
}

func TestMatchRuleEitherMode(t *testing.T) {
	t.Parallel()

	rule := MatchRule{Mode: MatchModeEither, Prefix: "vmr.", Suffix: "@corp.example"}

	assert.True(t, rule.Matches("vmr.team@other.example"))
	assert.True(t, rule.Matches("team@corp.example"))
	assert.False(t, rule.Matches("team@other.example"))
}

func TestMatchRuleRegexMode(t *testing.T) {
	t.Parallel()

	rule := MatchRule{Mode: MatchModeRegex, Regex: `\d{4}@meet\.example`}

	// anchored at start
	assert.True(t, rule.Matches("1234@meet.example"))
	assert.False(t, rule.Matches("x1234@meet.example"))
	// case-insensitive
	caseRule := MatchRule{Mode: MatchModeRegex, Regex: `TEAM-.*`}
	assert.True(t, caseRule.Matches("team-alpha@example.org"))
}

func TestMatchRuleInvalidRegexNeverMatches(t *testing.T) {
	t.Parallel()

	rule := MatchRule{Mode: MatchModeRegex, Regex: "("}
	assert.False(t, rule.Matches("anything"))
}

func TestMatchRuleValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, (&MatchRule{Mode: MatchModeBoth, Prefix: "p"}).Validate())
	assert.NoError(t, (&MatchRule{Mode: MatchModeRegex, Regex: `\d+`}).Validate())
	assert.Error(t, (&MatchRule{Mode: MatchModeRegex, Regex: "("}).Validate())
	assert.Error(t, (&MatchRule{Mode: MatchModeRegex}).Validate())
	assert.Error(t, (&MatchRule{Mode: "weird"}).Validate())
}

func TestMatchRuleTenantOnly(t *testing.T) {
	t.Parallel()

	assert.True(t, (&MatchRule{TenantID: "1234"}).TenantOnly())
	assert.False(t, (&MatchRule{TenantID: "1234", CustomerID: 7}).TenantOnly())
	assert.False(t, (&MatchRule{CustomerID: 7}).TenantOnly())
}
