// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package models

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIterAllKeys(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "three keys groupings then singletons",
			in:   "k1,k2,k3",
			want: []string{"k1,k2,k3", "k1,k2", "k2,k3", "k1", "k2", "k3"},
		},
		{
			name: "four keys keeps last-3 window",
			in:   "a,b,c,d",
			want: []string{"b,c,d", "b,c", "c,d", "b", "c", "d"},
		},
		{
			name: "two keys",
			in:   "x,y",
			want: []string{"x,y", "x", "y"},
		},
		{
			name: "single key",
			in:   "solo",
			want: []string{"solo"},
		},
		{
			name: "whitespace and empties trimmed",
			in:   " a , ,b ",
			want: []string{"a,b", "a", "b"},
		},
		{
			name: "empty",
			in:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IterAllKeys(tt.in))
		})
	}
}

func TestNewSecretKey(t *testing.T) {
	t.Parallel()

	re := regexp.MustCompile(`^[A-Za-z0-9]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		key := NewSecretKey(6)
		assert.Regexp(t, re, key)
		seen[key] = true
	}
	assert.Greater(t, len(seen), 45, "keys should be reasonably unique")
}

func TestCustomerTenantID(t *testing.T) {
	t.Parallel()

	c := &Customer{TenantIDA: "acano-guid", TenantIDB: "pexip-uuid"}
	assert.Equal(t, "acano-guid", c.TenantID(FamilyCallBridge))
	assert.Equal(t, "pexip-uuid", c.TenantID(FamilyConfServer))
	assert.Equal(t, "", c.TenantID(FamilyCallControl))
}
