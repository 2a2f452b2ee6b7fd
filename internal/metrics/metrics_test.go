// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveHTTP(t *testing.T) {
	before := testutil.CollectAndCount(HTTPRequestDuration)
	ObserveHTTP("GET", "/api/v1/meetings/{key}", 200, 12*time.Millisecond)
	assert.Greater(t, testutil.CollectAndCount(HTTPRequestDuration), before)
}

func TestCountIngest(t *testing.T) {
	CountIngest(42, 3, 7)
	calls := testutil.ToFloat64(StatsIngested.WithLabelValues("42", "call"))
	legs := testutil.ToFloat64(StatsIngested.WithLabelValues("42", "leg"))
	assert.Equal(t, 3.0, calls)
	assert.Equal(t, 7.0, legs)

	// Zero counts must not create series.
	CountIngest(43, 0, 0)
	assert.Equal(t, 0.0, testutil.ToFloat64(StatsIngested.WithLabelValues("43", "call")))
}

func TestObserveBackend(t *testing.T) {
	ObserveBackend("callbridge", 200, 80*time.Millisecond)
	got := testutil.ToFloat64(BackendRequests.WithLabelValues("callbridge", "200"))
	assert.GreaterOrEqual(t, got, 1.0)
}
