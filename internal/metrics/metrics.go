// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package metrics exposes the Prometheus collectors. All collectors
// register on the default registry; the API serves them on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "confatlas_http_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_backend_requests_total",
			Help: "Total requests against conferencing backends",
		},
		[]string{"family", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "confatlas_backend_request_duration_seconds",
			Help:    "Duration of backend API calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"family"},
	)

	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_sync_runs_total",
			Help: "Mirror sync runs by outcome",
		},
		[]string{"cluster", "outcome"},
	)

	StatsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_stats_records_total",
			Help: "Call and leg records ingested",
		},
		[]string{"cluster", "kind"},
	)

	Bookings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_bookings_total",
			Help: "Booking operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	TasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_tasks_processed_total",
			Help: "Background tasks by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	MatchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confatlas_match_cache_hits_total",
			Help: "Tenant match cache hits",
		},
	)

	MatchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "confatlas_match_cache_misses_total",
			Help: "Tenant match cache misses",
		},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "confatlas_events_consumed_total",
			Help: "Event pipeline messages by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)
)

// ObserveHTTP records one finished API request.
func ObserveHTTP(method, route string, status int, took time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).
		Observe(took.Seconds())
}

// ObserveBackend records one backend call.
func ObserveBackend(family string, status int, took time.Duration) {
	BackendRequests.WithLabelValues(family, strconv.Itoa(status)).Inc()
	BackendRequestDuration.WithLabelValues(family).Observe(took.Seconds())
}

// CountIngest records ingested stats rows for a cluster.
func CountIngest(clusterID int64, calls, legs int) {
	cluster := strconv.FormatInt(clusterID, 10)
	if calls > 0 {
		StatsIngested.WithLabelValues(cluster, "call").Add(float64(calls))
	}
	if legs > 0 {
		StatsIngested.WithLabelValues(cluster, "leg").Add(float64(legs))
	}
}
