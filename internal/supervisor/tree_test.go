// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/confatlas/confatlas/internal/logging"
)

type countingService struct {
	name   string
	starts atomic.Int32
}

func (s *countingService) String() string { return s.name }

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func TestTreeRunsAndStopsServices(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())

	ingest := &countingService{name: "ingest-probe"}
	worker := &countingService{name: "worker-probe"}
	api := &countingService{name: "api-probe"}
	tree.AddIngestService(ingest)
	tree.AddWorkerService(worker)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	done := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return ingest.starts.Load() > 0 && worker.starts.Load() > 0 && api.starts.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor tree did not stop")
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)

	// Zero values fall back to the same defaults.
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{})
	assert.NotNil(t, tree)
}
