// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package api serves the booking REST surface and the backend push
// endpoints (CDR and event-sink webhooks). Booking routes authenticate
// with customer API keys; webhook routes are open because the backends
// post to them directly.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/metrics"
	"github.com/confatlas/confatlas/internal/provision"
	"github.com/confatlas/confatlas/internal/stats"
	"github.com/confatlas/confatlas/internal/tasks"
)

// workerStale is how long the task runner may miss heartbeats before
// readiness reports it down.
const workerStale = 2 * time.Minute

// Server is the HTTP front of the control plane.
type Server struct {
	cfg      config.HTTPConfig
	db       *database.DB
	clusters *cluster.Service
	prov     *provision.Service
	pipeline *stats.Pipeline
	deps     backends.Deps

	handler http.Handler
	now     func() time.Time
}

// New wires the router. The pipeline may be nil when event ingestion
// runs elsewhere; the webhook routes then answer 503.
func New(cfg config.HTTPConfig, db *database.DB, clusters *cluster.Service,
	prov *provision.Service, pipeline *stats.Pipeline, deps backends.Deps) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		clusters: clusters,
		prov:     prov,
		pipeline: pipeline,
		deps:     deps,
		now:      time.Now,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) String() string { return "api-server" }

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve runs the listener until ctx is cancelled. Fits a suture tree.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "Authorization"},
		MaxAge:         300,
	}))
	r.Use(observe)

	r.Get("/healthz", s.healthLive)
	r.Get("/readyz", s.healthReady)
	r.Handle("/metrics", promhttp.Handler())

	// Backend push endpoints. The backends authenticate nobody; the
	// receiver URL itself is the shared secret.
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/events/{cluster}", s.eventSink)
		r.Post("/cdr/{cluster}", s.cdrSink)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if s.cfg.RateLimitRequests > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimitRequests, s.cfg.RateLimitWindow))
		}
		r.Use(s.authenticate)

		r.Post("/meetings", s.createMeeting)
		r.Route("/meetings/{key}", func(r chi.Router) {
			r.Get("/", s.getMeeting)
			r.Put("/", s.updateMeeting)
			r.Delete("/", s.deleteMeeting)
		})

		// Operational reads stay off limited keys.
		r.Group(func(r chi.Router) {
			r.Use(s.requireFullKey)
			r.Get("/clusters", s.listClusters)
			r.Route("/clusters/{id}", func(r chi.Router) {
				r.Get("/status", s.clusterStatus)
				r.Post("/cdr-hook", s.registerCDRHook)
			})
		})
	})

	return r
}

// requestID tags the request context so handler log lines correlate.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithRequestID(r.Context(), logging.NewRequestID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// observe records request duration per route pattern.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.ObserveHTTP(r.Method, route, ww.Status(), time.Since(start))
	})
}

func (s *Server) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthReady checks the store and the task runner's heartbeat row. A
// missing heartbeat is degraded, not down: serve-only deployments run
// without a worker.
func (s *Server) healthReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.db.Conn().PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "down", "database": err.Error(),
		})
		return
	}

	worker := "unknown"
	ws, err := s.db.GetWorkerStatus(ctx, tasks.WorkerName)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		worker = "error"
	case ws.Alive(s.now(), workerStale):
		worker = "alive"
	default:
		worker = "stale"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "worker": worker})
}
