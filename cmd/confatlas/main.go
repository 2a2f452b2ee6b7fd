// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package main is the confatlas entry point.
//
// The daemon runs with `confatlas serve` (the default when no command
// is given): a supervised tree of the HTTP API, the task runner, the
// mirror sync loop, the room sweeper and the statistics services.
//
// Two maintenance commands run one pass and exit:
//
//	confatlas sync-cluster --cluster <id> [--incremental]
//	confatlas update-stats [--full | --incremental]
//
// Exit codes: 0 success, 1 transient backend or connection failure,
// 2 backend authentication failure, 3 configuration error.
//
// Configuration is loaded via koanf from built-in defaults, an optional
// config.yaml and CONFATLAS_* environment variables, highest wins.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/confatlas/confatlas/internal/api"
	"github.com/confatlas/confatlas/internal/backends"
	"github.com/confatlas/confatlas/internal/cluster"
	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/database"
	"github.com/confatlas/confatlas/internal/logging"
	"github.com/confatlas/confatlas/internal/provision"
	"github.com/confatlas/confatlas/internal/stats"
	"github.com/confatlas/confatlas/internal/supervisor"
	"github.com/confatlas/confatlas/internal/syncer"
	"github.com/confatlas/confatlas/internal/tasks"
	"github.com/confatlas/confatlas/internal/tenantmatch"
	"github.com/confatlas/confatlas/internal/transport"
)

const (
	exitOK        = 0
	exitTransient = 1
	exitAuth      = 2
	exitConfig    = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	command := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command = args[0]
		args = args[1:]
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("configuration load failed")
		return exitConfig
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.Database.Path).Msg("database open failed")
		return exitConfig
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("database close failed")
		}
	}()

	switch command {
	case "serve":
		return serve(cfg, db)
	case "sync-cluster":
		return syncClusterCmd(cfg, db, args)
	case "update-stats":
		return updateStatsCmd(cfg, db, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, sync-cluster or update-stats)\n", command)
		return exitConfig
	}
}

// serve runs the daemon under a supervisor tree until SIGINT/SIGTERM.
func serve(cfg *config.Config, db *database.DB) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := backends.Deps{Sessions: db, Tracer: db}
	clusters := cluster.New(db)
	match := tenantmatch.New(db)

	runner := tasks.New(db, cfg.Tasks)
	prov := provision.New(db, clusters, runner, deps)
	prov.RegisterHandlers(runner, cfg.Tasks.DialoutPerSecond)

	engine := syncer.New(db, clusters, deps, match, clusters)
	ingestor := stats.New(db, clusters, match, deps, cfg.Stats)
	pipeline := stats.NewPipeline(ingestor, cfg.Events)

	server := api.New(cfg.HTTP, db, clusters, prov, pipeline, deps)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddIngestService(pipeline)
	tree.AddIngestService(stats.NewUpdater(ingestor, cfg.Stats.Interval))
	tree.AddIngestService(stats.NewReaper(ingestor, cfg.Stats.ReaperInterval))
	tree.AddWorkerService(runner)
	tree.AddWorkerService(syncer.NewLoop(engine, cfg.Sync))
	tree.AddWorkerService(provision.NewSweeper(prov, cfg.Rooms))
	tree.AddAPIService(server)

	logging.Info().
		Str("db", cfg.Database.Path).
		Str("listen", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)).
		Bool("events", cfg.Events.Enabled).
		Msg("confatlas starting")

	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree failed")
		return exitTransient
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil {
		for _, s := range unstopped {
			logging.Warn().Str("service", s.Name).Msg("service missed shutdown timeout")
		}
	}
	logging.Info().Msg("confatlas stopped")
	return exitOK
}

// syncClusterCmd runs one mirror sync for a single cluster and exits.
func syncClusterCmd(cfg *config.Config, db *database.DB, args []string) int {
	fs := flag.NewFlagSet("sync-cluster", flag.ContinueOnError)
	clusterID := fs.Int64("cluster", 0, "cluster id to sync")
	incremental := fs.Bool("incremental", false, "only refresh recently changed objects")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *clusterID == 0 {
		fmt.Fprintln(os.Stderr, "sync-cluster: --cluster is required")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clusters := cluster.New(db)
	match := tenantmatch.New(db)
	engine := syncer.New(db, clusters, backends.Deps{Sessions: db, Tracer: db}, match, clusters)

	result, err := engine.SyncCluster(ctx, *clusterID, *incremental)
	if err != nil {
		logging.Error().Err(err).Int64("cluster", *clusterID).Msg("sync failed")
		return exitCode(err)
	}
	logging.Info().Int64("cluster", *clusterID).
		Int("users", result.Users).Int("spaces", result.Spaces).
		Int("aliases", result.Aliases).Int64("tombstones", result.Tombstones).
		Msg("sync finished")
	return exitOK
}

// updateStatsCmd runs one statistics pull over every cluster and exits.
func updateStatsCmd(cfg *config.Config, db *database.DB, args []string) int {
	fs := flag.NewFlagSet("update-stats", flag.ContinueOnError)
	full := fs.Bool("full", false, "ignore saved cursors and re-scan history")
	incremental := fs.Bool("incremental", false, "resume from saved cursors (the default)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *full && *incremental {
		fmt.Fprintln(os.Stderr, "update-stats: --full and --incremental are mutually exclusive")
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clusters := cluster.New(db)
	ingestor := stats.New(db, clusters, tenantmatch.New(db), backends.Deps{Sessions: db, Tracer: db}, cfg.Stats)

	if err := ingestor.UpdateAll(ctx, *full); err != nil {
		logging.Error().Err(err).Msg("stats update failed")
		return exitCode(err)
	}
	logging.Info().Bool("full", *full).Msg("stats update finished")
	return exitOK
}

// exitCode maps the error taxonomy onto the documented exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case transport.IsAuthentication(err):
		return exitAuth
	case transport.IsTransient(err):
		return exitTransient
	default:
		return exitTransient
	}
}
