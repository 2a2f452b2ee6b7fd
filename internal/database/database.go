// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package database provides the embedded DuckDB persistence layer.
//
// A single DB instance owns the connection pool, a prepared statement
// cache, and a set of per-key mutexes used for read-modify-write
// sequences that DuckDB cannot serialize on its own (number range
// allocation, lazy tenant id assignment). All tables live in one file
// database; tests use the special :memory: path.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/confatlas/confatlas/internal/config"
	"github.com/confatlas/confatlas/internal/logging"
)

const (
	defaultMaxMemory = "512MB"

	// busyTimeout bounds how long schema setup may take on a cold disk.
	setupTimeout = 30 * time.Second
)

// DB wraps the DuckDB connection with statement caching and row locks.
type DB struct {
	conn *sql.DB
	path string

	stmtCache   map[string]*sql.Stmt
	stmtCacheMu sync.RWMutex

	// rowLocks serializes allocation-style updates keyed by a logical
	// row identity, e.g. "numberrange:3" or "customer-tenant:17".
	rowLocks sync.Map

	// traceScope, when set, limits request snapshots to matching
	// customer, cluster, or provider rows.
	traceScope atomic.Pointer[TraceScope]

	now func() time.Time
}

// New opens (creating if necessary) the database at cfg.Path and
// installs the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = defaultMaxMemory
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf(
		"%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=false&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory,
	)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	conn.SetMaxOpenConns(threads)
	conn.SetMaxIdleConns(threads)
	conn.SetConnMaxLifetime(0)

	db := &DB{
		conn:      conn,
		path:      cfg.Path,
		stmtCache: make(map[string]*sql.Stmt),
		now:       time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := db.initialize(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Int("threads", threads).Msg("database opened")
	return db, nil
}

func (db *DB) initialize(ctx context.Context) error {
	if err := db.createTables(ctx); err != nil {
		return err
	}
	return db.Checkpoint(ctx)
}

// Conn exposes the raw pool for callers that need transactions.
func (db *DB) Conn() *sql.DB { return db.conn }

// SetClock overrides the time source. Test hook.
func (db *DB) SetClock(now func() time.Time) { db.now = now }

// prepare returns a cached prepared statement for the query, creating
// it on first use. Statements live until Close.
func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	db.stmtCacheMu.RLock()
	stmt, ok := db.stmtCache[query]
	db.stmtCacheMu.RUnlock()
	if ok {
		return stmt, nil
	}

	db.stmtCacheMu.Lock()
	defer db.stmtCacheMu.Unlock()
	if stmt, ok := db.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	db.stmtCache[query] = stmt
	return stmt, nil
}

func (db *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := db.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

func (db *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := db.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	stmt, err := db.prepare(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryRowContext(ctx, args...), nil
}

// lockRow returns the mutex guarding a logical row, creating it on
// first use. Callers must Unlock.
func (db *DB) lockRow(key string) *sync.Mutex {
	v, _ := db.rowLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu
}

// Checkpoint forces the WAL into the main database file.
func (db *DB) Checkpoint(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// Close flushes and closes the database. Safe to call once.
func (db *DB) Close() error {
	db.stmtCacheMu.Lock()
	for _, stmt := range db.stmtCache {
		closeQuietly(stmt)
	}
	db.stmtCache = nil
	db.stmtCacheMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("checkpoint on close failed")
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	logging.Debug().Str("path", db.path).Msg("database closed")
	return nil
}

type closer interface{ Close() error }

func closeQuietly(c closer) {
	if err := c.Close(); err != nil {
		logging.Debug().Err(err).Msg("close failed")
	}
}

// nullStr maps empty strings onto SQL NULL for optional columns.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullTime maps zero times onto SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func scanNullStr(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func scanNullTime(v sql.NullTime) time.Time {
	if v.Valid {
		return v.Time.UTC()
	}
	return time.Time{}
}

func scanNullInt(v sql.NullInt64) int64 {
	if v.Valid {
		return v.Int64
	}
	return 0
}
