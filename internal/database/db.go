// Package database wraps the relational store: connection pool tuning,
// migration, transaction helpers, and the health probe the /health endpoint
// uses. Driver is modernc.org/sqlite (pure Go) so tests run without cgo.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// DB wraps *sql.DB with the store-wide conventions: pool tuning, migration,
// and a panic-safe transaction helper.
type DB struct {
	*sql.DB
}

// Config configures the store connection.
type Config struct {
	DSN string
}

// New opens the relational store and tunes its connection pool for a single
// always-on writer plus readers, matching this lineage's WAL-mode profile.
func New(cfg Config) (*DB, error) {
	conn, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("database: apply %q: %w", pragma, err)
		}
	}

	return &DB{DB: conn}, nil
}

// Migrate applies every embedded schema file in lexical order. Schema files
// use CREATE TABLE IF NOT EXISTS so Migrate is idempotent across restarts.
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return fmt.Errorf("database: read schemas dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		contents, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return fmt.Errorf("database: read schema %s: %w", e.Name(), err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return fmt.Errorf("database: apply schema %s: %w", e.Name(), err)
		}
	}
	return nil
}

// WithTransaction runs fn inside a transaction, committing on a nil return
// and rolling back (including on panic) otherwise.
func WithTransaction(ctx context.Context, db *DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("database: rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("database: commit: %w", err)
	}
	return nil
}

// HealthCheck pings the store and runs a quick integrity check, used by the
// /health database probe.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: ping: %w", err)
	}
	row := db.QueryRowContext(ctx, "PRAGMA quick_check")
	var result string
	if err := row.Scan(&result); err != nil {
		return fmt.Errorf("database: quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database: quick_check reported %q", result)
	}
	return nil
}
