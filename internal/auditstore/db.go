// Package auditstore is the supplemental traffic audit log named in
// SPEC_FULL.md §3 (TrafficRecord) and §11: every flow the proxy engine
// sees gets a durable row here, independent of and in addition to the
// in-memory broker/callback-store state that the intercept/callback
// invariants actually depend on. Grounded on the teacher's db/db.go
// connection setup (WAL mode, single connection, embedded goose
// migrations) and db/waypoint_repo.go for the waypoint table.
package auditstore

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store wraps the audit database connection.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storeLogger := logger.With("component", "auditstore")
	storeLogger.Info("connecting to audit database", "path", path)

	db, err := sqlx.Connect("sqlite", fmt.Sprintf("%s?_journal=WAL&_timeout=5000&_fk=true", path))
	if err != nil {
		return nil, fmt.Errorf("connecting to audit db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	migrationsFS, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating migrations fs: %w", err)
	}

	provider, err := goose.NewProvider(
		goose.DialectSQLite3,
		db.DB,
		migrationsFS,
		goose.WithVerbose(true),
		goose.WithSlog(logger),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating goose provider: %w", err)
	}

	results, err := provider.Up(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	storeLogger.Info("audit database ready", "migrations_applied", len(results))

	return &Store{db: db}, nil
}

// Close terminates the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing audit db: %w", err)
	}
	return nil
}
