package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationsTable records which of the embedded schema migrations have been
// applied. Prefixed so it cannot clash with tables of the migrated graph.
const MigrationsTable = "graphmig_schema_migrations"

// dsnParams configures every connection the pool opens:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention between processes
//   - foreign key enforcement
//   - BEGIN IMMEDIATE, so a changeset transaction takes the write lock
//     before it evaluates its precondition
const dsnParams = "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// Store is the SQLite migration target.
//
// It holds the graph being migrated and, next to it, the migration history
// and the lock marker.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path and brings the
// history and lock tables up to date.
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// A changeset transaction owns the connection until it commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + dsnParams
	}
	return path + "?" + dsnParams
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Key identifies the target for the lock manager: the absolute database
// path, so two handles on the same file share one local mutex.
func (s *Store) Key() string {
	if abs, err := filepath.Abs(s.path); err == nil {
		return "sqlite:" + abs
	}
	return "sqlite:" + s.path
}

// applySchema runs the embedded migrations with golang-migrate.
func applySchema(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return fmt.Errorf("create migrate driver: %w", err)
	}

	// The migrate instance is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied schema migration version.
func (s *Store) SchemaVersion(ctx context.Context) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT version, dirty FROM %s LIMIT 1", MigrationsTable),
	).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return uint(version), dirty, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
