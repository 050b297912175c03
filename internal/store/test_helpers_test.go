package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/graphmig/internal/changelog"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestChangeset creates a changeset with a single query.
func createTestChangeset(t *testing.T, id string, queries ...string) changelog.Changeset {
	t.Helper()
	if len(queries) == 0 {
		queries = []string{"CREATE TABLE IF NOT EXISTS " + id + " (x INTEGER)"}
	}
	cs, err := changelog.New(changelog.Definition{ID: id, Author: "test", Queries: queries})
	if err != nil {
		t.Fatalf("changelog.New(%q) failed: %v", id, err)
	}
	return cs
}

// recordTestChangeset records cs in its own transaction.
func recordTestChangeset(t *testing.T, s *Store, cs changelog.Changeset, position int64) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()
	at := time.Date(2024, 1, 1, 0, 0, int(position), 0, time.UTC)
	if err := tx.RecordChangeset(ctx, cs, position, at); err != nil {
		t.Fatalf("RecordChangeset(%s) failed: %v", cs.Key(), err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}
