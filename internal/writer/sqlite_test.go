package writer_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/store"
	"github.com/roach88/graphmig/internal/writer"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestWrite_SQLitePostconditionLoop(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.DB().Exec(`
		CREATE TABLE nodes (id INTEGER PRIMARY KEY);
		CREATE TABLE edges (src INTEGER, dst INTEGER);
		CREATE TABLE applications (n INTEGER);
		INSERT INTO nodes VALUES (1), (2), (3);
		INSERT INTO edges VALUES (1, 2), (2, 3);
	`)
	require.NoError(t, err)

	cs := changelog.MustNew(changelog.Definition{
		ID:     "drop-edges",
		Author: "alice",
		Queries: []string{
			"DELETE FROM edges WHERE rowid = (SELECT min(rowid) FROM edges)",
			"INSERT INTO applications VALUES (1)",
		},
		Postcondition: &changelog.Postcondition{
			Query: changelog.Simple{Text: "SELECT count(*) > 0 AS result FROM edges"},
		},
	})

	report, err := writer.New(s).Write(ctx, []changelog.Changeset{cs})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Changesets[0].Applications)
	assert.Equal(t, 0, countRows(t, s, "edges"))
	assert.Equal(t, 2, countRows(t, s, "applications"), "queries run exactly twice")

	history, err := s.ReadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, cs.Checksum(), history[0].Checksum())
}

func TestWrite_SQLiteRollbackOnFailure(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	good := changelog.MustNew(changelog.Definition{
		ID:      "good",
		Author:  "alice",
		Queries: []string{"CREATE TABLE people (name TEXT)"},
	})
	broken := changelog.MustNew(changelog.Definition{
		ID:     "broken",
		Author: "alice",
		Queries: []string{
			"INSERT INTO people VALUES ('ada')",
			"INSERT INTO missing_table VALUES (1)",
		},
	})

	_, err := writer.New(s).Write(ctx, []changelog.Changeset{good, broken})
	require.Error(t, err)
	assert.True(t, store.IsTargetError(err))
	assert.Contains(t, err.Error(), `id="broken"`)

	assert.Equal(t, 0, countRows(t, s, "people"), "partial changeset work never commits")

	history, err := s.ReadHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "good", history[0].ID())
}

func TestWrite_SQLiteMalformedCondition(t *testing.T) {
	s := openStore(t)

	cs := changelog.MustNew(changelog.Definition{
		ID:      "cs1",
		Author:  "alice",
		Queries: []string{"CREATE TABLE t (x INTEGER)"},
		Precondition: &changelog.Precondition{
			Policy: changelog.PolicyContinue,
			Query:  changelog.Simple{Text: "SELECT 1 AS answer"},
		},
	})

	_, err := writer.New(s).Write(context.Background(), []changelog.Changeset{cs})
	require.Error(t, err)
	assert.True(t, store.IsMalformedResult(err))
}

func TestWrite_SQLiteRunAlwaysRecordedOnce(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	cs := changelog.MustNew(changelog.Definition{
		ID:        "touch",
		Author:    "alice",
		RunAlways: true,
		Queries:   []string{"CREATE TABLE IF NOT EXISTS runs (n INTEGER)", "INSERT INTO runs VALUES (1)"},
	})
	w := writer.New(s)
	for i := 0; i < 3; i++ {
		_, err := w.Write(ctx, []changelog.Changeset{cs})
		require.NoError(t, err)
	}

	assert.Equal(t, 3, countRows(t, s, "runs"))
	assert.Equal(t, 1, countRows(t, s, "graphmig_changesets"))
	assert.Equal(t, 1, countRows(t, s, "graphmig_executions"))
	assert.Equal(t, 2, countRows(t, s, "graphmig_queries"))
}
