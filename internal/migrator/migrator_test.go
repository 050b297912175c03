package migrator

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/diff"
	"github.com/roach88/graphmig/internal/lock"
	"github.com/roach88/graphmig/internal/store"
	"github.com/roach88/graphmig/internal/testutil"
	"github.com/roach88/graphmig/internal/writer"
)

// testTarget opens a fresh database file and returns a migrator bound to it.
func testTarget(t *testing.T) (*Migrator, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.db")

	// Create the schema up front so concurrent connects only open.
	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	m := New(connectTo(path), WithLockOptions(
		lock.WithReleaseHook(lock.NoReleaseHook),
		lock.WithPollInterval(5*time.Millisecond),
	))
	return m, path
}

func connectTo(path string) ConnectFunc {
	return func(ctx context.Context) (Target, error) {
		return store.Open(path)
	}
}

func readHistory(t *testing.T, path string) []changelog.Changeset {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	history, err := s.ReadHistory(context.Background())
	require.NoError(t, err)
	return history
}

func countRows(t *testing.T, path, table string) int {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.DB().QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func tableExists(t *testing.T, path, table string) bool {
	t.Helper()
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	var n int
	require.NoError(t, s.DB().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&n))
	return n > 0
}

var cs1 = changelog.MustNew(changelog.Definition{
	ID:      "cs1",
	Author:  "a",
	Queries: []string{"CREATE TABLE people (name TEXT)"},
})

func TestRun_FirstRun(t *testing.T) {
	m, path := testTarget(t)

	res, err := m.Run(context.Background(), changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Declared)
	assert.Equal(t, 0, res.Persisted)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, 1, res.Report.Count(writer.Executed))

	assert.True(t, tableExists(t, path, "people"))
	history := readHistory(t, path)
	require.Len(t, history, 1)
	assert.Equal(t, cs1.Key(), history[0].Key())
	assert.Equal(t, cs1.Checksum(), history[0].Checksum())
	assert.Equal(t, cs1.Queries(), history[0].Queries())
}

func TestRun_RecordsExecutionTimes(t *testing.T) {
	_, path := testTarget(t)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := testutil.NewStepClock(start, time.Minute)
	m := New(connectTo(path),
		WithLockOptions(lock.WithReleaseHook(lock.NoReleaseHook)),
		WithWriterOptions(writer.WithClock(clock.Now)),
	)

	cs2 := changelog.MustNew(changelog.Definition{
		ID:      "cs2",
		Author:  "a",
		Queries: []string{"INSERT INTO people VALUES ('ada')"},
	})
	_, err := m.Run(context.Background(), changelog.Static{cs1, cs2}, changelog.AllContexts)
	require.NoError(t, err)

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	entries, err := s.HistoryEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].Position)
	assert.True(t, entries[0].ExecutedAt.Equal(start))
	assert.Equal(t, int64(2), entries[1].Position)
	assert.True(t, entries[1].ExecutedAt.Equal(start.Add(time.Minute)))
	assert.Equal(t, int64(2), clock.Ticks())
}

func TestRun_UnchangedRerun(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	_, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	res, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Equal(t, 0, res.Selected)
	assert.Empty(t, res.Report.Changesets)
	assert.Len(t, readHistory(t, path), 1)
}

func TestRun_EditedChangesetConflict(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	_, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	edited := changelog.MustNew(changelog.Definition{
		ID:      "cs1",
		Author:  "a",
		Queries: []string{"CREATE TABLE people (name TEXT, age INTEGER)"},
	})
	other := changelog.MustNew(changelog.Definition{
		ID:      "cs2",
		Author:  "a",
		Queries: []string{"CREATE TABLE pets (name TEXT)"},
	})

	res, err := m.Run(ctx, changelog.Static{edited, other}, changelog.AllContexts)
	require.Error(t, err)
	assert.True(t, diff.IsIntegrityConflict(err))
	assert.Contains(t, err.Error(), `id="cs1" author="a"`)
	assert.Nil(t, res.Report, "conflict aborts before the writer runs")

	assert.False(t, tableExists(t, path, "pets"), "nothing is written after a conflict")
	history := readHistory(t, path)
	require.Len(t, history, 1)
	assert.Equal(t, cs1.Checksum(), history[0].Checksum())
}

func TestRun_RunOnChange(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	v1 := changelog.MustNew(changelog.Definition{
		ID: "view", Author: "a", RunOnChange: true,
		Queries: []string{"CREATE VIEW IF NOT EXISTS v AS SELECT 1 AS x"},
	})
	v2 := changelog.MustNew(changelog.Definition{
		ID: "view", Author: "a", RunOnChange: true,
		Queries: []string{"DROP VIEW IF EXISTS v", "CREATE VIEW v AS SELECT 2 AS x"},
	})

	_, err := m.Run(ctx, changelog.Static{v1}, changelog.AllContexts)
	require.NoError(t, err)
	res, err := m.Run(ctx, changelog.Static{v2}, changelog.AllContexts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)

	history := readHistory(t, path)
	require.Len(t, history, 1)
	assert.Equal(t, v2.Checksum(), history[0].Checksum())
	assert.Equal(t, v2.Queries(), history[0].Queries())
}

func TestRun_RerunReportsRecordedPosition(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	always := changelog.MustNew(changelog.Definition{
		ID: "refresh", Author: "a", RunAlways: true,
		Queries: []string{"CREATE TABLE IF NOT EXISTS refreshed (x INTEGER)"},
	})

	_, err := m.Run(ctx, changelog.Static{always, cs1}, changelog.AllContexts)
	require.NoError(t, err)
	res, err := m.Run(ctx, changelog.Static{always, cs1}, changelog.AllContexts)
	require.NoError(t, err)

	require.Len(t, res.Report.Changesets, 1)
	assert.Equal(t, int64(1), res.Report.Changesets[0].Position, "report must match the history entry")

	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	last, err := s.LastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestRun_BackfillsClearedChecksums(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	_, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	cleared, err := m.ClearChecksums(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)
	assert.Empty(t, readHistory(t, path)[0].Checksum())

	res, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Backfilled)
	assert.Equal(t, 0, res.Selected, "backfill never re-executes")
	assert.Equal(t, cs1.Checksum(), readHistory(t, path)[0].Checksum())
}

func TestRun_Contexts(t *testing.T) {
	m, path := testTarget(t)

	tagged := changelog.MustNew(changelog.Definition{
		ID: "seed", Author: "a", Contexts: []string{"foo", "bar"},
		Queries: []string{"CREATE TABLE seed (x INTEGER)"},
	})

	res, err := m.Run(context.Background(), changelog.Static{cs1, tagged}, changelog.NewExecutionContexts("baz"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.False(t, tableExists(t, path, "seed"))

	res, err = m.Run(context.Background(), changelog.Static{cs1, tagged}, changelog.NewExecutionContexts("bar"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.True(t, tableExists(t, path, "seed"))
}

func TestRun_InvalidChangelog(t *testing.T) {
	m, _ := testTarget(t)

	_, err := m.Run(context.Background(), changelog.Static{cs1, cs1}, changelog.AllContexts)
	require.Error(t, err)
	var ve *changelog.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRun_LockReleasedAfterFailure(t *testing.T) {
	m, path := testTarget(t)

	broken := changelog.MustNew(changelog.Definition{
		ID: "broken", Author: "a", Queries: []string{"NOT SQL AT ALL"},
	})
	_, err := m.Run(context.Background(), changelog.Static{broken}, changelog.AllContexts)
	require.Error(t, err)
	assert.True(t, store.IsTargetError(err))

	assert.Equal(t, 0, countRows(t, path, "graphmig_lock"))
}

func TestRun_ConcurrentRuns(t *testing.T) {
	m, path := testTarget(t)

	counted := changelog.MustNew(changelog.Definition{
		ID:     "count",
		Author: "a",
		Queries: []string{
			"CREATE TABLE IF NOT EXISTS applied (n INTEGER)",
			"INSERT INTO applied VALUES (1)",
		},
	})

	const runs = 8
	var wg sync.WaitGroup
	errs := make(chan error, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Run(context.Background(), changelog.Static{counted}, changelog.AllContexts)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, countRows(t, path, "applied"), "exactly one run applies the changeset")
	assert.Len(t, readHistory(t, path), 1)
	assert.Equal(t, 0, countRows(t, path, "graphmig_lock"))
}

func TestDryRun_WritesNothing(t *testing.T) {
	m, path := testTarget(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, m.DryRun(ctx, changelog.Static{cs1}, changelog.AllContexts, &buf))
	assert.Contains(t, buf.String(), "CREATE TABLE people (name TEXT);")
	assert.False(t, tableExists(t, path, "people"))
	assert.Empty(t, readHistory(t, path))

	_, err := m.Run(ctx, changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	buf.Reset()
	require.NoError(t, m.DryRun(ctx, changelog.Static{cs1}, changelog.AllContexts, &buf))
	assert.Equal(t, "-- graphmig dry run: nothing to apply\n", buf.String())
}

func TestWriteTextfile(t *testing.T) {
	m, _ := testTarget(t)
	_, err := m.Run(context.Background(), changelog.Static{cs1}, changelog.AllContexts)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "graphmig.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "graphmig_runs_total")
	assert.Contains(t, string(data), `graphmig_changesets_total{outcome="executed"}`)
}
