package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHistory_Empty(t *testing.T) {
	s := createTestStore(t)

	history, err := s.ReadHistory(context.Background())
	if err != nil {
		t.Fatalf("ReadHistory() failed: %v", err)
	}
	if history == nil {
		t.Fatal("ReadHistory() returned nil, want empty slice")
	}
	if len(history) != 0 {
		t.Errorf("ReadHistory() returned %d entries, want 0", len(history))
	}

	last, err := s.LastPosition(context.Background())
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestReadHistory_OrderedByPosition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	// Insert out of id order to make sure position wins
	recordTestChangeset(t, s, createTestChangeset(t, "zeta"), 1)
	recordTestChangeset(t, s, createTestChangeset(t, "alpha"), 2)
	recordTestChangeset(t, s, createTestChangeset(t, "mu"), 3)

	history, err := s.ReadHistory(ctx)
	require.NoError(t, err)

	ids := make([]string, len(history))
	for i, cs := range history {
		ids[i] = cs.ID()
	}
	assert.Equal(t, []string{"zeta", "alpha", "mu"}, ids)
}

func TestHistoryEntries_ExecutedAt(t *testing.T) {
	s := createTestStore(t)
	recordTestChangeset(t, s, createTestChangeset(t, "a"), 7)

	entries, err := s.HistoryEntries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].Position)
	assert.True(t, entries[0].ExecutedAt.Equal(time.Date(2024, 1, 1, 0, 0, 7, 0, time.UTC)))
}

func TestQueryBool_Accepted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []struct {
		query string
		want  bool
	}{
		{"SELECT 1 AS result", true},
		{"SELECT 0 AS result", false},
		{"SELECT 'true' AS result", true},
		{"SELECT 'FALSE' AS RESULT", false},
		{"SELECT count(*) = 0 AS result FROM graphmig_changesets", true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			got, err := tx.QueryBool(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryBool_Malformed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tests := []string{
		"SELECT 1 AS answer",
		"SELECT 1 AS result, 2 AS other",
		"SELECT 1 AS result FROM graphmig_changesets",
		"SELECT 1 AS result UNION ALL SELECT 0",
		"SELECT 2 AS result",
		"SELECT NULL AS result",
		"SELECT 'maybe' AS result",
	}
	for _, query := range tests {
		t.Run(query, func(t *testing.T) {
			tx, err := s.Begin(ctx)
			require.NoError(t, err)
			defer tx.Rollback()

			_, err = tx.QueryBool(ctx, query)
			require.Error(t, err)
			assert.True(t, IsMalformedResult(err), "got %v", err)

			var mre *MalformedResultError
			require.True(t, errors.As(err, &mre))
			assert.Equal(t, query, mre.Query)
		})
	}
}

func TestQueryBool_TargetError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	_, err = tx.QueryBool(ctx, "SELECT result FROM no_such_table")
	require.Error(t, err)
	assert.True(t, IsTargetError(err))
	assert.False(t, IsMalformedResult(err))

	err = tx.Exec(ctx, "THIS IS NOT SQL")
	require.Error(t, err)
	assert.True(t, IsTargetError(err))
	assert.Contains(t, err.Error(), "THIS IS NOT SQL")
}
