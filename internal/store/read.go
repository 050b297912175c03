package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/graphmig/internal/changelog"
)

// HistoryEntry is one executed changeset with its ordering edge.
type HistoryEntry struct {
	Changeset  changelog.Changeset
	Position   int64
	ExecutedAt time.Time
}

// ReadHistory returns the persisted changesets in original execution order.
// Each carries its id, author, stored checksum (possibly empty) and queries.
//
// Returns an empty slice (not nil) if nothing has been executed yet.
func (s *Store) ReadHistory(ctx context.Context) ([]changelog.Changeset, error) {
	entries, err := s.HistoryEntries(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]changelog.Changeset, len(entries))
	for i, e := range entries {
		out[i] = e.Changeset
	}
	return out, nil
}

type historyKey struct {
	id     string
	author string
}

// HistoryEntries returns the full history, ordered by position.
// Entries without an ordering edge sort last, by id and author.
func (s *Store) HistoryEntries(ctx context.Context) ([]HistoryEntry, error) {
	queries, err := s.readQueries(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.author, c.checksum, e.position, e.executed_at
		FROM graphmig_changesets c
		LEFT JOIN graphmig_executions e
			ON e.changeset_id = c.id AND e.changeset_author = c.author
		ORDER BY e.position IS NULL ASC, e.position ASC,
			c.id COLLATE BINARY ASC, c.author COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, &TargetError{Op: "read history", Err: err}
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			id, author string
			checksum   sql.NullString
			position   sql.NullInt64
			executedAt sql.NullString
		)
		if err := rows.Scan(&id, &author, &checksum, &position, &executedAt); err != nil {
			return nil, &TargetError{Op: "scan history", Err: err}
		}

		entry := HistoryEntry{
			Changeset: changelog.Restore(changelog.Definition{
				ID:      id,
				Author:  author,
				Queries: queries[historyKey{id, author}],
			}, checksum.String),
			Position: position.Int64,
		}
		if executedAt.Valid {
			t, err := unmarshalTime(executedAt.String)
			if err != nil {
				return nil, fmt.Errorf("read history %s: %w", changelog.Key{ID: id, Author: author}, err)
			}
			entry.ExecutedAt = t
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &TargetError{Op: "iterate history", Err: err}
	}
	return entries, nil
}

// readQueries loads every query leaf grouped by changeset, in order.
func (s *Store) readQueries(ctx context.Context) (map[historyKey][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT changeset_id, changeset_author, query
		FROM graphmig_queries
		ORDER BY changeset_id COLLATE BINARY ASC, changeset_author COLLATE BINARY ASC, ordinal ASC
	`)
	if err != nil {
		return nil, &TargetError{Op: "read history queries", Err: err}
	}
	defer rows.Close()

	out := make(map[historyKey][]string)
	for rows.Next() {
		var id, author, query string
		if err := rows.Scan(&id, &author, &query); err != nil {
			return nil, &TargetError{Op: "scan history query", Err: err}
		}
		k := historyKey{id, author}
		out[k] = append(out[k], query)
	}
	if err := rows.Err(); err != nil {
		return nil, &TargetError{Op: "iterate history queries", Err: err}
	}
	return out, nil
}

// LastPosition returns the highest recorded position, or 0 for an empty
// history. The write orchestrator continues numbering from there.
func (s *Store) LastPosition(ctx context.Context) (int64, error) {
	var pos int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(position), 0) FROM graphmig_executions
	`).Scan(&pos)
	if err != nil {
		return 0, &TargetError{Op: "read last position", Err: err}
	}
	return pos, nil
}
