package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/graphmig/internal/changelog"
)

// RecordChangeset writes the history entry of an applied changeset inside
// the changeset's transaction.
//
//   - The changeset node is upserted by (id, author): inserted if absent,
//     otherwise its checksum is updated.
//   - Its query leaves are deleted and re-inserted in order, so run-always
//     and run-on-change changesets keep a clean trail.
//   - The ordering edge is inserted on first execution only; later
//     executions keep the original position.
func (t *Tx) RecordChangeset(ctx context.Context, cs changelog.Changeset, position int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO graphmig_changesets (id, author, checksum)
		VALUES (?, ?, ?)
		ON CONFLICT(id, author) DO UPDATE SET checksum = excluded.checksum
	`, cs.ID(), cs.Author(), cs.Checksum())
	if err != nil {
		return &TargetError{Op: "record changeset", Err: fmt.Errorf("%s: %w", cs.Key(), err)}
	}

	_, err = t.tx.ExecContext(ctx, `
		DELETE FROM graphmig_queries
		WHERE changeset_id = ? AND changeset_author = ?
	`, cs.ID(), cs.Author())
	if err != nil {
		return &TargetError{Op: "record changeset", Err: fmt.Errorf("%s: delete queries: %w", cs.Key(), err)}
	}

	for i, q := range cs.Queries() {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO graphmig_queries (changeset_id, changeset_author, ordinal, query)
			VALUES (?, ?, ?, ?)
		`, cs.ID(), cs.Author(), i, q)
		if err != nil {
			return &TargetError{Op: "record changeset", Err: fmt.Errorf("%s: insert query %d: %w", cs.Key(), i, err)}
		}
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO graphmig_executions (changeset_id, changeset_author, position, executed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(changeset_id, changeset_author) DO NOTHING
	`, cs.ID(), cs.Author(), position, marshalTime(at))
	if err != nil {
		return &TargetError{Op: "record changeset", Err: fmt.Errorf("%s: insert execution: %w", cs.Key(), err)}
	}

	return nil
}

// ExecutedPosition returns the position key was first recorded at, or 0 if
// it has no history entry.
func (t *Tx) ExecutedPosition(ctx context.Context, key changelog.Key) (int64, error) {
	var pos int64
	err := t.tx.QueryRowContext(ctx, `
		SELECT position FROM graphmig_executions
		WHERE changeset_id = ? AND changeset_author = ?
	`, key.ID, key.Author).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &TargetError{Op: "read execution", Err: fmt.Errorf("%s: %w", key, err)}
	}
	return pos, nil
}

// BackfillChecksums stores the checksum of each given changeset on history
// entries that have none. Queries are not executed and query leaves are not
// touched. Returns the number of entries updated.
func (s *Store) BackfillChecksums(ctx context.Context, changesets []changelog.Changeset) (int64, error) {
	if len(changesets) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &TargetError{Op: "backfill checksums: begin", Err: err}
	}
	defer tx.Rollback() // No-op if committed

	var total int64
	for _, cs := range changesets {
		res, err := tx.ExecContext(ctx, `
			UPDATE graphmig_changesets
			SET checksum = ?
			WHERE id = ? AND author = ? AND (checksum IS NULL OR checksum = '')
		`, cs.Checksum(), cs.ID(), cs.Author())
		if err != nil {
			return 0, &TargetError{Op: "backfill checksums", Err: fmt.Errorf("%s: %w", cs.Key(), err)}
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, &TargetError{Op: "backfill checksums: rows affected", Err: err}
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, &TargetError{Op: "backfill checksums: commit", Err: err}
	}
	return total, nil
}

// ClearChecksums nulls stored checksums, for all changesets or only those
// whose id is listed. Query history is untouched. The next run backfills
// the checksums from the declared changelog.
//
// Returns the number of history entries cleared.
func (s *Store) ClearChecksums(ctx context.Context, ids []string) (int64, error) {
	query := "UPDATE graphmig_changesets SET checksum = NULL"
	args := make([]any, 0, len(ids))
	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += " WHERE id IN (" + strings.Join(placeholders, ", ") + ")"
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &TargetError{Op: "clear checksums", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &TargetError{Op: "clear checksums: rows affected", Err: err}
	}
	return n, nil
}
