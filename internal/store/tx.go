package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/graphmig/internal/writer"
)

// Tx is a transaction on the target. Auto-commit is off: nothing is visible
// to other connections until Commit.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a transaction. With txlock=immediate it holds the database
// write lock from the start.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &TargetError{Op: "begin", Err: err}
	}
	return &Tx{tx: tx}, nil
}

// BeginTx implements writer.Target.
func (s *Store) BeginTx(ctx context.Context) (writer.Tx, error) {
	return s.Begin(ctx)
}

// Exec executes one statement of a changeset.
func (t *Tx) Exec(ctx context.Context, query string) error {
	if _, err := t.tx.ExecContext(ctx, query); err != nil {
		return &TargetError{Op: "exec", Query: query, Err: err}
	}
	return nil
}

// QueryBool runs a condition query and returns its boolean answer.
//
// The query must return exactly one row with exactly one column named
// "result" holding a boolean (see unmarshalBool).
func (t *Tx) QueryBool(ctx context.Context, query string) (bool, error) {
	rows, err := t.tx.QueryContext(ctx, query)
	if err != nil {
		return false, &TargetError{Op: "query", Query: query, Err: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return false, &TargetError{Op: "query", Query: query, Err: err}
	}
	if len(cols) != 1 {
		return false, &MalformedResultError{Query: query, Reason: fmt.Sprintf("got %d columns %v", len(cols), cols)}
	}
	if !strings.EqualFold(cols[0], ResultColumn) {
		return false, &MalformedResultError{Query: query, Reason: fmt.Sprintf("got column %q", cols[0])}
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return false, &TargetError{Op: "query", Query: query, Err: err}
		}
		return false, &MalformedResultError{Query: query, Reason: "got no rows"}
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return false, &TargetError{Op: "scan", Query: query, Err: err}
	}
	if rows.Next() {
		return false, &MalformedResultError{Query: query, Reason: "got more than one row"}
	}
	if err := rows.Err(); err != nil {
		return false, &TargetError{Op: "query", Query: query, Err: err}
	}

	ok, reason := unmarshalBool(v)
	if reason != "" {
		return false, &MalformedResultError{Query: query, Reason: reason}
	}
	return ok, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return &TargetError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is
// a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return &TargetError{Op: "rollback", Err: err}
	}
	return nil
}
