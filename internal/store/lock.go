package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/graphmig/internal/lock"
)

// InsertMarker stores the lock marker. The table holds a single row, so a
// concurrent insert from another process loses with lock.ErrMarkerExists.
func (s *Store) InsertMarker(ctx context.Context, m lock.Marker) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO graphmig_lock (slot, token, owner, pid, locked_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(slot) DO NOTHING
	`, m.Token, m.Owner, m.PID, marshalTime(m.LockedAt))
	if err != nil {
		return &TargetError{Op: "insert lock marker", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &TargetError{Op: "insert lock marker: rows affected", Err: err}
	}
	if n == 0 {
		return lock.ErrMarkerExists
	}
	return nil
}

// MarkerExists reports whether a run currently holds the lock.
func (s *Store) MarkerExists(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM graphmig_lock`).Scan(&count); err != nil {
		return false, &TargetError{Op: "check lock marker", Err: err}
	}
	return count > 0, nil
}

// DeleteMarker removes the marker if it carries token. A marker held by
// another run is left alone.
func (s *Store) DeleteMarker(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM graphmig_lock WHERE token = ?`, token); err != nil {
		return &TargetError{Op: "delete lock marker", Err: err}
	}
	return nil
}

// ReadMarker returns the current marker, or nil if the lock is free.
func (s *Store) ReadMarker(ctx context.Context) (*lock.Marker, error) {
	var (
		m        lock.Marker
		lockedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, owner, pid, locked_at FROM graphmig_lock WHERE slot = 1
	`).Scan(&m.Token, &m.Owner, &m.PID, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &TargetError{Op: "read lock marker", Err: err}
	}
	if m.LockedAt, err = unmarshalTime(lockedAt); err != nil {
		return nil, fmt.Errorf("read lock marker: %w", err)
	}
	return &m, nil
}

// ForceReleaseLock deletes whatever marker is present. It is the operator
// escape hatch for a marker left behind by a crashed run.
//
// Returns the removed marker, or nil if the lock was free.
func (s *Store) ForceReleaseLock(ctx context.Context) (*lock.Marker, error) {
	m, err := s.ReadMarker(ctx)
	if err != nil || m == nil {
		return nil, err
	}
	if err := s.DeleteMarker(ctx, m.Token); err != nil {
		return nil, err
	}
	return m, nil
}
