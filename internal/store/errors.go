package store

import (
	"errors"
	"fmt"
)

// TargetError wraps a failure reported by SQLite for a statement.
type TargetError struct {
	Op    string // "exec", "query", "commit", ...
	Query string // Statement text, if any
	Err   error
}

func (e *TargetError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("TARGET_ERROR: %s %q: %v", e.Op, e.Query, e.Err)
	}
	return fmt.Sprintf("TARGET_ERROR: %s: %v", e.Op, e.Err)
}

func (e *TargetError) Unwrap() error { return e.Err }

// MalformedResultError reports a condition query whose result does not have
// the shape of a boolean answer. It is a changelog configuration error, not
// a data error.
type MalformedResultError struct {
	Query  string
	Reason string
}

func (e *MalformedResultError) Error() string {
	return fmt.Sprintf("MALFORMED_CONDITION: query %q: %s (want one row with one %q column)",
		e.Query, e.Reason, ResultColumn)
}

// IsTargetError returns true if err is or wraps a TargetError.
func IsTargetError(err error) bool {
	var te *TargetError
	return errors.As(err, &te)
}

// IsMalformedResult returns true if err is or wraps a MalformedResultError.
func IsMalformedResult(err error) bool {
	var me *MalformedResultError
	return errors.As(err, &me)
}
