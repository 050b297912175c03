package writer

import (
	"errors"
	"fmt"

	"github.com/roach88/graphmig/internal/changelog"
)

// PreconditionFailedError aborts a run when a FAIL-policy precondition is
// not met. Nothing of the failing changeset is committed.
type PreconditionFailedError struct {
	Key    changelog.Key
	Query  string // Rendered precondition
	Policy changelog.Policy
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("PRECONDITION_FAILED: changeset %s: precondition %q not met (policy %s)",
		e.Key, e.Query, e.Policy)
}

// IsPreconditionFailed returns true if err is or wraps a
// PreconditionFailedError.
func IsPreconditionFailed(err error) bool {
	var pf *PreconditionFailedError
	return errors.As(err, &pf)
}

// ApplyError wraps a failure while applying one changeset.
type ApplyError struct {
	Key   changelog.Key
	Stage string // "begin", "precondition", "exec query N", "postcondition", "record", "commit"
	Err   error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply changeset %s: %s: %v", e.Key, e.Stage, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }
