package diff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/graphmig/internal/changelog"
)

// Conflict is one changeset edited after it was executed.
type Conflict struct {
	Key               changelog.Key
	DeclaredChecksum  string
	PersistedChecksum string
}

// IntegrityConflictError reports declared changesets whose queries no longer
// match what was executed, while not being flagged run-on-change.
type IntegrityConflictError struct {
	Conflicts []Conflict
}

func (e *IntegrityConflictError) Error() string {
	lines := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		lines = append(lines, fmt.Sprintf("changeset %s: checksum changed from %s to %s",
			c.Key, short(c.PersistedChecksum), short(c.DeclaredChecksum)))
	}
	return fmt.Sprintf("INTEGRITY_CONFLICT: %d executed changeset(s) were edited; "+
		"revert them or set run-on-change:\n  %s", len(e.Conflicts), strings.Join(lines, "\n  "))
}

// IsIntegrityConflict returns true if err is or wraps an IntegrityConflictError.
func IsIntegrityConflict(err error) bool {
	var ic *IntegrityConflictError
	return errors.As(err, &ic)
}

// CheckConflicts compares declared and persisted checksums.
//
// A conflict is a matching (id, author) pair where the persisted checksum is
// non-empty, differs from the declared one, and the declared changeset is not
// run-on-change. Empty persisted checksums are backfilled instead (see
// ComputeToBackfillChecksum).
//
// Returns nil or an *IntegrityConflictError listing all conflicts in
// declared order.
func CheckConflicts(declared, persisted []changelog.Changeset) error {
	index := indexByKey(persisted)

	var conflicts []Conflict
	for _, cs := range declared {
		prev, seen := index[cs.Key()]
		if !seen || prev.Checksum() == "" || cs.RunOnChange() {
			continue
		}
		if prev.Checksum() != cs.Checksum() {
			conflicts = append(conflicts, Conflict{
				Key:               cs.Key(),
				DeclaredChecksum:  cs.Checksum(),
				PersistedChecksum: prev.Checksum(),
			})
		}
	}
	if len(conflicts) > 0 {
		return &IntegrityConflictError{Conflicts: conflicts}
	}
	return nil
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
