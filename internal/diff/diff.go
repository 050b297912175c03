// Package diff decides which declared changesets a run must execute.
//
// All functions here are pure: they compare the declared changelog with the
// persisted history and never touch the target store.
//
// A declared changeset is selected when its contexts match and one of:
//   - it has no (id, author) counterpart in history
//   - it is run-always
//   - it is run-on-change and its checksum differs from the persisted one
//
// A persisted changeset with an identical checksum and neither flag is never
// selected again. This is what makes re-running a changelog idempotent.
package diff

import (
	"github.com/roach88/graphmig/internal/changelog"
)

// ComputeToInsert returns the declared changesets to execute, in declared
// order.
func ComputeToInsert(contexts changelog.ExecutionContexts, declared, persisted []changelog.Changeset) []changelog.Changeset {
	index := indexByKey(persisted)

	var out []changelog.Changeset
	for _, cs := range declared {
		if !contexts.Matches(cs) {
			continue
		}
		prev, seen := index[cs.Key()]
		switch {
		case !seen:
			out = append(out, cs)
		case cs.RunAlways():
			out = append(out, cs)
		case cs.RunOnChange() && prev.Checksum() != cs.Checksum():
			out = append(out, cs)
		}
	}
	return out
}

// ComputeToBackfillChecksum returns the declared changesets whose history
// entry exists but carries no checksum. Their checksum is written back
// without executing anything.
func ComputeToBackfillChecksum(declared, persisted []changelog.Changeset) []changelog.Changeset {
	index := indexByKey(persisted)

	var out []changelog.Changeset
	for _, cs := range declared {
		prev, seen := index[cs.Key()]
		if seen && prev.Checksum() == "" {
			out = append(out, cs)
		}
	}
	return out
}

// indexByKey maps each (id, author) to its persisted changeset.
// History holds at most one entry per key; if it ever holds more, the last
// one wins.
func indexByKey(changesets []changelog.Changeset) map[changelog.Key]changelog.Changeset {
	index := make(map[changelog.Key]changelog.Changeset, len(changesets))
	for _, cs := range changesets {
		index[cs.Key()] = cs
	}
	return index
}
