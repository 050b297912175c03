package changelog

import (
	"errors"
	"fmt"
	"strings"
)

// Key identifies a changeset across the declared changelog and the history.
// Two changesets with the same key are the same changeset, whatever their
// queries or checksum.
type Key struct {
	ID     string `json:"id"`
	Author string `json:"author"`
}

// String formats the key for error messages and logs.
func (k Key) String() string {
	return fmt.Sprintf("id=%q author=%q", k.ID, k.Author)
}

// Definition holds the declared attributes of a changeset.
// The checksum is not part of it; New derives it from Queries.
type Definition struct {
	ID            string
	Author        string
	Queries       []string
	Contexts      []string
	RunAlways     bool
	RunOnChange   bool
	Precondition  *Precondition
	Postcondition *Postcondition
}

// Changeset is one unit of migration work.
//
// Changeset values are immutable: all fields are unexported and accessors
// return copies of slices. The invariant Checksum() == Fingerprint(Queries())
// holds for every changeset built with New.
type Changeset struct {
	id            string
	author        string
	queries       []string
	checksum      string
	contexts      []string
	runAlways     bool
	runOnChange   bool
	precondition  *Precondition
	postcondition *Postcondition
}

// Construction errors.
var (
	ErrMissingID      = errors.New("changeset id is required")
	ErrMissingAuthor  = errors.New("changeset author is required")
	ErrMissingQueries = errors.New("changeset has no queries")
)

// New builds a declared changeset and derives its checksum.
//
// Returns an error if id, author or queries are missing, or if a query is
// blank.
func New(def Definition) (Changeset, error) {
	if strings.TrimSpace(def.ID) == "" {
		return Changeset{}, ErrMissingID
	}
	if strings.TrimSpace(def.Author) == "" {
		return Changeset{}, fmt.Errorf("changeset %q: %w", def.ID, ErrMissingAuthor)
	}
	if len(def.Queries) == 0 {
		return Changeset{}, fmt.Errorf("changeset %s: %w", Key{def.ID, def.Author}, ErrMissingQueries)
	}
	for i, q := range def.Queries {
		if strings.TrimSpace(q) == "" {
			return Changeset{}, fmt.Errorf("changeset %s: query %d is blank", Key{def.ID, def.Author}, i+1)
		}
	}
	cs := build(def)
	cs.checksum = Fingerprint(cs.queries)
	return cs, nil
}

// MustNew is like New but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustNew(def Definition) Changeset {
	cs, err := New(def)
	if err != nil {
		panic(err)
	}
	return cs
}

// Restore rebuilds a changeset read back from history.
//
// The persisted checksum is kept verbatim: it may be empty (history written
// before checksums existed) or disagree with the queries (an edited
// changeset). No validation is applied.
func Restore(def Definition, checksum string) Changeset {
	cs := build(def)
	cs.checksum = checksum
	return cs
}

func build(def Definition) Changeset {
	return Changeset{
		id:            def.ID,
		author:        def.Author,
		queries:       append([]string(nil), def.Queries...),
		contexts:      dedupe(def.Contexts),
		runAlways:     def.RunAlways,
		runOnChange:   def.RunOnChange,
		precondition:  def.Precondition,
		postcondition: def.Postcondition,
	}
}

func dedupe(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// WithChecksum returns a copy of cs carrying the given checksum.
// Used to backfill history entries persisted without one.
func (cs Changeset) WithChecksum(checksum string) Changeset {
	cs.queries = append([]string(nil), cs.queries...)
	cs.contexts = append([]string(nil), cs.contexts...)
	cs.checksum = checksum
	return cs
}

// ID returns the changeset id.
func (cs Changeset) ID() string { return cs.id }

// Author returns the changeset author.
func (cs Changeset) Author() string { return cs.author }

// Key returns the (id, author) identity of the changeset.
func (cs Changeset) Key() Key { return Key{ID: cs.id, Author: cs.author} }

// Queries returns a copy of the ordered query list.
func (cs Changeset) Queries() []string { return append([]string(nil), cs.queries...) }

// Checksum returns the fingerprint of the queries, or the persisted value
// for restored changesets.
func (cs Changeset) Checksum() string { return cs.checksum }

// Contexts returns a copy of the declared context labels.
func (cs Changeset) Contexts() []string { return append([]string(nil), cs.contexts...) }

// RunAlways reports whether the changeset is selected on every run.
func (cs Changeset) RunAlways() bool { return cs.runAlways }

// RunOnChange reports whether the changeset is re-selected when its
// checksum changes.
func (cs Changeset) RunOnChange() bool { return cs.runOnChange }

// Precondition returns the precondition, or nil.
func (cs Changeset) Precondition() *Precondition { return cs.precondition }

// Postcondition returns the postcondition, or nil.
func (cs Changeset) Postcondition() *Postcondition { return cs.postcondition }

// SameAs reports whether other identifies the same changeset.
func (cs Changeset) SameAs(other Changeset) bool {
	return cs.id == other.id && cs.author == other.author
}

// String returns a short description for logs.
func (cs Changeset) String() string {
	return "changeset " + cs.Key().String()
}
