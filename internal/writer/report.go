package writer

import (
	"fmt"

	"github.com/roach88/graphmig/internal/changelog"
)

// Outcome is the final state of one changeset in a run.
type Outcome int

const (
	// Executed means the queries ran and the changeset was recorded.
	Executed Outcome = iota
	// Skipped means a CONTINUE precondition was not met. Nothing ran and
	// nothing was recorded.
	Skipped
	// MarkedAsExecuted means a MARK_AS_EXECUTED precondition was not met.
	// Nothing ran but the changeset was recorded.
	MarkedAsExecuted
)

// String returns the lower-case name used in logs, metrics and JSON output.
func (o Outcome) String() string {
	switch o {
	case Executed:
		return "executed"
	case Skipped:
		return "skipped"
	case MarkedAsExecuted:
		return "marked_as_executed"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Outcome) UnmarshalText(text []byte) error {
	for _, candidate := range []Outcome{Executed, Skipped, MarkedAsExecuted} {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Applied describes what happened to one changeset.
type Applied struct {
	Key     changelog.Key `json:"key"`
	Outcome Outcome       `json:"outcome"`

	// Applications counts how many times the query list ran: 1 without a
	// postcondition, more while the postcondition held, 0 when not executed.
	Applications int `json:"applications"`

	// Position is the history position handed out for this changeset.
	// Zero when skipped.
	Position int64 `json:"position,omitempty"`
}

// Report lists the changesets a Write call processed, in order.
type Report struct {
	Changesets []Applied `json:"changesets"`
}

// Count returns the number of changesets with the given outcome.
func (r *Report) Count(o Outcome) int {
	n := 0
	for _, a := range r.Changesets {
		if a.Outcome == o {
			n++
		}
	}
	return n
}

// Applications returns the total number of query-list applications.
func (r *Report) Applications() int {
	n := 0
	for _, a := range r.Changesets {
		n += a.Applications
	}
	return n
}
