package writer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/condition"
)

// DryRun writes the changesets a run would apply as a reviewable SQL
// script. Nothing is executed. Conditions are rendered the same way they
// are evaluated.
func DryRun(w io.Writer, changesets []changelog.Changeset) error {
	bw := bufio.NewWriter(w)

	if len(changesets) == 0 {
		fmt.Fprintln(bw, "-- graphmig dry run: nothing to apply")
		return bw.Flush()
	}
	fmt.Fprintf(bw, "-- graphmig dry run: %d changeset(s) to apply\n", len(changesets))

	for i, cs := range changesets {
		fmt.Fprintln(bw)
		fmt.Fprintf(bw, "-- [%d] changeset %s\n", i+1, cs.Key())

		contexts := "*"
		if labels := cs.Contexts(); len(labels) > 0 {
			contexts = strings.Join(labels, ", ")
		}
		fmt.Fprintf(bw, "-- contexts: %s\n", contexts)
		if cs.RunAlways() || cs.RunOnChange() {
			fmt.Fprintf(bw, "-- run-always: %t, run-on-change: %t\n", cs.RunAlways(), cs.RunOnChange())
		}

		if pre := cs.Precondition(); pre != nil {
			text, err := condition.Render(pre.Query)
			if err != nil {
				return fmt.Errorf("render precondition of %s: %w", cs.Key(), err)
			}
			fmt.Fprintf(bw, "-- precondition (%s): %s\n", pre.Policy, text)
		}
		if post := cs.Postcondition(); post != nil {
			text, err := condition.Render(post.Query)
			if err != nil {
				return fmt.Errorf("render postcondition of %s: %w", cs.Key(), err)
			}
			fmt.Fprintf(bw, "-- postcondition (repeat while true): %s\n", text)
		}

		for _, q := range cs.Queries() {
			q = strings.TrimSpace(q)
			if !strings.HasSuffix(q, ";") {
				q += ";"
			}
			fmt.Fprintln(bw, q)
		}
	}
	return bw.Flush()
}
