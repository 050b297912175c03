package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/store"
)

// HistoryRow is one executed changeset.
type HistoryRow struct {
	Position   int64     `json:"position"`
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	Checksum   string    `json:"checksum"`
	Queries    int       `json:"queries"`
	ExecutedAt time.Time `json:"executed_at"`
}

// LockInfo describes the current lock marker.
type LockInfo struct {
	Token    string    `json:"token"`
	Owner    string    `json:"owner"`
	PID      int       `json:"pid"`
	LockedAt time.Time `json:"locked_at"`
}

// HistoryOutput is the output of the history command.
type HistoryOutput struct {
	Database string       `json:"database"`
	Entries  []HistoryRow `json:"entries"`
	Lock     *LockInfo    `json:"lock,omitempty"`
}

func (h HistoryOutput) String() string {
	var b strings.Builder
	if len(h.Entries) == 0 {
		fmt.Fprintf(&b, "No changesets executed in %s", h.Database)
	} else {
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "POS\tID\tAUTHOR\tCHECKSUM\tQUERIES\tEXECUTED AT")
		for _, e := range h.Entries {
			checksum := e.Checksum
			if checksum == "" {
				checksum = "-"
			} else if len(checksum) > 12 {
				checksum = checksum[:12]
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\n",
				e.Position, e.ID, e.Author, checksum, e.Queries, e.ExecutedAt.Format(time.RFC3339))
		}
		tw.Flush()
		fmt.Fprintf(&b, "%d changeset(s) executed", len(h.Entries))
	}
	if h.Lock != nil {
		fmt.Fprintf(&b, "\nLocked by %s (pid %d) since %s", h.Lock.Owner, h.Lock.PID, h.Lock.LockedAt.Format(time.RFC3339))
	}
	return b.String()
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List executed changesets",
		Long: `List the changesets recorded in the database, in execution order,
and show who holds the migration lock, if anyone.

Example:
  graphmig history --db ./graph.db
  graphmig history --db ./graph.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd)
		},
	}

	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, _, err := opts.prepare(formatter, nil)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return formatter.Fail("cannot open database", err, nil)
	}
	defer st.Close()

	entries, err := st.HistoryEntries(cmd.Context())
	if err != nil {
		return formatter.Fail("cannot read history", err, nil)
	}
	marker, err := st.ReadMarker(cmd.Context())
	if err != nil {
		return formatter.Fail("cannot read lock marker", err, nil)
	}

	out := HistoryOutput{Database: cfg.Database, Entries: make([]HistoryRow, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, HistoryRow{
			Position:   e.Position,
			ID:         e.Changeset.ID(),
			Author:     e.Changeset.Author(),
			Checksum:   e.Changeset.Checksum(),
			Queries:    len(e.Changeset.Queries()),
			ExecutedAt: e.ExecutedAt,
		})
	}
	if marker != nil {
		out.Lock = &LockInfo{Token: marker.Token, Owner: marker.Owner, PID: marker.PID, LockedAt: marker.LockedAt}
	}
	return formatter.Success(out)
}
