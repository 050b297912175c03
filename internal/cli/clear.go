package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/lock"
	"github.com/roach88/graphmig/internal/migrator"
)

// ClearChecksumsOptions holds flags for the clear-checksums command.
type ClearChecksumsOptions struct {
	*RootOptions

	// ReleaseHook overrides the signal-based lock release hook (for testing).
	ReleaseHook lock.ReleaseHook
}

// NewClearChecksumsCommand creates the clear-checksums command.
func NewClearChecksumsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearChecksumsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear-checksums [changeset-id...]",
		Short: "Forget stored checksums",
		Long: `Clear the stored checksums of executed changesets, all of them or only
those with the given ids. Query history is kept. The next migrate run
stores the checksums of the changelog as it is then, without executing
anything, which accepts edits made to executed changesets.

Example:
  graphmig clear-checksums --db ./graph.db
  graphmig clear-checksums --db ./graph.db create-people add-index`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearChecksums(opts, args, cmd)
		},
	}

	return cmd
}

// ClearChecksumsResult is the output of the clear-checksums command.
type ClearChecksumsResult struct {
	Database string   `json:"database"`
	IDs      []string `json:"ids,omitempty"`
	Cleared  int64    `json:"cleared"`
}

func (r ClearChecksumsResult) String() string {
	scope := "all changesets"
	if len(r.IDs) > 0 {
		scope = strings.Join(r.IDs, ", ")
	}
	return fmt.Sprintf("✓ Cleared %d checksum(s) in %s (%s)", r.Cleared, r.Database, scope)
}

func runClearChecksums(opts *ClearChecksumsOptions, ids []string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger, err := opts.prepare(formatter, nil)
	if err != nil {
		return err
	}

	lockOpts := []lock.Option{
		lock.WithTimeout(cfg.LockTimeout),
		lock.WithPollInterval(cfg.PollInterval),
	}
	if opts.ReleaseHook != nil {
		lockOpts = append(lockOpts, lock.WithReleaseHook(opts.ReleaseHook))
	}
	m := migrator.New(connectFunc(cfg), migrator.WithLogger(logger), migrator.WithLockOptions(lockOpts...))

	cleared, err := m.ClearChecksums(cmd.Context(), ids...)
	if err != nil {
		return formatter.Fail("clear checksums failed", err, nil)
	}
	return formatter.Success(ClearChecksumsResult{Database: cfg.Database, IDs: ids, Cleared: cleared})
}
