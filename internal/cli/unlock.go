package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/store"
)

// UnlockResult is the output of the unlock command.
type UnlockResult struct {
	Database string    `json:"database"`
	Released *LockInfo `json:"released,omitempty"`
}

func (r UnlockResult) String() string {
	if r.Released == nil {
		return fmt.Sprintf("%s is not locked", r.Database)
	}
	return fmt.Sprintf("✓ Released lock of %s held by %s (pid %d, token %s)",
		r.Database, r.Released.Owner, r.Released.PID, r.Released.Token)
}

// NewUnlockCommand creates the unlock command.
func NewUnlockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Remove a stale migration lock",
		Long: `Remove the migration lock marker left behind by a run that crashed or
was killed before it could release the lock.

Only use this when no migration is running: the lock has no lease, so a
live run cannot be told apart from a dead one.

Example:
  graphmig unlock --db ./graph.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnlock(rootOpts, cmd)
		},
	}

	return cmd
}

func runUnlock(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger, err := opts.prepare(formatter, nil)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return formatter.Fail("cannot open database", err, nil)
	}
	defer st.Close()

	marker, err := st.ForceReleaseLock(cmd.Context())
	if err != nil {
		return formatter.Fail("cannot release lock", err, nil)
	}

	out := UnlockResult{Database: cfg.Database}
	if marker != nil {
		out.Released = &LockInfo{Token: marker.Token, Owner: marker.Owner, PID: marker.PID, LockedAt: marker.LockedAt}
		logger.WithField("token", marker.Token).WithField("owner", marker.Owner).Warn("migration lock force-released")
	}
	return formatter.Success(out)
}
