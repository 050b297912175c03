package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/config"
	"github.com/roach88/graphmig/internal/lock"
	"github.com/roach88/graphmig/internal/migrator"
	"github.com/roach88/graphmig/internal/writer"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Contexts        []string
	LockTimeout     time.Duration
	PollInterval    time.Duration
	MetricsTextfile string

	// ReleaseHook overrides the signal-based lock release hook (for testing).
	ReleaseHook lock.ReleaseHook
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending changesets",
		Long: `Apply every changeset of the changelog that has not run yet.

The run takes the migration lock of the database, rejects executed
changesets whose queries were edited (unless marked run-on-change), and
applies the rest in changelog order, one transaction per changeset.

Example:
  graphmig migrate --db ./graph.db --changelog ./changelog.yaml
  graphmig migrate --contexts prod,eu --lock-timeout 5m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Contexts, "contexts", nil, "execution contexts (comma separated; empty runs all)")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", 0, "maximum wait for the local migration lock")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 0, "how often to re-check a lock held by another process")
	cmd.Flags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")

	return cmd
}

// apply copies the command flags that were set onto cfg.
func (o *MigrateOptions) apply(cmd *cobra.Command) func(*config.Config) {
	return func(cfg *config.Config) {
		flags := cmd.Flags()
		if flags.Changed("contexts") {
			cfg.Contexts = o.Contexts
		}
		if flags.Changed("lock-timeout") {
			cfg.LockTimeout = o.LockTimeout
		}
		if flags.Changed("poll-interval") {
			cfg.PollInterval = o.PollInterval
		}
		if flags.Changed("metrics-textfile") {
			cfg.MetricsTextfile = o.MetricsTextfile
		}
	}
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger, err := opts.prepare(formatter, opts.apply(cmd))
	if err != nil {
		return err
	}

	if cfg.MetricsTextfile != "" {
		defer func() {
			if err := migrator.WriteTextfile(cfg.MetricsTextfile); err != nil {
				logger.WithError(err).Warn("failed to write metrics textfile")
			}
		}()
	}

	lockOpts := []lock.Option{
		lock.WithTimeout(cfg.LockTimeout),
		lock.WithPollInterval(cfg.PollInterval),
	}
	if opts.ReleaseHook != nil {
		lockOpts = append(lockOpts, lock.WithReleaseHook(opts.ReleaseHook))
	}
	m := migrator.New(connectFunc(cfg),
		migrator.WithLogger(logger),
		migrator.WithLockOptions(lockOpts...),
	)

	contexts := changelog.NewExecutionContexts(cfg.Contexts...)
	formatter.VerboseLog("Migrating %s with %s (contexts: %s)", cfg.Database, cfg.Changelog, contexts)

	res, err := m.Run(cmd.Context(), changelog.FileSource{Path: cfg.Changelog}, contexts)
	summary := newMigrateSummary(cfg, contexts, res)
	if err != nil {
		var details any
		if formatter.Format == "json" {
			details = summary
		}
		return formatter.Fail("migration failed", err, details)
	}
	return formatter.Success(summary)
}

// MigrateSummary is the output of the migrate command.
type MigrateSummary struct {
	Database         string           `json:"database"`
	Changelog        string           `json:"changelog"`
	Contexts         string           `json:"contexts"`
	Declared         int              `json:"declared"`
	Persisted        int              `json:"persisted"`
	Backfilled       int64            `json:"backfilled"`
	Selected         int              `json:"selected"`
	Executed         int              `json:"executed"`
	Skipped          int              `json:"skipped"`
	MarkedAsExecuted int              `json:"marked_as_executed"`
	Changesets       []writer.Applied `json:"changesets"`
	DurationMS       int64            `json:"duration_ms"`
}

func newMigrateSummary(cfg config.Config, contexts changelog.ExecutionContexts, res *migrator.Result) MigrateSummary {
	s := MigrateSummary{
		Database:   cfg.Database,
		Changelog:  cfg.Changelog,
		Contexts:   contexts.String(),
		Changesets: []writer.Applied{},
	}
	if res == nil {
		return s
	}
	s.Declared = res.Declared
	s.Persisted = res.Persisted
	s.Backfilled = res.Backfilled
	s.Selected = res.Selected
	s.DurationMS = res.Duration.Milliseconds()
	if res.Report != nil {
		s.Changesets = res.Report.Changesets
		s.Executed = res.Report.Count(writer.Executed)
		s.Skipped = res.Report.Count(writer.Skipped)
		s.MarkedAsExecuted = res.Report.Count(writer.MarkedAsExecuted)
	}
	return s
}

func (s MigrateSummary) String() string {
	var b strings.Builder
	if s.Selected == 0 {
		fmt.Fprintf(&b, "✓ %s is up to date (%d changeset(s) declared, %d in history)", s.Database, s.Declared, s.Persisted)
	} else {
		fmt.Fprintf(&b, "✓ Applied %d changeset(s) to %s: %d executed, %d skipped, %d marked as executed",
			s.Selected, s.Database, s.Executed, s.Skipped, s.MarkedAsExecuted)
	}
	if s.Backfilled > 0 {
		fmt.Fprintf(&b, "\n  backfilled %d missing checksum(s)", s.Backfilled)
	}
	for _, a := range s.Changesets {
		fmt.Fprintf(&b, "\n  %-18s %s", a.Outcome, a.Key)
		if a.Applications > 1 {
			fmt.Fprintf(&b, " (%d applications)", a.Applications)
		}
	}
	return b.String()
}
