package cli

import (
	"bytes"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/config"
	"github.com/roach88/graphmig/internal/migrator"
)

// DryRunOptions holds flags for the dry-run command.
type DryRunOptions struct {
	*RootOptions
	Contexts []string
}

// NewDryRunCommand creates the dry-run command.
func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DryRunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Print the changesets migrate would apply",
		Long: `Print the changesets migrate would apply as a SQL script, with their
conditions rendered as comments. Nothing is executed and no lock is taken.

Example:
  graphmig dry-run --db ./graph.db --changelog ./changelog.yaml > pending.sql`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Contexts, "contexts", nil, "execution contexts (comma separated; empty runs all)")

	return cmd
}

// DryRunOutput is the JSON output of the dry-run command.
type DryRunOutput struct {
	Database string `json:"database"`
	Script   string `json:"script"`
}

func (o DryRunOutput) String() string { return o.Script }

func runDryRun(opts *DryRunOptions, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, logger, err := opts.prepare(formatter, func(cfg *config.Config) {
		if cmd.Flags().Changed("contexts") {
			cfg.Contexts = opts.Contexts
		}
	})
	if err != nil {
		return err
	}

	m := migrator.New(connectFunc(cfg), migrator.WithLogger(logger))
	contexts := changelog.NewExecutionContexts(cfg.Contexts...)

	var script bytes.Buffer
	if err := m.DryRun(cmd.Context(), changelog.FileSource{Path: cfg.Changelog}, contexts, &script); err != nil {
		return formatter.Fail("dry run failed", err, nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(DryRunOutput{Database: cfg.Database, Script: script.String()})
	}
	_, err = cmd.OutOrStdout().Write(script.Bytes())
	return err
}
