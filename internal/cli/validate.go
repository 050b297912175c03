package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Changelog  string   `json:"changelog"`
	Changesets int      `json:"changesets"`
	Problems   []string `json:"problems,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		msg := fmt.Sprintf("✓ %s is valid (%d changeset(s))", r.Changelog, r.Changesets)
		if len(r.Warnings) > 0 {
			msg += fmt.Sprintf("\n%d warning(s):\n  %s", len(r.Warnings), strings.Join(r.Warnings, "\n  "))
		}
		return msg
	}
	return fmt.Sprintf("✗ %s has %d problem(s):\n  %s", r.Changelog, len(r.Problems), strings.Join(r.Problems, "\n  "))
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [changelog]",
		Short: "Validate a changelog without touching the database",
		Long: `Load a changelog and check it: every changeset has an id, an author and
queries, (id, author) pairs are unique, precondition policies are known and
condition trees are complete.

Example:
  graphmig validate ./changelog.yaml
  graphmig validate --format json ./changelog.cue`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.newFormatter(cmd)
	cfg, _, err := opts.prepare(formatter, func(cfg *config.Config) {
		if len(args) == 1 {
			cfg.Changelog = args[0]
		}
	})
	if err != nil {
		return err
	}

	formatter.VerboseLog("Loading changelog %s", cfg.Changelog)
	changesets, err := changelog.FileSource{Path: cfg.Changelog}.Load(cmd.Context())
	if err != nil {
		var ve *changelog.ValidationError
		if !errors.As(err, &ve) {
			return formatter.Fail("cannot load changelog", err, nil)
		}
		result := ValidationResult{Changelog: cfg.Changelog, Problems: ve.Problems}
		return outputValidationErrors(formatter, result, err)
	}

	return formatter.Success(ValidationResult{
		Valid:      true,
		Changelog:  cfg.Changelog,
		Changesets: len(changesets),
		Warnings:   changelog.NormalizationWarnings(changesets),
	})
}

// outputValidationErrors reports an invalid changelog.
// Validation errors are command-level errors (exit code 2).
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult, err error) error {
	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeInvalidChangelog, err.Error(), result)
	} else {
		fmt.Fprintln(formatter.Writer, result)
	}
	return WrapExitError(ExitCommandError, ErrCodeInvalidChangelog+": invalid changelog", err)
}
