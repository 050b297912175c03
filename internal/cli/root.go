package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/roach88/graphmig/internal/config"
	"github.com/roach88/graphmig/internal/migrator"
	"github.com/roach88/graphmig/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	ConfigFile string // YAML config; empty means graphmig.yaml if present
	DotEnv     string // .env file; empty disables
	Database   string // overrides config when set
	Changelog  string // overrides config when set
	LogFormat  string // overrides config when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the graphmig CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "graphmig",
		Short: "graphmig - changelog-driven database migrations",
		Long: `Apply a declared changelog of migration changesets to a database,
exactly once each, in order, under a migration lock.

Settings come from graphmig.yaml, a .env file, GRAPHMIG_* environment
variables and flags, in increasing order of precedence.`,
		SilenceErrors: true, // main prints errors that commands did not report
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default graphmig.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.DotEnv, "env-file", config.DefaultDotEnv, "dotenv file with GRAPHMIG_* variables")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite target database")
	cmd.PersistentFlags().StringVar(&opts.Changelog, "changelog", "", "changelog file (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	// Add subcommands
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewDryRunCommand(opts))
	cmd.AddCommand(NewClearChecksumsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewUnlockCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newFormatter builds the output formatter of a command.
func (o *RootOptions) newFormatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// settings loads the configuration and applies the global flag overrides.
// override, if set, applies command flags before validation.
func (o *RootOptions) settings(override func(*config.Config)) (config.Config, error) {
	cfg, err := config.Load(o.ConfigFile, o.DotEnv)
	if err != nil {
		return config.Config{}, err
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Changelog != "" {
		cfg.Changelog = o.Changelog
	}
	if o.LogFormat != "" {
		cfg.LogFormat = o.LogFormat
	}
	if o.Verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// prepare loads settings and builds the logger. Failures are reported
// through the formatter as command errors.
func (o *RootOptions) prepare(f *OutputFormatter, override func(*config.Config)) (config.Config, *logrus.Entry, error) {
	cfg, err := o.settings(override)
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return config.Config{}, nil, WrapExitError(ExitCommandError, ErrCodeConfig+": invalid settings", err)
	}
	logger, err := cfg.NewLogger(logOutput(f))
	if err != nil {
		_ = f.Error(ErrCodeConfig, err.Error(), nil)
		return config.Config{}, nil, WrapExitError(ExitCommandError, ErrCodeConfig+": invalid settings", err)
	}
	return cfg, logrus.NewEntry(logger).WithField("database", cfg.Database), nil
}

// logOutput sends logs to stderr so they never mix with command output.
func logOutput(f *OutputFormatter) io.Writer {
	return f.GetErrWriter()
}

// connectFunc opens the SQLite target named by the settings.
func connectFunc(cfg config.Config) migrator.ConnectFunc {
	return func(ctx context.Context) (migrator.Target, error) {
		s, err := store.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
