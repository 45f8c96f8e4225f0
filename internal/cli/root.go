// Package cli implements the autochain command line: the long-running
// hooks, relay and worker processes, the all-in-one up command and the
// zap, run and catalog management commands.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	LogFormat string // "text" | "json"
	EnvFile   string

	// Overrides for the matching environment settings. Empty keeps the
	// environment value.
	DBDriver string
	DBDSN    string
	Broker   string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the AutoChain CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "autochain",
		Short: "AutoChain - webhook-triggered workflow automation",
		Long: `AutoChain runs zaps: a webhook trigger followed by an ordered chain of actions.

Webhook hits are recorded with a pending relay marker in one transaction,
relayed to the zap-events topic and executed one stage per message.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if !isValidFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format (json|text)")
	flags.StringVar(&opts.EnvFile, "env-file", "", "load environment from this file instead of ./.env")
	flags.StringVar(&opts.DBDriver, "db-driver", "", "database driver (sqlite3|postgres), overrides AUTOCHAIN_DB_DRIVER")
	flags.StringVar(&opts.DBDSN, "db", "", "database DSN or SQLite path, overrides AUTOCHAIN_DB_DSN")
	flags.StringVar(&opts.Broker, "broker", "", "broker (memory|kafka|nats), overrides AUTOCHAIN_BROKER")

	// Add subcommands
	cmd.AddCommand(NewHooksCommand(opts))
	cmd.AddCommand(NewRelayCommand(opts))
	cmd.AddCommand(NewWorkerCommand(opts))
	cmd.AddCommand(NewUpCommand(opts))
	cmd.AddCommand(NewZapCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}
