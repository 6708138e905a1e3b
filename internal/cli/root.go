// Package cli provides the command-line interface for gridetl.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leapstack-labs/gridetl/internal/cli/commands"
	"github.com/leapstack-labs/gridetl/internal/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gridetl",
		Short: "gridetl - Public Energy Data Pipeline",
		Long: `gridetl fetches public energy datasets from their archive service,
normalizes them against a shared schema catalog, links the utilities
and plants they describe across sources, and loads the result into a
relational database or a parquet dataset.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return &commands.UsageError{Err: err}
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			cmd.SetContext(config.WithContext(cmd.Context(), cfg, logger))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set version template
	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
Public Energy Data Pipeline
`)

	// Global persistent flags. Names line up with config keys so the
	// loader can layer them over file and environment values.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./gridetl.yaml)")
	rootCmd.PersistentFlags().String("cache-root", "", "Directory holding the raw archive cache")
	rootCmd.PersistentFlags().String("state-path", "", "SQLite database tracking runs and fetch events")
	rootCmd.PersistentFlags().Bool("sandbox", false, "Use the sandbox archive service")
	rootCmd.PersistentFlags().Bool("cached-only", false, "Never touch the network; a cache miss is an error")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().Int("workers", 0, "Concurrent partition workers")
	rootCmd.PersistentFlags().StringSlice("sources", nil, "Restrict runs to these sources")
	rootCmd.PersistentFlags().IntSlice("years", nil, "Restrict runs to these report years")
	rootCmd.PersistentFlags().String("strictness", "", "Cell coercion policy (strict|lenient)")
	rootCmd.PersistentFlags().Duration("fetch-timeout", 0, "Timeout per fetch attempt")
	rootCmd.PersistentFlags().Int("fetch-retries", 0, "Re-attempts after a failed fetch")
	rootCmd.PersistentFlags().String("destination", "", "Relational destination (sqlite|duckdb|postgres)")
	rootCmd.PersistentFlags().String("db-path", "", "Database file for file-backed destinations")
	rootCmd.PersistentFlags().String("parquet-dir", "", "Directory for the parquet dataset")
	rootCmd.PersistentFlags().Bool("populate-remote-cache", false, "Write origin fetches through to the shared remote cache")

	// Register completion for enum-valued flags
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("destination", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"sqlite", "duckdb", "postgres"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("strictness", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"strict", "lenient"}, cobra.ShellCompDirectiveNoFileComp
	})

	// Add subcommands
	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(commands.NewDatastoreCommand())
	rootCmd.AddCommand(commands.NewETLCommand())
	rootCmd.AddCommand(commands.NewFERC1Command())
	rootCmd.AddCommand(commands.NewEPACEMSCommand())
	rootCmd.AddCommand(commands.NewCensusCommand())
	rootCmd.AddCommand(commands.NewRunsCommand())

	return rootCmd
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError(err)
		return exitCode(err)
	}
	return 0
}

// printError writes err to stderr, colored when attached to a terminal.
func printError(err error) {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		out := termenv.NewOutput(os.Stderr)
		fmt.Fprintf(os.Stderr, "%s %v\n", out.String("Error:").Foreground(termenv.ANSIRed), err)
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}

// newLogger builds the process logger at the configured level.
// Unrecognized levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
