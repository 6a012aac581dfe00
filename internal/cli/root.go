// Package cli provides the command-line interface for mailsync.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Martian-dev/mailsync/internal/config"
	"github.com/Martian-dev/mailsync/internal/eventstore"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	verbose bool

	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	eventStore *eventstore.Store
)

var rootCmd = &cobra.Command{
	Use:   "mailsync",
	Short: "Incremental mail and calendar sync",
	Long: `Mailsync pulls email and calendar records from Outlook and Gmail connections,
normalizes them into canonical events, stores each message or meeting once,
and records every sync attempt in a run ledger.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, cfg.LogLevel)

		var err error
		eventStore, err = eventstore.Open(cmd.Context(), cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return fmt.Errorf("open datastore: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if eventStore != nil {
			if err := eventStore.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close datastore: %v\n", err)
			}
			eventStore = nil
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(rulesCmd)
}
