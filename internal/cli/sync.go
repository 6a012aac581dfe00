package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <connection-id>",
	Short: "Run one sync for a connection and wait for it",
	Long: `Sync runs one ingestion run for the connection in the foreground, holding
the same lease the scheduler uses, and prints the run outcome.

Jobs enqueued by the run are dispatched by a running "mailsync serve".`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp(cfg, eventStore, logger)

	runID, syncErr := a.manager.SyncNow(ctx, args[0])
	if runID == "" {
		return syncErr
	}

	run, err := eventStore.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", run.ID, run.Status)
	fmt.Fprintf(out, "  processed=%d created=%d duplicates=%d failed=%d\n",
		run.Counts.Processed, run.Counts.Created, run.Counts.Duplicates, run.Counts.Failed)
	if run.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", run.Error)
	}
	return syncErr
}
