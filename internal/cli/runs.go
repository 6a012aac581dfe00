package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <connection-id>",
	Short: "Show recent ingestion runs of a connection",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if _, err := eventStore.GetConnection(ctx, args[0]); err != nil {
		return err
	}
	runs, err := eventStore.ListRuns(ctx, args[0], runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-8s %-19s %9s %7s %10s %6s  %s\n",
		"ID", "STATUS", "STARTED", "PROCESSED", "CREATED", "DUPLICATES", "FAILED", "ERROR")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s %-8s %-19s %9d %7d %10d %6d  %s\n",
			r.ID, r.Status, r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Counts.Processed, r.Counts.Created, r.Counts.Duplicates, r.Counts.Failed, r.Error)
	}
	return nil
}
