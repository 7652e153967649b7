package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/models"
)

var (
	runsAll   bool
	runsLimit int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List or inspect delegated runs",
	Long: `List delegated scan runs or inspect a specific run by ID.

Examples:
  dataquality runs list          # Runs of the current dataset
  dataquality runs list --all    # Runs of every dataset
  dataquality runs show abc123   # Details for run abc123`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List delegated runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id := ""
		if !runsAll {
			ds, err := deps.OpenDataset(ctx, cfg.DatasetID)
			if err != nil {
				return err
			}
			id = ds.ID()
		}
		list, err := deps.Runs.List(ctx, id, runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		printRuns(cmd.OutOrStdout(), list)
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a delegated run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := deps.Runs.Get(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		printRun(cmd.OutOrStdout(), run)
		return nil
	},
}

func init() {
	runsListCmd.Flags().BoolVar(&runsAll, "all", false, "list runs of every dataset")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs")
	runsCmd.AddCommand(runsListCmd, runsShowCmd)
}

func printRuns(w io.Writer, list []models.Run) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-12s %-18s %-10s %-10s %s\n", "ID", "DATASET", "ISSUE", "STATE", "PROGRESS", "SCHEDULED")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------------------")
	for _, run := range list {
		progress := ""
		if run.Total > 0 {
			progress = fmt.Sprintf("%d/%d", run.Progress, run.Total)
		}
		fmt.Fprintf(w, "%-36s %-12s %-18s %-10s %-10s %s\n",
			run.ID, run.DatasetID, run.IssueType.Title(), run.State, progress, run.ScheduledAt.Local().Format("15:04:05"))
	}
}

func printRun(w io.Writer, run *models.Run) {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "  Dataset: %s\n", run.DatasetID)
	fmt.Fprintf(w, "  Issue: %s\n", run.IssueType.Title())
	fmt.Fprintf(w, "  Operator: %s\n", run.Operator)
	fmt.Fprintf(w, "  State: %s\n", run.State)
	if run.Total > 0 {
		fmt.Fprintf(w, "  Progress: %d/%d\n", run.Progress, run.Total)
	}
	fmt.Fprintf(w, "  Scheduled: %s\n", run.ScheduledAt.Format(time.RFC3339))
	if run.StartedAt != nil {
		fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", run.CompletedAt.Format(time.RFC3339))
		if run.StartedAt != nil {
			fmt.Fprintf(w, "  Duration: %s\n", run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond))
		}
	}
	if run.Error != nil {
		fmt.Fprintf(w, "  Error: %s\n", *run.Error)
	}
}
