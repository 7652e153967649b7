package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/scheduler"
	"github.com/raphaelgruber/dataquality/internal/service"
)

var (
	scanDelegate bool
	scanWatch    bool
	pollFollow   bool
)

var scanCmd = &cobra.Command{
	Use:   "scan <issue>",
	Short: "Scan the dataset for an issue",
	Long: `Compute an issue's field over the dataset. By default the operator runs in
this process and only samples missing the field are scanned. With --delegate
the scan is scheduled for dataquality-worker and polled.

Examples:
  dataquality scan brightness
  dataquality scan near_duplicates --delegate --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Check the status of computing issues",
	Long: `Check every computing issue once: delegated runs that finished are
processed into results, failed runs are recomputed locally, and immediate
scans that outlived the timeout are reset. With --follow, keep polling on the
configured schedule until nothing is computing.`,
	Args: cobra.NoArgs,
	RunE: runPoll,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <issue>",
	Short: "Cancel an issue's computation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueArg(args)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if err := e.CancelCompute(ctx, issue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s scan\n", issue.Words())
			return nil
		})
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanDelegate, "delegate", false, "schedule the scan on the worker")
	scanCmd.Flags().BoolVar(&scanWatch, "watch", false, "follow a delegated run until it finishes")
	pollCmd.Flags().BoolVarP(&pollFollow, "follow", "f", false, "keep polling until nothing is computing")
}

func runScan(cmd *cobra.Command, args []string) error {
	issue, err := issueArg(args)
	if err != nil {
		return err
	}
	option := string(models.ExecutionImmediate)
	if scanDelegate {
		option = string(models.ExecutionDelegated)
	}

	return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
		w := cmd.OutOrStdout()
		if err := e.Navigate(ctx, issue, service.ScreenPreLoad, false); err != nil {
			return err
		}

		runID, err := e.StartScan(ctx, issue, option)
		if err != nil {
			return err
		}

		if runID != "" {
			fmt.Fprintf(w, "Scheduled run %s for %s\n", runID, issue.Words())
			if !scanWatch {
				fmt.Fprintf(w, "Use 'dataquality watch %s' to follow it.\n", runID)
				return nil
			}
			if err := watchRun(cmd, runID); err != nil {
				return err
			}
			if err := e.CheckComputingStatus(ctx, issue, runID); err != nil {
				return err
			}
		}

		return printIssueResult(ctx, cmd, e, issue)
	})
}

func printIssueResult(ctx context.Context, cmd *cobra.Command, e *service.Engine, issue models.IssueType) error {
	w := cmd.OutOrStdout()
	status, err := e.IssueStatus(ctx, issue)
	if err != nil {
		return err
	}
	if status == models.StatusComputing {
		fmt.Fprintf(w, "%s: still computing\n", issue.Title())
		return nil
	}
	if alert := e.State().Alert; alert != service.AlertNone {
		fmt.Fprintf(w, "Alert: %s\n", alert)
	}
	n, err := e.IssueCount(ctx, issue)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s, %d samples affected\n", issue.Title(), status.Label(), n)
	return nil
}

func runPoll(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
		if pollFollow {
			return follow(ctx, cmd, e)
		}

		w := cmd.OutOrStdout()
		computing := e.State().Computing
		issues := e.State().ComputingIssues()
		if len(issues) == 0 {
			fmt.Fprintln(w, "Nothing is computing")
			return nil
		}
		for _, issue := range issues {
			if err := e.CheckComputingStatus(ctx, issue, computing[issue].DelegationRunID); err != nil {
				return err
			}
			if err := printIssueResult(ctx, cmd, e, issue); err != nil {
				return err
			}
		}
		return nil
	})
}

// follow drives the engine with a poller until no issue is computing.
func follow(ctx context.Context, cmd *cobra.Command, e *service.Engine) error {
	sched, err := service.ParsePollSchedule(cfg.PollSchedule)
	if err != nil {
		return fmt.Errorf("poll schedule %q: %w", cfg.PollSchedule, err)
	}
	session := scheduler.NewSession(ctx, deps.Logger)
	p := service.NewPoller(e, session, sched, cfg.NewSampleDelay)
	defer func() { _ = p.Close(context.Background()) }()

	if err := p.Start(); err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	last := map[models.IssueType]string{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		var st service.Session
		if err := p.Do(func(context.Context) error {
			st = e.State()
			return nil
		}); err != nil {
			if errors.Is(err, scheduler.ErrClosed) {
				return ctx.Err()
			}
			return err
		}

		issues := st.ComputingIssues()
		for _, issue := range issues {
			if s := st.Computing[issue].DelegationStatus; s != last[issue] {
				fmt.Fprintf(w, "%s: %s\n", issue.Title(), orDash(s))
				last[issue] = s
			}
		}
		if len(issues) == 0 {
			if len(last) == 0 {
				fmt.Fprintln(w, "Nothing is computing")
			}
			for issue := range last {
				var perr error
				_ = p.Do(func(ctx context.Context) error {
					perr = printIssueResult(ctx, cmd, e, issue)
					return nil
				})
				if perr != nil {
					return perr
				}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
