package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

var (
	analyzeSamples bool
	analyzeWidth   int

	thresholdLower float64
	thresholdUpper float64
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <issue>",
	Short: "Show an issue's analysis",
	Long: `Open an issue's analysis: the histogram with the current threshold for
histogram issues, the duplicate groups for exact duplicates. Issues that were
never scanned are computed from existing field values when possible.

Examples:
  dataquality analyze brightness
  dataquality analyze entropy --samples`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Adjust an issue's threshold",
	Long: `Adjust the threshold of a histogram issue.

Examples:
  dataquality threshold set brightness --lower 0.1 --upper 0.3
  dataquality threshold save brightness --lower 0.1 --upper 0.3
  dataquality threshold reset brightness`,
}

var thresholdSetCmd = &cobra.Command{
	Use:   "set <issue>",
	Short: "Preview the number of samples inside a threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withThreshold(cmd, args, func(ctx context.Context, e *service.Engine) error {
			return nil
		})
	},
}

var thresholdSaveCmd = &cobra.Command{
	Use:   "save <issue>",
	Short: "Save a threshold as the issue's threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withThreshold(cmd, args, func(ctx context.Context, e *service.Engine) error {
			return e.SaveThreshold(ctx)
		})
	},
}

var thresholdResetCmd = &cobra.Command{
	Use:   "reset <issue>",
	Short: "Restore the factory threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withThreshold(cmd, args, func(ctx context.Context, e *service.Engine) error {
			return e.ResetThreshold(ctx)
		})
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List groups of exact duplicate samples",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if err := openAnalysis(ctx, e, models.IssueExactDuplicates); err != nil {
				return err
			}
			return printDuplicates(ctx, cmd, e)
		})
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeSamples, "samples", false, "list the samples in the current view")
	analyzeCmd.Flags().IntVar(&analyzeWidth, "width", 40, "histogram bar width")

	for _, c := range []*cobra.Command{thresholdSetCmd, thresholdSaveCmd} {
		c.Flags().Float64Var(&thresholdLower, "lower", 0, "lower bound")
		c.Flags().Float64Var(&thresholdUpper, "upper", 0, "upper bound")
	}
	thresholdSetCmd.MarkFlagsRequiredTogether("lower", "upper")
	thresholdSaveCmd.MarkFlagsRequiredTogether("lower", "upper")

	thresholdCmd.AddCommand(thresholdSetCmd, thresholdSaveCmd, thresholdResetCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	issue, err := issueArg(args)
	if err != nil {
		return err
	}
	return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
		if err := openAnalysis(ctx, e, issue); err != nil {
			return err
		}
		if e.State().Screen != service.ScreenAnalysis {
			p, err := e.PreLoadState(ctx, issue)
			if err != nil {
				return err
			}
			printPreLoad(cmd.OutOrStdout(), p)
			fmt.Fprintf(cmd.OutOrStdout(), "Run 'dataquality scan %s' first.\n", issue)
			return nil
		}

		if issue.IsHistogram() {
			h, err := e.HistogramData(ctx)
			if err != nil {
				return err
			}
			printHistogram(cmd.OutOrStdout(), h, analyzeWidth)
			if err := printCounts(ctx, cmd, e, issue); err != nil {
				return err
			}
		} else if err := printDuplicates(ctx, cmd, e); err != nil {
			return err
		}

		if analyzeSamples {
			ids, err := e.ViewSamples(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nSamples in view (%d):\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", id)
			}
		}
		return nil
	})
}

// withThreshold opens issue's analysis, applies --lower/--upper when given,
// runs fn and reports the resulting counts.
func withThreshold(cmd *cobra.Command, args []string, fn func(ctx context.Context, e *service.Engine) error) error {
	issue, err := issueArg(args)
	if err != nil {
		return err
	}
	if !issue.IsHistogram() {
		return fmt.Errorf("%s has no threshold", issue)
	}
	return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
		if err := openAnalysis(ctx, e, issue); err != nil {
			return err
		}
		if e.State().Screen != service.ScreenAnalysis {
			return fmt.Errorf("%s: %w, run 'dataquality scan %s' first", issue, service.ErrNoFieldValues, issue)
		}
		if cmd.Flags().Changed("lower") {
			if err := e.SetThresholds(ctx, thresholdLower, thresholdUpper); err != nil {
				return err
			}
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		return printCounts(ctx, cmd, e, issue)
	})
}

func printCounts(ctx context.Context, cmd *cobra.Command, e *service.Engine, issue models.IssueType) error {
	live, err := e.CurrentIssueCount(ctx, issue)
	if err != nil {
		return err
	}
	saved, err := e.IssueCount(ctx, issue)
	if err != nil {
		return err
	}
	lower, upper, _ := e.State().Thresholds()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nThreshold [%g, %g]: %d samples (saved: %d)\n", lower, upper, live, saved)
	if disabled, tip := e.Disabled(service.PermissionEdit); disabled {
		fmt.Fprintln(w, tip)
	}
	return nil
}

func printDuplicates(ctx context.Context, cmd *cobra.Command, e *service.Engine) error {
	groups, err := e.DuplicateGroups(ctx)
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if len(groups) == 0 {
		fmt.Fprintln(w, "No exact duplicates found")
		return nil
	}
	total := 0
	for _, g := range groups {
		fmt.Fprintf(w, "%s  %s\n", g.Hash, strings.Join(g.SampleIDs, ", "))
		total += len(g.SampleIDs)
	}
	fmt.Fprintf(w, "\n%d groups, %d samples\n", len(groups), total)
	return nil
}
