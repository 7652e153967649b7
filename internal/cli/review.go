package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

var (
	reviewReopen bool
	tagSampleIDs []string
)

var reviewCmd = &cobra.Command{
	Use:   "review <issue>",
	Short: "Mark an issue reviewed",
	Long: `Mark an issue that needs review as reviewed, or move a reviewed issue back
to needs review with --reopen.

Examples:
  dataquality review brightness
  dataquality review brightness --reopen`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueArg(args)
		if err != nil {
			return err
		}
		to := models.StatusReviewed
		if reviewReopen {
			to = models.StatusNeedsReview
		}
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if err := e.ChangeIssueStatus(ctx, issue, to); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", issue.Title(), statusStyle(to).Render(to.Label()))
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset <issue>",
	Short: "Discard an issue's results",
	Long: `Discard an issue's results and return it to not computed. The computed
field values on the samples are kept; the next scan reuses them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueArg(args)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if disabled, tip := e.Disabled(service.PermissionEdit); disabled {
				return fmt.Errorf("%w: %s", service.ErrPermissionDenied, tip)
			}
			if err := e.ResetIssue(ctx, issue); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", issue.Title(), models.StatusNotComputed.Label())
			return nil
		})
	},
}

var tagCmd = &cobra.Command{
	Use:   "tag <issue> <tag>...",
	Short: "Tag the samples an issue flags",
	Long: `Tag the samples in an issue's current view: those inside the saved
threshold, or the duplicated samples for exact duplicates. --sample limits
tagging to a selection.

Examples:
  dataquality tag brightness too_bright
  dataquality tag exact_duplicates dup --sample s1 --sample s3`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issue, err := issueArg(args)
		if err != nil {
			return err
		}
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if err := openAnalysis(ctx, e, issue); err != nil {
				return err
			}
			if e.State().Screen != service.ScreenAnalysis {
				return fmt.Errorf("%s: %w", issue, service.ErrNoFieldValues)
			}
			e.Select(tagSampleIDs)

			w := cmd.OutOrStdout()
			text, err := e.TagHelperText(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, text)

			n, err := e.TagSamples(ctx, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Tagged %d samples\n", n)
			return nil
		})
	},
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewReopen, "reopen", false, "move the issue back to needs review")
	tagCmd.Flags().StringSliceVarP(&tagSampleIDs, "sample", "s", nil, "sample ids to tag (default: the whole view)")
}
