package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

var statusCheckNew bool

var statusCmd = &cobra.Command{
	Use:   "status [issue]",
	Short: "Show the scan status of every issue",
	Long: `Show the home screen: one line per issue with its status, the number of
affected samples and where its card leads. With an issue, show that issue's
scan screen instead.

Examples:
  dataquality status
  dataquality status --check-new
  dataquality status brightness`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var checkNewCmd = &cobra.Command{
	Use:   "check-new",
	Short: "Count samples added since each issue was last scanned",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
			if err := e.CheckForNewSamples(ctx); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			st := e.State()
			for _, issue := range models.AllIssueTypes() {
				tr := st.NewSamples[issue]
				switch {
				case !tr.Checked:
					fmt.Fprintf(w, "%-18s not checked\n", issue.Title())
				case tr.Count == 0:
					fmt.Fprintf(w, "%-18s no new samples\n", issue.Title())
				default:
					fmt.Fprintf(w, "%-18s %d new samples\n", issue.Title(), tr.Count)
				}
			}
			return nil
		})
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusCheckNew, "check-new", false, "check for new samples first")
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withEngine(cmd, func(ctx context.Context, e *service.Engine) error {
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			issue, err := issueArg(args)
			if err != nil {
				return err
			}
			status, err := e.IssueStatus(ctx, issue)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s: %s\n", issue.Title(), statusStyle(status).Render(status.Label()))
			p, err := e.PreLoadState(ctx, issue)
			if err != nil {
				return err
			}
			printPreLoad(w, p)
			return nil
		}

		if statusCheckNew {
			if err := e.CheckForNewSamples(ctx); err != nil {
				return err
			}
		}
		cards, err := e.Summary(ctx)
		if err != nil {
			return err
		}
		printSummary(w, e.State().DatasetName, cards)
		return nil
	})
}
