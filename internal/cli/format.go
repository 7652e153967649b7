package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// printStats displays runtime statistics gathered during the command.
func printStats(cmd *cobra.Command, snap metrics.Snapshot) {
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "\nRuntime Statistics\n")
	fmt.Fprintf(w, "══════════════════\n")
	fmt.Fprintf(w, "Uptime: %.1f seconds\n", snap.UptimeSeconds)
	for _, op := range snap.Operations {
		fmt.Fprintf(w, "\n%s:\n", op.Name)
		fmt.Fprintf(w, "  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
		fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n", op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	}
}

func statusStyle(s models.Status) lipgloss.Style {
	st := lipgloss.NewStyle()
	switch s {
	case models.StatusComputing:
		return st.Foreground(defaultTheme.Status)
	case models.StatusNeedsReview:
		return st.Foreground(defaultTheme.Warning)
	case models.StatusReviewed:
		return st.Foreground(defaultTheme.Success)
	}
	return st.Foreground(defaultTheme.Hint)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func printSummary(w io.Writer, name string, cards []service.IssueSummary) {
	fmt.Fprintf(w, "Dataset: %s\n\n", name)
	fmt.Fprintf(w, "%-18s %-14s %-7s %-5s %-17s %s\n", "ISSUE", "STATUS", "COUNT", "NEW", "LAST SCAN", "NEXT")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, c := range cards {
		var last *time.Time
		if c.LastScan != nil {
			last = &c.LastScan.Timestamp
		}
		count, added := "-", ""
		if c.Status == models.StatusNeedsReview || c.Status == models.StatusReviewed {
			count = fmt.Sprint(c.Count)
		}
		if c.NewCount > 0 {
			added = fmt.Sprintf("+%d", c.NewCount)
		}
		next := string(c.Target.Screen)
		if c.Target.Recompute {
			next += " (recompute)"
		}
		label := fmt.Sprintf("%-14s", c.Status.Label())
		fmt.Fprintf(w, "%-18s %s %-7s %-5s %-17s %s\n",
			c.Title, statusStyle(c.Status).Render(label), count, added, formatTime(last), next)
	}
}

func printPreLoad(w io.Writer, p service.PreLoad) {
	fmt.Fprintf(w, "%s\n", p.Label)
	fmt.Fprintf(w, "  Samples to scan: %d\n", p.ScanCount)
	fmt.Fprintf(w, "  Estimated wait:  %s\n", service.FormatWait(p.WaitSeconds))
	if p.IsComputing {
		fmt.Fprintf(w, "  Execution:       %s\n", p.ExecutionType)
		if p.RunID != "" {
			fmt.Fprintf(w, "  Run:             %s (%s)\n", p.RunID, orDash(p.DelegationStatus))
		}
	}
	if p.Disabled {
		fmt.Fprintf(w, "  %s\n", p.Tooltip)
	}
}

// printHistogram draws the histogram sideways, one bar per bin, with bins
// inside the thresholds highlighted.
func printHistogram(w io.Writer, h *service.Histogram, width int) {
	peak := 0
	for _, c := range h.Counts {
		peak = max(peak, c)
	}
	in := lipgloss.NewStyle().Foreground(defaultTheme.Warning)
	out := lipgloss.NewStyle().Foreground(defaultTheme.Hint)

	fmt.Fprintf(w, "%s  range [%g, %g]  threshold [%g, %g]\n\n", h.Issue.Title(), h.Min, h.Max, h.Lower, h.Upper)
	for i, c := range h.Counts {
		n := 0
		if peak > 0 {
			n = c * width / peak
		}
		inLen := 0
		if c > 0 {
			inLen = n * h.In[i] / c
		}
		bar := in.Render(strings.Repeat("█", inLen)) + out.Render(strings.Repeat("█", n-inLen))
		fmt.Fprintf(w, "%9.3f │%s %d\n", h.Edges[i], bar, c)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
