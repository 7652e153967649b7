package tools

import (
	"context"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// DatasetInput selects the dataset a tool works on.
type DatasetInput struct {
	Dataset string `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// IssueInput selects one issue of a dataset.
type IssueInput struct {
	Issue   string `json:"issue" jsonschema:"Issue type, e.g. brightness or exact_duplicates"`
	Dataset string `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// IssueCard is the home card of one issue.
type IssueCard struct {
	Issue     models.IssueType     `json:"issue"`
	Title     string               `json:"title"`
	Status    models.Status        `json:"status"`
	Label     string               `json:"label"`
	Count     int                  `json:"count"`
	NewCount  int                  `json:"new_samples,omitempty"`
	Execution models.ExecutionType `json:"execution_type,omitempty"`
	RunID     string               `json:"run_id,omitempty"`
	LastScan  *time.Time           `json:"last_scan,omitempty"`
	Opens     service.Screen       `json:"opens"`
}

// SummaryResult is the response from the dataset_summary tool.
type SummaryResult struct {
	Dataset string      `json:"dataset"`
	Issues  []IssueCard `json:"issues"`
}

func issueNames() []string {
	all := models.AllIssueTypes()
	out := make([]string, len(all))
	for i, t := range all {
		out[i] = string(t)
	}
	return out
}

func parseIssue(s string) (models.IssueType, *mcp.CallToolResult) {
	if s == "" {
		return "", ErrorResult("Issue is required", "Valid issues: "+strings.Join(issueNames(), ", "))
	}
	issue, err := models.ParseIssueType(s)
	if err != nil {
		return "", engineError(err)
	}
	return issue, nil
}

func cards(list []service.IssueSummary) []IssueCard {
	out := make([]IssueCard, 0, len(list))
	for _, s := range list {
		c := IssueCard{
			Issue:     s.Issue,
			Title:     s.Title,
			Status:    s.Status,
			Label:     s.Status.Label(),
			Count:     s.Count,
			NewCount:  s.NewCount,
			Execution: s.Computing.ExecutionType,
			RunID:     s.Computing.DelegationRunID,
			Opens:     s.Target.Screen,
		}
		if s.LastScan != nil && !s.LastScan.Timestamp.IsZero() {
			ts := s.LastScan.Timestamp
			c.LastScan = &ts
		}
		out = append(out, c)
	}
	return out
}

// NewSummaryHandler creates the dataset_summary tool handler.
func NewSummaryHandler(deps *Dependencies) mcp.ToolHandlerFor[DatasetInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DatasetInput) (*mcp.CallToolResult, any, error) {
		var result SummaryResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			list, err := e.Summary(ctx)
			if err != nil {
				return err
			}
			result = SummaryResult{Dataset: e.Dataset().ID(), Issues: cards(list)}
			return nil
		})
		if err != nil {
			deps.Logger.Error("summary failed", "dataset", input.Dataset, "error", err)
			return engineError(err), nil, nil
		}
		return JSONResult(result), nil, nil
	}
}

// IssueStatusResult is the response from the issue_status tool.
type IssueStatusResult struct {
	Issue  models.IssueType `json:"issue"`
	Status models.Status    `json:"status"`
	Label  string           `json:"label"`
	Count  int              `json:"count"`
	Scan   service.PreLoad  `json:"scan"`
	Wait   string           `json:"estimated_wait,omitempty"`
}

// NewIssueStatusHandler creates the issue_status tool handler.
func NewIssueStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[IssueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IssueInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}

		var result IssueStatusResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			status, err := e.IssueStatus(ctx, issue)
			if err != nil {
				return err
			}
			count, err := e.IssueCount(ctx, issue)
			if err != nil {
				return err
			}
			p, err := e.PreLoadState(ctx, issue)
			if err != nil {
				return err
			}
			result = IssueStatusResult{
				Issue:  issue,
				Status: status,
				Label:  status.Label(),
				Count:  count,
				Scan:   p,
			}
			if p.WaitSeconds > 0 {
				result.Wait = service.FormatWait(p.WaitSeconds)
			}
			return nil
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		return JSONResult(result), nil, nil
	}
}

// NewSamplesEntry reports the new-sample check of one issue.
type NewSamplesEntry struct {
	Issue      models.IssueType `json:"issue"`
	Checked    bool             `json:"checked"`
	NewSamples int              `json:"new_samples"`
}

// NewCheckNewSamplesHandler creates the check_new_samples tool handler.
func NewCheckNewSamplesHandler(deps *Dependencies) mcp.ToolHandlerFor[DatasetInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DatasetInput) (*mcp.CallToolResult, any, error) {
		var result []NewSamplesEntry
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if err := e.CheckForNewSamples(ctx); err != nil {
				return err
			}
			trackers := e.State().NewSamples
			for _, issue := range models.AllIssueTypes() {
				tr := trackers[issue]
				result = append(result, NewSamplesEntry{Issue: issue, Checked: tr.Checked, NewSamples: tr.Count})
			}
			return nil
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		return JSONResult(result), nil, nil
	}
}
