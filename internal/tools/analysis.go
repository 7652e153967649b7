package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// AnalyzeInput defines the input schema for the analyze_issue tool.
type AnalyzeInput struct {
	Issue          string `json:"issue" jsonschema:"Issue type to analyze"`
	IncludeSamples bool   `json:"include_samples,omitempty" jsonschema:"Also list the sample ids in the current view"`
	Dataset        string `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// AnalysisResult is the response from the analysis tools.
type AnalysisResult struct {
	Issue      models.IssueType        `json:"issue"`
	Histogram  *service.Histogram      `json:"histogram,omitempty"`
	Duplicates []models.DuplicateGroup `json:"duplicates,omitempty"`
	// Current counts samples inside the live threshold, Saved inside the
	// stored one.
	Current int      `json:"current_count"`
	Saved   int      `json:"saved_count"`
	Samples []string `json:"samples,omitempty"`
	Notice  string   `json:"notice,omitempty"`
}

var errNotAnalyzable = errors.New("issue has no analysis yet")

// analysis opens issue's analysis and collects its plot and counts.
func analysis(ctx context.Context, e *service.Engine, issue models.IssueType, samples bool) (*AnalysisResult, error) {
	if err := openAnalysis(ctx, e, issue); err != nil {
		return nil, err
	}
	if e.State().Screen != service.ScreenAnalysis {
		return nil, fmt.Errorf("%s: %w", issue, errNotAnalyzable)
	}
	return collect(ctx, e, issue, samples)
}

func collect(ctx context.Context, e *service.Engine, issue models.IssueType, samples bool) (*AnalysisResult, error) {
	res := &AnalysisResult{Issue: issue}
	var err error
	if issue.IsHistogram() {
		if res.Histogram, err = e.HistogramData(ctx); err != nil {
			return nil, err
		}
	} else if res.Duplicates, err = e.DuplicateGroups(ctx); err != nil {
		return nil, err
	}

	if res.Current, err = e.CurrentIssueCount(ctx, issue); err != nil {
		return nil, err
	}
	if res.Saved, err = e.IssueCount(ctx, issue); err != nil {
		return nil, err
	}
	if samples {
		if res.Samples, err = e.ViewSamples(ctx); err != nil {
			return nil, err
		}
	}
	if disabled, tip := e.Disabled(service.PermissionEdit); disabled {
		res.Notice = tip
	}
	return res, nil
}

func analysisError(err error) *mcp.CallToolResult {
	if errors.Is(err, errNotAnalyzable) {
		return ErrorResult(err.Error(), "Run start_scan for the issue first")
	}
	return engineError(err)
}

// NewAnalyzeHandler creates the analyze_issue tool handler.
func NewAnalyzeHandler(deps *Dependencies) mcp.ToolHandlerFor[AnalyzeInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AnalyzeInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		var result *AnalysisResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) (err error) {
			result, err = analysis(ctx, e, issue, input.IncludeSamples)
			return err
		})
		if err != nil {
			return analysisError(err), nil, nil
		}
		return JSONResult(result), nil, nil
	}
}

// SetThresholdInput defines the input schema for the set_threshold tool.
type SetThresholdInput struct {
	Issue   string  `json:"issue" jsonschema:"Histogram issue type"`
	Lower   float64 `json:"lower" jsonschema:"Lower bound, inclusive"`
	Upper   float64 `json:"upper" jsonschema:"Upper bound, inclusive"`
	Save    bool    `json:"save,omitempty" jsonschema:"Store the threshold and its count as the issue's result"`
	Dataset string  `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// NewSetThresholdHandler creates the set_threshold tool handler.
func NewSetThresholdHandler(deps *Dependencies) mcp.ToolHandlerFor[SetThresholdInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SetThresholdInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		if !issue.IsHistogram() {
			return ErrorResult(fmt.Sprintf("%s has no threshold", issue), "Use analyze_issue to list duplicate groups"), nil, nil
		}

		var result *AnalysisResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if _, err := analysis(ctx, e, issue, false); err != nil {
				return err
			}
			if err := e.SetThresholds(ctx, input.Lower, input.Upper); err != nil {
				return err
			}
			if input.Save {
				if err := e.SaveThreshold(ctx); err != nil {
					return err
				}
			}
			var err error
			result, err = collect(ctx, e, issue, false)
			return err
		})
		if err != nil {
			return analysisError(err), nil, nil
		}
		deps.Logger.Debug("threshold set", "issue", issue, "lower", input.Lower, "upper", input.Upper, "saved", input.Save)
		return JSONResult(result), nil, nil
	}
}

// NewResetThresholdHandler creates the reset_threshold tool handler.
func NewResetThresholdHandler(deps *Dependencies) mcp.ToolHandlerFor[IssueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IssueInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		var result *AnalysisResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if _, err := analysis(ctx, e, issue, false); err != nil {
				return err
			}
			if err := e.ResetThreshold(ctx); err != nil {
				return err
			}
			var err error
			result, err = collect(ctx, e, issue, false)
			return err
		})
		if err != nil {
			return analysisError(err), nil, nil
		}
		return JSONResult(result), nil, nil
	}
}
