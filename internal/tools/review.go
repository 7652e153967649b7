package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// SetIssueStatusInput defines the input schema for the set_issue_status tool.
type SetIssueStatusInput struct {
	Issue   string `json:"issue" jsonschema:"Issue type"`
	Status  string `json:"status" jsonschema:"reviewed or needs_review"`
	Dataset string `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// NewSetIssueStatusHandler creates the set_issue_status tool handler.
func NewSetIssueStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[SetIssueStatusInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SetIssueStatusInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		to := models.Status(input.Status)
		if to != models.StatusReviewed && to != models.StatusNeedsReview {
			return ErrorResult(fmt.Sprintf("Cannot set status %q", input.Status), "Use reviewed or needs_review"), nil, nil
		}

		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			return e.ChangeIssueStatus(ctx, issue, to)
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		deps.Logger.Info("issue status changed", "issue", issue, "status", to)
		return TextResult(fmt.Sprintf("%s: %s", issue.Title(), to.Label())), nil, nil
	}
}

// NewResetIssueHandler creates the reset_issue tool handler.
func NewResetIssueHandler(deps *Dependencies) mcp.ToolHandlerFor[IssueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IssueInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if disabled, tip := e.Disabled(service.PermissionEdit); disabled {
				return fmt.Errorf("%w: %s", service.ErrPermissionDenied, tip)
			}
			return e.ResetIssue(ctx, issue)
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		return TextResult(fmt.Sprintf("%s: %s", issue.Title(), models.StatusNotComputed.Label())), nil, nil
	}
}

// TagSamplesInput defines the input schema for the tag_samples tool.
type TagSamplesInput struct {
	Issue     string   `json:"issue" jsonschema:"Issue type whose view is tagged"`
	Tags      []string `json:"tags" jsonschema:"Tags to add"`
	SampleIDs []string `json:"sample_ids,omitempty" jsonschema:"Limit tagging to these samples (default: the whole view)"`
	Dataset   string   `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// TagSamplesResult is the response from the tag_samples tool.
type TagSamplesResult struct {
	Tagged  int    `json:"tagged"`
	Message string `json:"message"`
}

// NewTagSamplesHandler creates the tag_samples tool handler.
func NewTagSamplesHandler(deps *Dependencies) mcp.ToolHandlerFor[TagSamplesInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TagSamplesInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		if len(input.Tags) == 0 {
			return ErrorResult("At least one tag is required", "Provide tags array"), nil, nil
		}

		var result TagSamplesResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if _, err := analysis(ctx, e, issue, false); err != nil {
				return err
			}
			e.Select(input.SampleIDs)
			text, err := e.TagHelperText(ctx)
			if err != nil {
				return err
			}
			n, err := e.TagSamples(ctx, input.Tags)
			if err != nil {
				return err
			}
			result = TagSamplesResult{Tagged: n, Message: text}
			return nil
		})
		if err != nil {
			return analysisError(err), nil, nil
		}
		deps.Logger.Info("samples tagged", "issue", issue, "tags", input.Tags, "count", result.Tagged)
		return JSONResult(result), nil, nil
	}
}
