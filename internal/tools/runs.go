package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// ListRunsInput defines the input schema for the list_runs tool.
type ListRunsInput struct {
	Dataset string `json:"dataset,omitempty" jsonschema:"Dataset id (default: every dataset)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of runs (default 20)"`
}

// NewListRunsHandler creates the list_runs tool handler.
func NewListRunsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListRunsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListRunsInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		list, err := deps.App.Runs.List(ctx, input.Dataset, limit)
		if err != nil {
			deps.Logger.Error("list runs failed", "dataset", input.Dataset, "error", err)
			return ErrorResult("Failed to list runs", "Store may be unavailable"), nil, nil
		}
		if list == nil {
			list = []models.Run{}
		}
		return JSONResult(list), nil, nil
	}
}

// GetRunInput defines the input schema for the get_run tool.
type GetRunInput struct {
	ID string `json:"id" jsonschema:"Run ID"`
}

// NewGetRunHandler creates the get_run tool handler.
func NewGetRunHandler(deps *Dependencies) mcp.ToolHandlerFor[GetRunInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetRunInput) (*mcp.CallToolResult, any, error) {
		if input.ID == "" {
			return ErrorResult("Run ID is required", "Use list_runs to find run IDs"), nil, nil
		}
		run, err := deps.App.Runs.Get(ctx, input.ID)
		if err != nil {
			return ErrorResult(err.Error(), "Use list_runs to find run IDs"), nil, nil
		}
		return JSONResult(run), nil, nil
	}
}
