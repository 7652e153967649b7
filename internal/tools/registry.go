package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	// Ping tool - connectivity check
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	// Home screen
	mcp.AddTool(server, &mcp.Tool{
		Name:        "dataset_summary",
		Description: "List every issue type with its status, flagged sample count, new samples and last scan",
	}, NewSummaryHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "issue_status",
		Description: "Show one issue's status and scan screen state: existing field values, estimated wait, delegation status",
	}, NewIssueStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_new_samples",
		Description: "Count samples added since each issue's last scan",
	}, NewCheckNewSamplesHandler(deps))

	// Scanning
	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_scan",
		Description: "Scan the dataset for an issue, in process (immediate) or on the worker (delegated)",
	}, NewStartScanHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "check_computing",
		Description: "Check every computing issue once and process finished delegated runs",
	}, NewCheckComputingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_scan",
		Description: "Cancel an issue's computation and return it to not computed",
	}, NewCancelScanHandler(deps))

	// Analysis
	mcp.AddTool(server, &mcp.Tool{
		Name:        "analyze_issue",
		Description: "Open an issue's analysis: the histogram and threshold counts, or the exact duplicate groups",
	}, NewAnalyzeHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_threshold",
		Description: "Move a histogram issue's threshold and report the samples inside it, optionally saving it",
	}, NewSetThresholdHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_threshold",
		Description: "Restore a histogram issue's factory threshold",
	}, NewResetThresholdHandler(deps))

	// Review
	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_issue_status",
		Description: "Mark an issue reviewed or move it back to needs_review",
	}, NewSetIssueStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reset_issue",
		Description: "Discard an issue's results; computed field values are kept",
	}, NewResetIssueHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tag_samples",
		Description: "Tag the samples in an issue's current view, or a selection of them",
	}, NewTagSamplesHandler(deps))

	// Delegated runs
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_runs",
		Description: "List delegated scan runs, newest first",
	}, NewListRunsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_run",
		Description: "Retrieve a delegated run by its ID",
	}, NewGetRunHandler(deps))
}
