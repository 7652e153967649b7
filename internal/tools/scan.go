package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// StartScanInput defines the input schema for the start_scan tool.
type StartScanInput struct {
	Issue     string `json:"issue" jsonschema:"Issue type to scan"`
	Execution string `json:"execution,omitempty" jsonschema:"immediate (default) runs in process, delegated schedules a worker run"`
	Dataset   string `json:"dataset,omitempty" jsonschema:"Dataset id (default: the configured dataset)"`
}

// ScanResult reports an issue after a scan or poll.
type ScanResult struct {
	Issue            models.IssueType `json:"issue"`
	Status           models.Status    `json:"status"`
	Count            int              `json:"count"`
	RunID            string           `json:"run_id,omitempty"`
	DelegationStatus string           `json:"delegation_status,omitempty"`
	Alert            string           `json:"alert,omitempty"`
}

func scanResult(ctx context.Context, e *service.Engine, issue models.IssueType) (ScanResult, error) {
	status, err := e.IssueStatus(ctx, issue)
	if err != nil {
		return ScanResult{}, err
	}
	count, err := e.IssueCount(ctx, issue)
	if err != nil {
		return ScanResult{}, err
	}
	st := e.State()
	comp := st.Computing[issue]
	return ScanResult{
		Issue:            issue,
		Status:           status,
		Count:            count,
		RunID:            comp.DelegationRunID,
		DelegationStatus: comp.DelegationStatus,
		Alert:            st.Alert,
	}, nil
}

// NewStartScanHandler creates the start_scan tool handler.
// Immediate scans block until the operator finished; delegated scans
// return the scheduled run id right away.
func NewStartScanHandler(deps *Dependencies) mcp.ToolHandlerFor[StartScanInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StartScanInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		option := input.Execution
		if option == "" {
			option = string(models.ExecutionImmediate)
		}
		if _, err := models.ParseExecutionType(option); err != nil {
			return ErrorResult(err.Error(), "Use immediate or delegated"), nil, nil
		}

		var result ScanResult
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			if err := e.Navigate(ctx, issue, service.ScreenPreLoad, false); err != nil {
				return err
			}
			runID, err := e.StartScan(ctx, issue, option)
			if err != nil {
				return err
			}
			result, err = scanResult(ctx, e, issue)
			if runID != "" {
				result.RunID = runID
			}
			return err
		})
		if err != nil {
			deps.Logger.Error("scan failed", "issue", issue, "execution", option, "error", err)
			return engineError(err), nil, nil
		}

		deps.Logger.Info("scan started", "issue", issue, "execution", option, "run_id", result.RunID)
		return JSONResult(result), nil, nil
	}
}

// NewCheckComputingHandler creates the check_computing tool handler.
func NewCheckComputingHandler(deps *Dependencies) mcp.ToolHandlerFor[DatasetInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input DatasetInput) (*mcp.CallToolResult, any, error) {
		results := []ScanResult{}
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			computing := e.State().Computing
			for _, issue := range e.State().ComputingIssues() {
				if err := e.CheckComputingStatus(ctx, issue, computing[issue].DelegationRunID); err != nil {
					return err
				}
				r, err := scanResult(ctx, e, issue)
				if err != nil {
					return err
				}
				results = append(results, r)
			}
			return nil
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		if len(results) == 0 {
			return TextResult("Nothing is computing"), nil, nil
		}
		return JSONResult(results), nil, nil
	}
}

// NewCancelScanHandler creates the cancel_scan tool handler.
func NewCancelScanHandler(deps *Dependencies) mcp.ToolHandlerFor[IssueInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IssueInput) (*mcp.CallToolResult, any, error) {
		issue, bad := parseIssue(input.Issue)
		if bad != nil {
			return bad, nil, nil
		}
		err := deps.withEngine(ctx, input.Dataset, func(e *service.Engine) error {
			return e.CancelCompute(ctx, issue)
		})
		if err != nil {
			return engineError(err), nil, nil
		}
		return TextResult("Cancelled " + issue.Words() + " scan"), nil, nil
	}
}
