package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/service"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult formats v as indented JSON.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", err.Error())
	}
	return TextResult(string(data))
}

// engineError turns an engine error into a tool error with a hint the
// caller can act on.
func engineError(err error) *mcp.CallToolResult {
	var hint string
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		hint = "The configured user permission does not allow this"
	case errors.Is(err, service.ErrNoFieldValues):
		hint = "Run start_scan for the issue first"
	case errors.Is(err, service.ErrInvalidTransition):
		hint = "Check the issue's status with issue_status"
	case errors.Is(err, operators.ErrUnsupportedMedia):
		hint = "Only image datasets can be scanned"
	case strings.Contains(err.Error(), "unknown issue type"):
		hint = "Valid issues: " + strings.Join(issueNames(), ", ")
	}
	return ErrorResult(err.Error(), hint)
}
