package models

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of one issue type on a dataset.
type Status string

const (
	StatusNotComputed Status = "not_computed"
	StatusComputing   Status = "computing"
	StatusNeedsReview Status = "needs_review"
	StatusReviewed    Status = "reviewed"
)

var statusLabels = map[Status]string{
	StatusNotComputed: "Not Started",
	StatusComputing:   "Scanning Dataset",
	StatusNeedsReview: "In Review",
	StatusReviewed:    "Reviewed",
}

// Label returns the badge text shown for the status.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStatus accepts a canonical status name or its badge label.
func ParseStatus(s string) (Status, error) {
	trimmed := strings.TrimSpace(s)
	for st, label := range statusLabels {
		if strings.EqualFold(trimmed, string(st)) || strings.EqualFold(trimmed, label) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status: %q", s)
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. Staying put is always allowed, and any state may fall back to
// not_computed (failure, timeout, or cleared results).
func CanTransition(from, to Status) bool {
	if from == to || to == StatusNotComputed {
		return true
	}
	switch from {
	case StatusNotComputed, "":
		return to == StatusComputing
	case StatusComputing:
		return to == StatusNeedsReview
	case StatusNeedsReview:
		return to == StatusReviewed
	}
	return false
}

// ExecutionType records how a scan's computation is being run.
type ExecutionType string

const (
	ExecutionNone      ExecutionType = ""
	ExecutionImmediate ExecutionType = "execute"
	ExecutionDelegated ExecutionType = "delegate_execution"
)

// ParseExecutionType maps a compute option id to an ExecutionType.
// "immediate" is accepted for "execute"; "delegate" and "delegated" for
// "delegate_execution".
func ParseExecutionType(s string) (ExecutionType, error) {
	switch strings.TrimSpace(s) {
	case "execute", "immediate", "":
		return ExecutionImmediate, nil
	case "delegate", "delegated", "delegate_execution":
		return ExecutionDelegated, nil
	}
	return ExecutionNone, fmt.Errorf("unknown execution option: %q", s)
}
