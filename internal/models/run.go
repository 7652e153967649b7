package models

import (
	"errors"
	"time"
)

// ErrRunFinished is returned by run stores when an update targets a run
// that already reached a terminal state.
var ErrRunFinished = errors.New("run already finished")

// RunState is the lifecycle state of a delegated operator run.
type RunState string

const (
	RunScheduled RunState = "scheduled"
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the run has finished, successfully or not.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is a persisted delegated operator run.
type Run struct {
	ID          string     `json:"id"`
	DatasetID   string     `json:"dataset_id"`
	IssueType   IssueType  `json:"issue_type"`
	Operator    string     `json:"operator"`
	State       RunState   `json:"run_state"`
	Progress    int        `json:"progress"`
	Total       int        `json:"total"`
	Error       *string    `json:"error,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
