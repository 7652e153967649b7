// Package runs tracks delegated operator runs and executes them out of process.
package runs

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// ErrRunNotFound indicates the run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// CancelledMessage is the error recorded on runs cancelled by a user.
const CancelledMessage = "cancelled"

// Store persists delegated runs. GetRun and ClaimScheduled return nil
// without error when there is nothing to return. UpdateRun never
// overwrites a completed or failed run; it returns models.ErrRunFinished.
type Store interface {
	CreateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	UpdateRun(ctx context.Context, run *models.Run) error
	ListRuns(ctx context.Context, datasetID string, limit int) ([]models.Run, error)
	ClaimScheduled(ctx context.Context, now time.Time) (*models.Run, error)
}

// Service is the delegated-operation service polled by the scan engine.
type Service interface {
	Get(ctx context.Context, runID string) (*models.Run, error)
	Cancel(ctx context.Context, runID string) error
}
