package db

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// runRow is the stored form of a delegated run.
type runRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	DatasetID   string                 `json:"dataset_id"`
	IssueType   string                 `json:"issue_type"`
	Operator    string                 `json:"operator"`
	State       string                 `json:"run_state"`
	Progress    int                    `json:"progress"`
	Total       int                    `json:"total"`
	Error       *string                `json:"error,omitempty"`
	ScheduledAt time.Time              `json:"scheduled_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func (r runRow) toModel() (models.Run, error) {
	id, err := models.RecordIDString(r.ID)
	if err != nil {
		return models.Run{}, err
	}
	return models.Run{
		ID:          id,
		DatasetID:   r.DatasetID,
		IssueType:   models.IssueType(r.IssueType),
		Operator:    r.Operator,
		State:       models.RunState(r.State),
		Progress:    r.Progress,
		Total:       r.Total,
		Error:       r.Error,
		ScheduledAt: r.ScheduledAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}, nil
}

func runVars(run *models.Run) map[string]any {
	return map[string]any{
		"id":           run.ID,
		"dataset_id":   run.DatasetID,
		"issue_type":   string(run.IssueType),
		"operator":     run.Operator,
		"run_state":    string(run.State),
		"progress":     run.Progress,
		"total":        run.Total,
		"error":        run.Error,
		"scheduled_at": run.ScheduledAt,
		"started_at":   run.StartedAt,
		"completed_at": run.CompletedAt,
	}
}

// CreateRun inserts a new delegated run.
func (c *Client) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("delegated_run", $id) SET
			dataset_id = $dataset_id,
			issue_type = $issue_type,
			operator = $operator,
			run_state = $run_state,
			progress = $progress,
			total = $total,
			error = $error,
			scheduled_at = $scheduled_at,
			started_at = $started_at,
			completed_at = $completed_at
	`, runVars(run))
	if err != nil {
		return fmt.Errorf("create run: %w", wrapQueryError(err))
	}
	return nil
}

// GetRun retrieves a run by ID.
// Returns nil if not found.
func (c *Client) GetRun(ctx context.Context, id string) (*models.Run, error) {
	results, err := surrealdb.Query[[]runRow](ctx, c.db, `
		SELECT * FROM type::record("delegated_run", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get run: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	run, err := (*results)[0].Result[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// UpdateRun overwrites the mutable fields of an existing run that has not
// finished. Returns ErrNotFound for unknown ids and models.ErrRunFinished
// for completed or failed runs.
func (c *Client) UpdateRun(ctx context.Context, run *models.Run) error {
	results, err := surrealdb.Query[[]runRow](ctx, c.db, `
		UPDATE type::record("delegated_run", $id) SET
			run_state = $run_state,
			progress = $progress,
			total = $total,
			error = $error,
			started_at = $started_at,
			completed_at = $completed_at
		WHERE run_state NOTINSIDE ["completed", "failed"]
		RETURN AFTER
	`, runVars(run))
	if err != nil {
		return fmt.Errorf("update run: %w", wrapQueryError(err))
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return nil
	}
	cur, err := c.GetRun(ctx, run.ID)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("update run %s: %w", run.ID, ErrNotFound)
	}
	return fmt.Errorf("update run %s: %w", run.ID, models.ErrRunFinished)
}

// ListRuns returns a dataset's runs, newest first. An empty datasetID lists all.
func (c *Client) ListRuns(ctx context.Context, datasetID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}

	where := ""
	vars := map[string]any{"limit": limit}
	if datasetID != "" {
		where = "WHERE dataset_id = $dataset_id"
		vars["dataset_id"] = datasetID
	}

	sql := fmt.Sprintf(`
		SELECT * FROM delegated_run %s ORDER BY scheduled_at DESC LIMIT $limit
	`, where)

	results, err := surrealdb.Query[[]runRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.Run{}, nil
	}

	runs := make([]models.Run, 0, len((*results)[0].Result))
	for _, row := range (*results)[0].Result {
		run, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ClaimScheduled moves the oldest due scheduled run to queued and returns it.
// Returns nil when no run is due or another worker won the claim.
func (c *Client) ClaimScheduled(ctx context.Context, now time.Time) (*models.Run, error) {
	candidates, err := surrealdb.Query[[]runRow](ctx, c.db, `
		SELECT * FROM delegated_run
		WHERE run_state = "scheduled" AND scheduled_at <= $now
		ORDER BY scheduled_at ASC LIMIT 1
	`, map[string]any{"now": now})
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", wrapQueryError(err))
	}
	if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
		return nil, nil
	}

	id, err := models.RecordIDString((*candidates)[0].Result[0].ID)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}

	// The WHERE guard makes the claim a no-op if another worker got there first.
	results, err := surrealdb.Query[[]runRow](ctx, c.db, `
		UPDATE type::record("delegated_run", $id) SET run_state = "queued"
		WHERE run_state = "scheduled"
		RETURN AFTER
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}

	run, err := (*results)[0].Result[0].toModel()
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return &run, nil
}
