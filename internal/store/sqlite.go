package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/raphaelgruber/dataquality/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS execution_store (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS delegated_runs (
	id           TEXT PRIMARY KEY,
	dataset_id   TEXT NOT NULL,
	issue_type   TEXT NOT NULL,
	operator     TEXT NOT NULL,
	run_state    TEXT NOT NULL,
	progress     INTEGER NOT NULL DEFAULT 0,
	total        INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	scheduled_at DATETIME NOT NULL,
	started_at   DATETIME,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_state ON delegated_runs(run_state, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_runs_dataset ON delegated_runs(dataset_id);
`

// SQLite is a Repository and delegated run store backed by a SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers; SQLite allows one at a time anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) GetScanRecord(ctx context.Context, key string) (*models.ScanRecord, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM execution_store WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan record: %w", err)
	}
	return Decode(data)
}

func (s *SQLite) PutScanRecord(ctx context.Context, key string, rec *models.ScanRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_store (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, data, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put scan record: %w", err)
	}
	return nil
}

const runColumns = `id, dataset_id, issue_type, operator, run_state, progress, total, error, scheduled_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.Run, error) {
	var (
		run       models.Run
		issue     string
		state     string
		errText   sql.NullString
		started   sql.NullTime
		completed sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.DatasetID, &issue, &run.Operator, &state,
		&run.Progress, &run.Total, &errText, &run.ScheduledAt, &started, &completed); err != nil {
		return nil, err
	}
	run.IssueType = models.IssueType(issue)
	run.State = models.RunState(state)
	if errText.Valid {
		run.Error = &errText.String
	}
	if started.Valid {
		run.StartedAt = &started.Time
	}
	if completed.Valid {
		run.CompletedAt = &completed.Time
	}
	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// CreateRun inserts a new delegated run.
func (s *SQLite) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO delegated_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.DatasetID, string(run.IssueType), run.Operator, string(run.State),
		run.Progress, run.Total, nullString(run.Error), run.ScheduledAt.UTC(),
		nullTime(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun returns the run with id, or nil if none exists.
func (s *SQLite) GetRun(ctx context.Context, id string) (*models.Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM delegated_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// UpdateRun overwrites the mutable columns of a run that has not finished.
func (s *SQLite) UpdateRun(ctx context.Context, run *models.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delegated_runs
		SET run_state = ?, progress = ?, total = ?, error = ?, started_at = ?, completed_at = ?
		WHERE id = ? AND run_state NOT IN ('completed', 'failed')`,
		string(run.State), run.Progress, run.Total, nullString(run.Error),
		nullTime(run.StartedAt), nullTime(run.CompletedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		cur, err := s.GetRun(ctx, run.ID)
		if err != nil {
			return err
		}
		if cur != nil && cur.State.Terminal() {
			return fmt.Errorf("update run %s: %w", run.ID, models.ErrRunFinished)
		}
	}
	return nil
}

// ListRuns returns runs for datasetID (all datasets when empty), newest first.
func (s *SQLite) ListRuns(ctx context.Context, datasetID string, limit int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM delegated_runs
		WHERE ? = '' OR dataset_id = ?
		ORDER BY scheduled_at DESC LIMIT ?`,
		datasetID, datasetID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ClaimScheduled atomically moves the oldest scheduled run to running and
// returns it. Returns nil when nothing is scheduled.
func (s *SQLite) ClaimScheduled(ctx context.Context, now time.Time) (*models.Run, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		UPDATE delegated_runs SET run_state = ?, started_at = ?
		WHERE id = (
			SELECT id FROM delegated_runs WHERE run_state = ?
			ORDER BY scheduled_at LIMIT 1
		)
		RETURNING id`,
		string(models.RunRunning), now.UTC(), string(models.RunScheduled),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	return s.GetRun(ctx, id)
}
