package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
)

// Resolver opens the dataset a run targets.
type Resolver func(ctx context.Context, datasetID string) (dataset.Dataset, error)

// Manager schedules delegated runs and executes them with the operator
// registry. It implements Service.
type Manager struct {
	store    Store
	registry *operators.Registry
	resolve  Resolver
	logger   *slog.Logger
	metrics  *metrics.Collector
	now      func() time.Time

	concurrency int
	slots       *semaphore.Weighted

	mu           sync.Mutex
	cancels      map[string]context.CancelFunc
	lastProgress map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records operator timings in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithConcurrency sets per-run sample parallelism and the number of runs
// executed at once.
func WithConcurrency(perRun, runs int) Option {
	return func(m *Manager) {
		if perRun > 0 {
			m.concurrency = perRun
		}
		if runs > 0 {
			m.slots = semaphore.NewWeighted(int64(runs))
		}
	}
}

// NewManager creates a run manager. registry and resolve may be nil for a
// manager that only schedules and reports runs.
func NewManager(store Store, registry *operators.Registry, resolve Resolver, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		registry:     registry,
		resolve:      resolve,
		logger:       slog.Default(),
		now:          time.Now,
		concurrency:  4,
		slots:        semaphore.NewWeighted(1),
		cancels:      make(map[string]context.CancelFunc),
		lastProgress: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Schedule records a new scheduled run for issue on datasetID.
func (m *Manager) Schedule(ctx context.Context, datasetID string, issue models.IssueType) (*models.Run, error) {
	if !issue.Valid() {
		return nil, fmt.Errorf("schedule run: unknown issue type %q", issue)
	}
	run := &models.Run{
		ID:          uuid.New().String(),
		DatasetID:   datasetID,
		IssueType:   issue,
		Operator:    issue.Operator(),
		State:       models.RunScheduled,
		ScheduledAt: m.now().UTC(),
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	m.logger.Info("run scheduled", "run_id", run.ID, "dataset_id", datasetID, "operator", run.Operator)
	return run, nil
}

// Get returns the run with id. Returns ErrRunNotFound for unknown ids.
func (m *Manager) Get(ctx context.Context, id string) (*models.Run, error) {
	run, err := m.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// List returns runs for datasetID, newest first.
func (m *Manager) List(ctx context.Context, datasetID string, limit int) ([]models.Run, error) {
	return m.store.ListRuns(ctx, datasetID, limit)
}

// Cancel marks a run failed and stops it if this process is executing it.
// Cancelling a finished run is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	run, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return nil
	}

	m.stop(id)
	m.finish(ctx, run, errors.New(CancelledMessage))
	return nil
}

// stop cancels the run's context if this process is executing it.
func (m *Manager) stop(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.cancels[id]; ok {
		cancel()
	}
}

// RunPending claims and executes scheduled runs until none are left.
// Returns the number of runs executed.
func (m *Manager) RunPending(ctx context.Context) (int, error) {
	var wg sync.WaitGroup
	n := 0
	for {
		if err := m.slots.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return n, err
		}
		run, err := m.store.ClaimScheduled(ctx, m.now().UTC())
		if err != nil || run == nil {
			m.slots.Release(1)
			wg.Wait()
			return n, err
		}
		n++
		wg.Add(1)
		go func(run *models.Run) {
			defer wg.Done()
			defer m.slots.Release(1)
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("run goroutine panicked", "run_id", run.ID, "panic", r)
					m.finish(context.Background(), run, fmt.Errorf("internal panic: %v", r))
				}
			}()
			_ = m.Execute(ctx, run)
		}(run)
	}
}

// Execute runs the operator for a claimed run and records the outcome.
func (m *Manager) Execute(ctx context.Context, run *models.Run) error {
	if m.registry == nil || m.resolve == nil {
		err := errors.New("manager cannot execute runs")
		m.finish(ctx, run, err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancels[run.ID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancels, run.ID)
		delete(m.lastProgress, run.ID)
		m.mu.Unlock()
	}()

	if run.State != models.RunRunning {
		now := m.now().UTC()
		run.State = models.RunRunning
		run.StartedAt = &now
		if err := m.store.UpdateRun(ctx, run); errors.Is(err, models.ErrRunFinished) {
			m.logger.Info("run finished before start", "run_id", run.ID)
			return nil
		} else if err != nil {
			m.logger.Warn("failed to set run running", "run_id", run.ID, "error", err)
		}
	}
	m.logger.Info("run started", "run_id", run.ID, "operator", run.Operator, "dataset_id", run.DatasetID)

	err := m.compute(runCtx, run)
	m.finish(ctx, run, err)
	return err
}

func (m *Manager) compute(ctx context.Context, run *models.Run) error {
	op, err := m.registry.Get(run.Operator)
	if err != nil {
		return err
	}
	ds, err := m.resolve(ctx, run.DatasetID)
	if err != nil {
		return fmt.Errorf("open dataset %s: %w", run.DatasetID, err)
	}

	done := m.metrics.Track(metrics.OpOperator)
	res, err := op.Compute(ctx, ds, operators.Options{
		Concurrency: m.concurrency,
		OnlyMissing: run.IssueType != models.IssueNearDuplicates,
		Logger:      m.logger,
		Progress: func(current, total int) {
			m.updateProgress(ctx, run, current, total)
		},
	})
	done(err)
	if err != nil {
		return err
	}
	m.logger.Info("run computed", "run_id", run.ID, "computed", res.Computed, "failed", res.Failed)
	return nil
}

// updateProgress records progress, persisting when 5 seconds have passed,
// every 10 samples and on the last sample. A run finished elsewhere, for
// example cancelled from another process, stops the local computation.
func (m *Manager) updateProgress(ctx context.Context, run *models.Run, current, total int) {
	m.mu.Lock()
	run.Progress = current
	run.Total = total
	last := m.lastProgress[run.ID]
	shouldPersist := m.now().Sub(last) > 5*time.Second || current%10 == 0 || current == total
	if shouldPersist {
		m.lastProgress[run.ID] = m.now()
	}
	snapshot := *run
	m.mu.Unlock()

	if shouldPersist {
		err := m.store.UpdateRun(ctx, &snapshot)
		switch {
		case errors.Is(err, models.ErrRunFinished):
			m.logger.Info("run finished elsewhere, stopping", "run_id", run.ID)
			m.stop(run.ID)
		case err != nil:
			m.logger.Warn("failed to persist run progress", "run_id", run.ID, "error", err)
		}
	}
}

// finish records a terminal state. A run already cancelled keeps that state.
func (m *Manager) finish(ctx context.Context, run *models.Run, runErr error) {
	if current, err := m.store.GetRun(ctx, run.ID); err == nil && current != nil && current.State.Terminal() {
		return
	}

	now := m.now().UTC()
	run.CompletedAt = &now
	if runErr != nil {
		msg := runErr.Error()
		run.State = models.RunFailed
		run.Error = &msg
	} else {
		run.State = models.RunCompleted
		run.Error = nil
	}

	if err := m.store.UpdateRun(ctx, run); errors.Is(err, models.ErrRunFinished) {
		return
	} else if err != nil {
		m.logger.Warn("failed to persist run result", "run_id", run.ID, "error", err)
	}
	if runErr != nil {
		m.logger.Error("run failed", "run_id", run.ID, "error", runErr)
		return
	}
	m.logger.Info("run completed", "run_id", run.ID)
}

// Work executes scheduled runs every interval until ctx is cancelled.
func (m *Manager) Work(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := m.RunPending(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("run pending failed", "error", err)
		} else if n > 0 {
			m.logger.Debug("executed runs", "count", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResumeIncomplete returns runs left running by a previous worker to the
// scheduled state so they are picked up again.
func (m *Manager) ResumeIncomplete(ctx context.Context) (int, error) {
	all, err := m.store.ListRuns(ctx, "", 1000)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, run := range all {
		if run.State != models.RunRunning && run.State != models.RunQueued {
			continue
		}
		run.State = models.RunScheduled
		run.StartedAt = nil
		run.Progress = 0
		if err := m.store.UpdateRun(ctx, &run); err != nil {
			m.logger.Warn("failed to resume run", "run_id", run.ID, "error", err)
			continue
		}
		resumed++
		m.logger.Info("resuming run", "run_id", run.ID, "operator", run.Operator)
	}
	if resumed == 0 {
		m.logger.Info("no incomplete runs to resume")
	}
	return resumed, nil
}
