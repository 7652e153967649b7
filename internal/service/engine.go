// Package service provides the data quality scan engine.
//
// An Engine is bound to one dataset for the lifetime of a panel session. It
// keeps the session's navigation and threshold state in memory and reads and
// writes the dataset's ScanRecord as a whole through a store.Repository.
// Engine methods are not safe for concurrent use; a Poller serializes the
// user events and scheduled checks that drive it.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/runs"
	"github.com/raphaelgruber/dataquality/internal/store"
)

var (
	// ErrIssueTypeRequired is returned when a caller omits the issue type.
	// It indicates a caller defect and is never recovered from.
	ErrIssueTypeRequired = errors.New("issue type must be set")

	// ErrPermissionDenied is returned by mutating calls the user lacks access for.
	ErrPermissionDenied = errors.New("you do not have sufficient permission")

	// ErrNoFieldValues indicates an issue's field carries no values to analyze.
	ErrNoFieldValues = errors.New("no field values")

	// ErrInvalidTransition is returned when a status change skips a lifecycle step.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDatasetMismatch is returned when a session meets another dataset's state.
	ErrDatasetMismatch = errors.New("session bound to another dataset")

	// ErrNoOperators is returned when a scan is started without an operator registry.
	ErrNoOperators = errors.New("no operators configured")
)

// DefaultPanelVersion is appended to the dataset id to form the store key.
const DefaultPanelVersion = "v1"

// RunService is the delegated-operation service the engine schedules and
// polls runs with. runs.Manager implements it.
type RunService interface {
	runs.Service
	Schedule(ctx context.Context, datasetID string, issue models.IssueType) (*models.Run, error)
}

// Engine tracks per-issue scan state for a single dataset.
type Engine struct {
	store     store.Repository
	ds        dataset.Dataset
	runs      RunService
	operators *operators.Registry
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time

	panelVersion     string
	bins             int
	immediateTimeout time.Duration
	concurrency      int
	permission       Permission

	state Session
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records dataset query timings in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRuns sets the delegated-operation service.
func WithRuns(r RunService) Option {
	return func(e *Engine) { e.runs = r }
}

// WithOperators sets the registry used for immediate scans.
func WithOperators(r *operators.Registry) Option {
	return func(e *Engine) { e.operators = r }
}

// WithPanelVersion overrides the store key suffix.
func WithPanelVersion(v string) Option {
	return func(e *Engine) { e.panelVersion = v }
}

// WithHistogramBins sets the number of histogram bins stored per scan.
func WithHistogramBins(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bins = n
		}
	}
}

// WithImmediateTimeout sets how long an immediate scan may stay computing.
func WithImmediateTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.immediateTimeout = d
		}
	}
}

// WithConcurrency bounds per-sample parallelism of immediate scans.
func WithConcurrency(n int) Option {
	return func(e *Engine) { e.concurrency = n }
}

// WithPermission sets the acting user's dataset access level.
func WithPermission(p Permission) Option {
	return func(e *Engine) { e.permission = p }
}

// New creates an engine for ds persisting to repo. Call Load before use.
func New(repo store.Repository, ds dataset.Dataset, opts ...Option) *Engine {
	e := &Engine{
		store:            repo,
		ds:               ds,
		logger:           slog.Default(),
		now:              time.Now,
		panelVersion:     DefaultPanelVersion,
		bins:             50,
		immediateTimeout: 10 * time.Minute,
		concurrency:      4,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("dataset_id", ds.ID())
	e.state = newSession(ds.Name())
	return e
}

// Dataset returns the dataset the engine is bound to.
func (e *Engine) Dataset() dataset.Dataset {
	return e.ds
}

// Key returns the store key of the engine's scan record.
func (e *Engine) Key() string {
	return models.StoreKey(e.ds.ID(), e.panelVersion)
}

// State returns a copy of the session state.
func (e *Engine) State() Session {
	return e.state.clone()
}

// Load resets the session and reads the scan record, writing the default
// record on the dataset's first open.
func (e *Engine) Load(ctx context.Context) error {
	e.state = newSession(e.ds.Name())

	rec, err := e.store.GetScanRecord(ctx, e.Key())
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.state.FirstOpen = true
		rec = models.NewScanRecord()
		if err := e.store.PutScanRecord(ctx, e.Key(), rec); err != nil {
			return fmt.Errorf("create scan record: %w", err)
		}
		e.logger.Info("scan record created", "key", e.Key())
	case err != nil:
		return fmt.Errorf("load scan record: %w", err)
	}

	for _, t := range models.AllIssueTypes() {
		e.state.Config[t] = rec.Config[t]
		e.state.Computing[t] = rec.Computing[t]
	}
	e.state.loaded = true
	return nil
}

// Unload flushes the session's computing state so in-flight scans survive
// the session, and clears the view.
func (e *Engine) Unload(ctx context.Context) error {
	defer func() {
		e.state.View = dataset.AllView()
		e.state.loaded = false
	}()

	rec, err := e.store.GetScanRecord(ctx, e.Key())
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unload: %w", err)
	}
	for t, c := range e.state.Computing {
		rec.Computing[t] = c
	}
	return e.put(ctx, rec)
}

// Bound reports whether the session belongs to a dataset named name. A
// session that meets another dataset refuses to render its state.
func (e *Engine) Bound(name string) error {
	if e.state.DatasetName != name {
		return fmt.Errorf("%w: %q (session: %q)", ErrDatasetMismatch, name, e.state.DatasetName)
	}
	return nil
}

// Supported reports whether the dataset's media can be scanned.
func (e *Engine) Supported() bool {
	return e.ds.MediaType() == dataset.MediaImage
}

// record reads the current scan record.
func (e *Engine) record(ctx context.Context) (*models.ScanRecord, error) {
	rec, err := e.store.GetScanRecord(ctx, e.Key())
	if errors.Is(err, store.ErrNotFound) {
		return models.NewScanRecord(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scan record: %w", err)
	}
	return rec, nil
}

func (e *Engine) put(ctx context.Context, rec *models.ScanRecord) error {
	if err := e.store.PutScanRecord(ctx, e.Key(), rec); err != nil {
		return fmt.Errorf("write scan record: %w", err)
	}
	return nil
}

// query times a dataset query.
func (e *Engine) query() func(error) {
	return e.metrics.Track(metrics.OpDatasetQuery)
}

func (e *Engine) countInRange(ctx context.Context, field string, lower, upper float64) (n int, err error) {
	done := e.query()
	defer func() { done(err) }()
	return e.ds.CountInRange(ctx, field, lower, upper)
}

func (e *Engine) bounds(ctx context.Context, field string) (minV, maxV float64, err error) {
	done := e.query()
	defer func() { done(err) }()

	minV, maxV, err = e.ds.Bounds(ctx, field)
	if errors.Is(err, dataset.ErrNoValues) || errors.Is(err, dataset.ErrFieldMissing) {
		return 0, 0, fmt.Errorf("%w: %s: %w", ErrNoFieldValues, field, err)
	}
	return minV, maxV, err
}

func validIssue(issue models.IssueType) error {
	if issue == "" {
		return ErrIssueTypeRequired
	}
	if !issue.Valid() {
		return fmt.Errorf("unknown issue type: %q", issue)
	}
	return nil
}
