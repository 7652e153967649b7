package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/duplicates"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/threshold"
)

// changeComputing records issue's computing state in the session and the
// scan record, and moves its status when status is non-empty.
func (e *Engine) changeComputing(ctx context.Context, issue models.IssueType, comp models.Computing, status models.Status) error {
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	if status != "" {
		if err := e.transition(rec, issue, status); err != nil {
			return err
		}
	}
	e.state.Computing[issue] = comp
	for t, c := range e.state.Computing {
		rec.Computing[t] = c
	}
	return e.put(ctx, rec)
}

// startComputing moves issue to computing, writing rec after each step so
// every stored status follows the lifecycle. Issues in review restart from
// not computed.
func (e *Engine) startComputing(ctx context.Context, rec *models.ScanRecord, issue models.IssueType) error {
	var steps []models.Status
	switch rec.Status[issue] {
	case models.StatusComputing:
		return nil
	case models.StatusNeedsReview, models.StatusReviewed:
		steps = []models.Status{models.StatusNotComputed, models.StatusComputing}
	default:
		steps = []models.Status{models.StatusComputing}
	}
	for _, st := range steps {
		if err := e.transition(rec, issue, st); err != nil {
			return err
		}
		if err := e.put(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// SelectComputeOption marks issue computing before any work begins.
// option is "execute" or "delegate"/"delegate_execution"; runID identifies
// the delegated run.
func (e *Engine) SelectComputeOption(ctx context.Context, issue models.IssueType, option, runID string) error {
	if issue == "" {
		issue = e.state.Issue
	}
	if err := validIssue(issue); err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	exec, err := models.ParseExecutionType(option)
	if err != nil {
		return err
	}

	if tr := e.state.NewSamples[issue]; tr.Count > 0 {
		tr.RescanCompleted = true
		e.state.NewSamples[issue] = tr
	}

	now := e.now().UTC()
	comp := models.Computing{
		IsComputing:   true,
		ExecutionType: exec,
		StartedAt:     &now,
	}
	if exec == models.ExecutionDelegated {
		comp.DelegationRunID = runID
	}
	return e.beginComputing(ctx, issue, comp)
}

func (e *Engine) beginComputing(ctx context.Context, issue models.IssueType, comp models.Computing) error {
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	if err := e.startComputing(ctx, rec, issue); err != nil {
		return err
	}
	e.state.Computing[issue] = comp
	for t, c := range e.state.Computing {
		rec.Computing[t] = c
	}
	if err := e.put(ctx, rec); err != nil {
		return err
	}
	e.logger.Info("scan started", "issue", issue, "execution", comp.ExecutionType, "run_id", comp.DelegationRunID)
	return nil
}

// HandleComputation handles a compute operator's success. When
// checkExisting is set and every sample already carries the field, results
// are processed right away. A run id records a delegated run to poll;
// without one the operator ran immediately and its results are processed.
func (e *Engine) HandleComputation(ctx context.Context, issue models.IssueType, runID string, checkExisting bool) error {
	if err := validIssue(issue); err != nil {
		return err
	}

	if checkExisting {
		done := e.query()
		missing, err := e.ds.CountExists(ctx, issue.Field(), false)
		done(err)
		if err != nil {
			return fmt.Errorf("count samples missing %s: %w", issue.Field(), err)
		}
		if missing == 0 {
			now := e.now().UTC()
			comp := models.Computing{IsComputing: true, ExecutionType: models.ExecutionImmediate, StartedAt: &now}
			if err := e.beginComputing(ctx, issue, comp); err != nil {
				return err
			}
			return e.ProcessComputation(ctx, issue, false)
		}
	}

	if runID != "" {
		comp := e.state.Computing[issue]
		comp.IsComputing = true
		comp.ExecutionType = models.ExecutionDelegated
		comp.DelegationRunID = runID
		comp.DelegationStatus = ""
		if comp.StartedAt == nil {
			now := e.now().UTC()
			comp.StartedAt = &now
		}
		return e.beginComputing(ctx, issue, comp)
	}
	return e.ProcessComputation(ctx, issue, false)
}

// ProcessComputation derives issue's results from its field: a histogram
// and in-threshold count, or the exact-duplicate groups. The scan is
// recorded and the issue moves to needs review. Unless recompute is set the
// session then opens the issue's analysis screen.
//
// Nothing is written when the results cannot be derived.
func (e *Engine) ProcessComputation(ctx context.Context, issue models.IssueType, recompute bool) error {
	if err := validIssue(issue); err != nil {
		return err
	}
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}

	switch issue.Kind() {
	case models.KindDuplicates:
		done := e.query()
		res, err := duplicates.Scan(ctx, e.ds, issue.Field())
		done(err)
		if err != nil {
			return fmt.Errorf("group duplicates: %w", err)
		}
		r := rec.Results[issue]
		r.DupFilehash = res.Hashes
		r.DupSampleIDs = res.Groups
		rec.Results[issue] = r
		rec.Counts[issue] = res.Count
	default:
		counts, edges, err := e.histogram(ctx, issue)
		if err != nil {
			return err
		}
		lower, upper, err := e.plotDefaults(ctx, rec, issue)
		if err != nil {
			return err
		}
		n, err := e.countInRange(ctx, issue.Field(), lower, upper)
		if err != nil {
			return fmt.Errorf("count %s in threshold: %w", issue, err)
		}
		rec.Results[issue] = models.Results{Counts: counts, Edges: edges}
		rec.Counts[issue] = n
	}

	size, err := e.ds.Count(ctx)
	if err != nil {
		return fmt.Errorf("count samples: %w", err)
	}
	rec.LastScan[issue] = &models.LastScan{Timestamp: e.now().UTC(), DatasetSize: size}

	if tr := e.state.NewSamples[issue]; tr.Count > 0 && tr.RescanCompleted {
		e.state.NewSamples[issue] = models.NewSampleTracker{Checked: true, RescanCompleted: true}
	}

	prev := rec.Computing[issue]
	e.state.Computing[issue] = models.Computing{
		ExecutionType:   prev.ExecutionType,
		DelegationRunID: prev.DelegationRunID,
	}
	for t, c := range e.state.Computing {
		rec.Computing[t] = c
	}

	if err := e.startComputing(ctx, rec, issue); err != nil {
		return err
	}
	if err := e.transition(rec, issue, models.StatusNeedsReview); err != nil {
		return err
	}
	if err := e.put(ctx, rec); err != nil {
		return err
	}
	e.logger.Info("scan processed", "issue", issue, "count", rec.Counts[issue], "dataset_size", size)

	if recompute {
		return nil
	}
	return e.Navigate(ctx, issue, ScreenAnalysis, false)
}

func (e *Engine) histogram(ctx context.Context, issue models.IssueType) (counts []int, edges []float64, err error) {
	done := e.query()
	defer func() { done(err) }()

	counts, edges, err = e.ds.Histogram(ctx, issue.Field(), e.bins)
	if errors.Is(err, dataset.ErrFieldMissing) || errors.Is(err, dataset.ErrNoValues) {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNoFieldValues, issue.Field(), err)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("histogram %s: %w", issue.Field(), err)
	}
	return counts, edges, nil
}

// plotDefaults resolves issue's configured thresholds against the field's
// observed bounds.
func (e *Engine) plotDefaults(ctx context.Context, rec *models.ScanRecord, issue models.IssueType) (float64, float64, error) {
	minV, maxV, err := e.bounds(ctx, issue.Field())
	if err != nil {
		return 0, 0, err
	}
	lower, upper := threshold.PlotDefaults(rec.Config[issue], minV, maxV)
	return lower, upper, nil
}

// StartScan runs issue's compute operator. Immediate scans run to
// completion before returning; delegated scans are scheduled on the run
// service and polled. Returns the delegated run id.
func (e *Engine) StartScan(ctx context.Context, issue models.IssueType, option string) (string, error) {
	if err := validIssue(issue); err != nil {
		return "", err
	}
	if err := e.require(PermissionEdit); err != nil {
		return "", err
	}
	if !e.Supported() {
		return "", fmt.Errorf("%w: %s", operators.ErrUnsupportedMedia, e.ds.MediaType())
	}
	exec, err := models.ParseExecutionType(option)
	if err != nil {
		return "", err
	}

	if exec == models.ExecutionDelegated {
		if e.runs == nil {
			return "", errors.New("delegated execution is not configured")
		}
		run, err := e.runs.Schedule(ctx, e.ds.ID(), issue)
		if err != nil {
			return "", fmt.Errorf("schedule %s: %w", issue, err)
		}
		if err := e.SelectComputeOption(ctx, issue, string(exec), run.ID); err != nil {
			return "", err
		}
		return run.ID, e.HandleComputation(ctx, issue, run.ID, false)
	}

	if e.operators == nil {
		return "", ErrNoOperators
	}
	op, err := e.operators.ForIssue(issue)
	if err != nil {
		return "", err
	}
	if err := e.SelectComputeOption(ctx, issue, string(exec), ""); err != nil {
		return "", err
	}

	res, err := op.Compute(ctx, e.ds, operators.Options{
		Concurrency: e.concurrency,
		OnlyMissing: issue != models.IssueNearDuplicates,
		Logger:      e.logger,
	})
	if err != nil {
		if cerr := e.cancel(ctx, issue); cerr != nil {
			e.logger.Warn("failed to reset after scan error", "issue", issue, "error", cerr)
		}
		return "", fmt.Errorf("compute %s: %w", issue, err)
	}
	e.logger.Info("operator finished", "issue", issue, "computed", res.Computed, "failed", res.Failed)
	return "", e.HandleComputation(ctx, issue, "", false)
}

// CancelCompute abandons issue's computation. A delegated run is asked to
// stop on the run service; the operator may still finish on its own.
// Immediate scans run inside the event that started them, so only the
// local state is reset.
func (e *Engine) CancelCompute(ctx context.Context, issue models.IssueType) error {
	if err := validIssue(issue); err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	return e.cancel(ctx, issue)
}

func (e *Engine) cancel(ctx context.Context, issue models.IssueType) error {
	comp := e.state.Computing[issue]
	if comp.ExecutionType == models.ExecutionDelegated && comp.DelegationRunID != "" && e.runs != nil {
		if err := e.runs.Cancel(ctx, comp.DelegationRunID); err != nil {
			e.logger.Warn("failed to cancel delegated run", "issue", issue, "run_id", comp.DelegationRunID, "error", err)
		}
	}
	e.logger.Info("scan cancelled", "issue", issue)
	return e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed)
}

// CheckComputingStatus polls issue's in-flight computation.
//
// Immediate scans that stay computing past the timeout are abandoned.
// Delegated runs are looked up by id: completed runs are processed into
// results, failed runs are reset and processed locally once, with an alert
// when that fails too, and runs still in progress only update the
// displayed delegation status.
func (e *Engine) CheckComputingStatus(ctx context.Context, issue models.IssueType, runID string) error {
	if err := validIssue(issue); err != nil {
		return err
	}
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	comp := rec.Computing[issue]

	if comp.ExecutionType != models.ExecutionDelegated {
		return e.checkImmediate(ctx, rec, issue)
	}

	if runID == "" {
		runID = comp.DelegationRunID
	}
	if e.runs == nil {
		e.logger.Warn("no run service to poll", "issue", issue, "run_id", runID)
		return e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed)
	}
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		e.logger.Warn("delegated run lookup failed", "issue", issue, "run_id", runID, "error", err)
		return e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed)
	}

	switch run.State {
	case models.RunFailed:
		e.logger.Warn("delegated run failed", "issue", issue, "run_id", runID)
		if err := e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed); err != nil {
			return err
		}
		if err := e.ProcessComputation(ctx, issue, true); err != nil {
			e.logger.Error("local recomputation failed", "issue", issue, "error", err)
			e.state.Alert = fmt.Sprintf(alertFailedFmt, issue)
			if e.state.Issue == issue {
				return e.Navigate(ctx, issue, ScreenHome, false)
			}
			return nil
		}
		return e.afterDelegation(ctx, issue)

	case models.RunCompleted:
		done := models.Computing{
			ExecutionType:    models.ExecutionDelegated,
			DelegationRunID:  runID,
			DelegationStatus: string(models.RunCompleted),
			StartedAt:        comp.StartedAt,
		}
		if err := e.changeComputing(ctx, issue, done, ""); err != nil {
			return err
		}
		if err := e.ProcessComputation(ctx, issue, true); err != nil {
			e.state.Alert = fmt.Sprintf(alertFailedFmt, issue)
			if rerr := e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed); rerr != nil {
				e.logger.Warn("failed to reset issue", "issue", issue, "error", rerr)
			}
			return fmt.Errorf("process %s results: %w", issue, err)
		}
		// ProcessComputation clears the delegation status; keep it visible.
		if err := e.changeComputing(ctx, issue, done, ""); err != nil {
			return err
		}
		return e.afterDelegation(ctx, issue)

	default:
		comp.IsComputing = true
		comp.ExecutionType = models.ExecutionDelegated
		comp.DelegationRunID = runID
		comp.DelegationStatus = string(run.State)
		return e.changeComputing(ctx, issue, comp, "")
	}
}

// afterDelegation opens analysis when the user is waiting on the issue's
// pre-load screen.
func (e *Engine) afterDelegation(ctx context.Context, issue models.IssueType) error {
	if e.state.Issue == issue && e.state.Screen == ScreenPreLoad {
		return e.Navigate(ctx, issue, ScreenAnalysis, false)
	}
	return nil
}

func (e *Engine) checkImmediate(ctx context.Context, rec *models.ScanRecord, issue models.IssueType) error {
	comp := rec.Computing[issue]
	if !comp.IsComputing && rec.Status[issue] != models.StatusComputing {
		return nil
	}

	start := comp.StartedAt
	if start == nil {
		ls := rec.LastScan[issue]
		if ls == nil || ls.Timestamp.IsZero() {
			now := e.now().UTC()
			rec.LastScan[issue] = &models.LastScan{Timestamp: now}
			if ls != nil {
				rec.LastScan[issue].DatasetSize = ls.DatasetSize
			}
			return e.put(ctx, rec)
		}
		start = &ls.Timestamp
	}

	if e.now().After(start.Add(e.immediateTimeout)) {
		e.logger.Warn("immediate scan timed out", "issue", issue, "started", *start, "timeout", e.immediateTimeout)
		return e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed)
	}
	return nil
}
