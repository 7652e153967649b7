package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
)

// Navigate moves the session to next for issue.
//
// Leaving an analysis screen while its issue is in review marks the issue
// reviewed. Entering analysis optionally recomputes results, resolves the
// histogram thresholds and moves the issue into review. When the issue's
// field has no values the issue is reset if its results are stale and the
// session lands on the pre-load screen instead.
func (e *Engine) Navigate(ctx context.Context, issue models.IssueType, next Screen, recompute bool) error {
	if next == "" {
		next = ScreenHome
	}
	if next != ScreenHome {
		if err := validIssue(issue); err != nil {
			return err
		}
	}

	prevScreen, prevIssue := e.state.Screen, e.state.Issue
	if prevScreen == ScreenAnalysis && prevIssue != "" && (next != ScreenAnalysis || issue != prevIssue) {
		if err := e.leaveAnalysis(ctx, prevIssue); err != nil {
			return err
		}
	}
	if issue != prevIssue {
		e.state.clearThresholds()
	}

	e.state.Issue = issue
	e.state.Screen = next
	e.state.FirstOpen = false

	switch next {
	case ScreenHome:
		e.state.clearThresholds()
		e.state.Issue = ""
		e.state.View = dataset.AllView()
		return nil
	case ScreenPreLoad:
		return nil
	case ScreenAnalysis:
	default:
		return fmt.Errorf("unknown screen: %q", next)
	}

	if err := e.enterAnalysis(ctx, issue, recompute); err != nil {
		if !errors.Is(err, ErrNoFieldValues) {
			return err
		}
		e.logger.Warn("analysis unavailable", "issue", issue, "error", err)

		reset, rerr := e.ShouldResetIssue(ctx, issue)
		if rerr != nil {
			return rerr
		}
		if reset {
			if err := e.ResetIssue(ctx, issue); err != nil {
				return err
			}
			e.state.Screen = ScreenPreLoad
			return nil
		}
		status, serr := e.IssueStatus(ctx, issue)
		if serr != nil {
			return serr
		}
		if status == models.StatusNotComputed {
			// Never scanned: nothing to reset, offer the scan instead.
			e.state.Screen = ScreenPreLoad
			return nil
		}
		return err
	}
	return e.ChangeView(ctx, issue)
}

func (e *Engine) leaveAnalysis(ctx context.Context, issue models.IssueType) error {
	if MissingAccess(e.permission, PermissionEdit) {
		return nil
	}
	status, err := e.IssueStatus(ctx, issue)
	if err != nil {
		return err
	}
	if status != models.StatusNeedsReview {
		return nil
	}
	return e.markReviewed(ctx, issue)
}

func (e *Engine) enterAnalysis(ctx context.Context, issue models.IssueType, recompute bool) error {
	status, err := e.IssueStatus(ctx, issue)
	if err != nil {
		return err
	}
	if status == models.StatusNotComputed {
		recompute = true
	}
	if recompute {
		if err := e.ProcessComputation(ctx, issue, true); err != nil {
			return err
		}
	}

	if issue.IsHistogram() {
		if err := e.setHistDefaults(ctx, issue); err != nil {
			return err
		}
	}

	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	if rec.Status[issue] == models.StatusComputing {
		if err := e.transition(rec, issue, models.StatusNeedsReview); err != nil {
			return err
		}
		return e.put(ctx, rec)
	}
	return nil
}

// ShouldResetIssue reports whether issue has review results but no sample
// carries its field anymore.
func (e *Engine) ShouldResetIssue(ctx context.Context, issue models.IssueType) (bool, error) {
	status, err := e.IssueStatus(ctx, issue)
	if err != nil {
		return false, err
	}
	if status != models.StatusNeedsReview && status != models.StatusReviewed {
		return false, nil
	}

	done := e.query()
	n, err := e.ds.CountExists(ctx, issue.Field(), true)
	done(err)
	if err != nil {
		return false, fmt.Errorf("count %s values: %w", issue.Field(), err)
	}
	if n == 0 {
		e.logger.Info("issue results are stale", "issue", issue)
		return true, nil
	}
	return false, nil
}

// ResetIssue discards issue's results and returns it to not computed.
func (e *Engine) ResetIssue(ctx context.Context, issue models.IssueType) error {
	if err := e.changeComputing(ctx, issue, models.Computing{}, models.StatusNotComputed); err != nil {
		return err
	}

	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	rec.Results[issue] = models.Results{}
	rec.LastScan[issue] = nil
	return e.put(ctx, rec)
}

// Rescan clears the current issue's computing state and opens its
// pre-load screen.
func (e *Engine) Rescan(ctx context.Context) error {
	issue := e.state.Issue
	if err := validIssue(issue); err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	if err := e.changeComputing(ctx, issue, models.Computing{}, ""); err != nil {
		return err
	}
	return e.Navigate(ctx, issue, ScreenPreLoad, false)
}

// Target is where a home card's arrow leads.
type Target struct {
	Screen    Screen
	Recompute bool
}

// NavigationTarget returns the screen the home card of issue opens.
func (e *Engine) NavigationTarget(ctx context.Context, issue models.IssueType) (Target, error) {
	if err := validIssue(issue); err != nil {
		return Target{}, err
	}
	rec, err := e.record(ctx)
	if err != nil {
		return Target{}, err
	}
	total, err := e.ds.Count(ctx)
	if err != nil {
		return Target{}, err
	}
	return navigationTarget(rec, issue, e.state.NewSamples[issue], total), nil
}

// navigationTarget opens the pre-load screen for issues never scanned or
// whose every sample is new. Otherwise it opens analysis, recomputing when
// the new-sample check found nothing new or the dataset did not grow.
func navigationTarget(rec *models.ScanRecord, issue models.IssueType, tr models.NewSampleTracker, total int) Target {
	ls := rec.LastScan[issue]
	if ls == nil || ls.Timestamp.IsZero() || total == tr.Count {
		return Target{Screen: ScreenPreLoad}
	}

	size := ls.DatasetSize
	if size == 0 {
		size = total
	}
	if tr.Checked && (tr.Count == 0 || size >= total) {
		return Target{Screen: ScreenAnalysis, Recompute: true}
	}
	return Target{Screen: ScreenAnalysis}
}

// PreLoad is the state of an issue's pre-load (scan) screen.
type PreLoad struct {
	Issue models.IssueType `json:"issue"`
	// ExistingField is set when some samples already carry the field and
	// no new samples were detected; those samples are skipped.
	ExistingField bool `json:"existing_field"`
	// NewSamplesExist is set when some, but not all, samples are new.
	NewSamplesExist     bool                 `json:"new_samples_exist"`
	IsComputing         bool                 `json:"is_computing"`
	ExecutionType       models.ExecutionType `json:"execution_type,omitempty"`
	RunID               string               `json:"run_id,omitempty"`
	DelegationStatus    string               `json:"delegation_status,omitempty"`
	DelegationCompleted bool                 `json:"delegation_completed,omitempty"`
	ScanCount           int                  `json:"scan_count"`
	WaitSeconds         int                  `json:"wait_seconds"`
	Label               string               `json:"label"`
	Disabled            bool                 `json:"disabled,omitempty"`
	Tooltip             string               `json:"tooltip,omitempty"`
}

// PreLoadState describes the pre-load screen of issue.
func (e *Engine) PreLoadState(ctx context.Context, issue models.IssueType) (PreLoad, error) {
	if err := validIssue(issue); err != nil {
		return PreLoad{}, err
	}
	has, err := e.ds.HasField(ctx, issue.Field())
	if err != nil {
		return PreLoad{}, err
	}
	total, err := e.ds.Count(ctx)
	if err != nil {
		return PreLoad{}, err
	}

	tr := e.state.NewSamples[issue]
	comp := e.state.Computing[issue]
	p := PreLoad{
		Issue:               issue,
		ExistingField:       has && tr.Count == 0,
		NewSamplesExist:     tr.Count > 0 && tr.Count != total,
		IsComputing:         comp.IsComputing,
		ExecutionType:       comp.ExecutionType,
		RunID:               comp.DelegationRunID,
		DelegationStatus:    comp.DelegationStatus,
		DelegationCompleted: comp.DelegationStatus == string(models.RunCompleted),
		ScanCount:           total,
	}
	if tr.Count > 0 {
		p.ScanCount = tr.Count
	}
	p.WaitSeconds = EstimateWait(issue, p.ScanCount)
	p.Disabled, p.Tooltip = e.Disabled(PermissionEdit)

	title := issue.Title()
	switch {
	case p.IsComputing:
		p.Label = "Scanning Dataset for " + title
	case p.NewSamplesExist:
		p.Label = fmt.Sprintf("Scan %d New Samples for %s", tr.Count, title)
	case p.ExistingField:
		p.Label = fmt.Sprintf("Scan For %s & Skip Existing Samples with Field", title)
	default:
		p.Label = "Scan Dataset for " + title
	}
	return p, nil
}
