package service

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/threshold"
)

// setHistDefaults resolves the session thresholds from the issue's
// configuration when none are set.
func (e *Engine) setHistDefaults(ctx context.Context, issue models.IssueType) error {
	if _, _, ok := e.state.Thresholds(); ok {
		return nil
	}
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	lower, upper, err := e.plotDefaults(ctx, rec, issue)
	if err != nil {
		return err
	}
	e.state.setThresholds(lower, upper)
	return nil
}

func (e *Engine) histogramIssue() (models.IssueType, error) {
	issue := e.state.Issue
	if err := validIssue(issue); err != nil {
		return "", err
	}
	if !issue.IsHistogram() {
		return "", fmt.Errorf("%s has no threshold", issue)
	}
	return issue, nil
}

// SetThresholds moves the slider of the current issue and updates the view.
func (e *Engine) SetThresholds(ctx context.Context, lower, upper float64) error {
	issue, err := e.histogramIssue()
	if err != nil {
		return err
	}
	if lower > upper {
		return fmt.Errorf("lower threshold %g exceeds upper threshold %g", lower, upper)
	}
	e.state.setThresholds(lower, upper)
	return e.ChangeView(ctx, issue)
}

// SaveThreshold stores the current slider as the issue's threshold and
// makes the live count its saved count.
func (e *Engine) SaveThreshold(ctx context.Context) error {
	issue, err := e.histogramIssue()
	if err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	lower, upper, ok := e.state.Thresholds()
	if !ok {
		return fmt.Errorf("no threshold set for %s", issue)
	}

	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	cfg := rec.Config[issue]
	cfg.Saved = &models.Bounds{Min: lower, Max: upper}
	rec.Config[issue] = cfg
	rec.Counts[issue] = currentCount(rec, issue)
	if err := e.put(ctx, rec); err != nil {
		return err
	}
	e.state.Config[issue] = cfg
	e.logger.Info("threshold saved", "issue", issue, "min", lower, "max", upper, "count", rec.Counts[issue])
	return nil
}

// ResetThreshold restores the factory threshold of the current issue,
// recounts it and updates the view.
func (e *Engine) ResetThreshold(ctx context.Context) error {
	issue, err := e.histogramIssue()
	if err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}

	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	rec.Config[issue] = models.DefaultThresholdConfig(issue)
	e.state.Config[issue] = rec.Config[issue]

	lower, upper, err := e.plotDefaults(ctx, rec, issue)
	if err != nil {
		return err
	}
	e.state.setThresholds(lower, upper)

	n, err := e.countInRange(ctx, issue.Field(), lower, upper)
	if err != nil {
		return fmt.Errorf("count %s in threshold: %w", issue, err)
	}
	rec.Counts[issue] = n
	if err := e.put(ctx, rec); err != nil {
		return err
	}
	e.logger.Info("threshold reset", "issue", issue, "min", lower, "max", upper, "count", n)
	return e.ChangeView(ctx, issue)
}

// ChangeView points the session view at issue's flagged samples.
//
// Histogram issues count the samples inside the current thresholds into
// the live count. Exact duplicates show every duplicated sample grouped by
// hash. Without results the view is cleared.
func (e *Engine) ChangeView(ctx context.Context, issue models.IssueType) error {
	if err := validIssue(issue); err != nil {
		return err
	}
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	field := issue.Field()

	if lower, upper, ok := e.state.Thresholds(); ok && issue.IsHistogram() {
		n, err := e.countInRange(ctx, field, lower, upper)
		if err != nil {
			return fmt.Errorf("count %s in threshold: %w", issue, err)
		}
		rec.CurrentCounts[issue] = &n
		if err := e.put(ctx, rec); err != nil {
			return err
		}
		e.state.View = dataset.RangeView(field, lower, upper)
		return nil
	}

	if issue.Kind() == models.KindDuplicates {
		has, err := e.ds.HasField(ctx, field)
		if err != nil {
			return err
		}
		if has {
			n := rec.Counts[issue]
			rec.CurrentCounts[issue] = &n
			if err := e.put(ctx, rec); err != nil {
				return err
			}
			e.state.View = dataset.InView(field, rec.Results[issue].DupFilehash).Sorted(field)
			return nil
		}
	}

	e.state.View = dataset.AllView()
	return nil
}

// ThresholdRange clamps the issue field's observed bounds to the standard
// bounds [lo, hi].
func (e *Engine) ThresholdRange(ctx context.Context, issue models.IssueType, lo, hi float64) (float64, float64, error) {
	if err := validIssue(issue); err != nil {
		return 0, 0, err
	}
	minV, maxV, err := e.bounds(ctx, issue.Field())
	if err != nil {
		return 0, 0, err
	}
	lower, upper := threshold.Range(minV, maxV, lo, hi)
	return lower, upper, nil
}

// Histogram is the analysis plot of a histogram issue.
type Histogram struct {
	Issue  models.IssueType `json:"issue"`
	Counts []int            `json:"counts"`
	Edges  []float64        `json:"edges"`
	// In and Out split Counts by whether a bin lies inside the thresholds.
	In    []int   `json:"in"`
	Out   []int   `json:"out"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	// Min and Max are the slider's fixed range.
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// HistogramData returns the plot of the current histogram issue. Results
// missing from the record are computed and stored.
func (e *Engine) HistogramData(ctx context.Context) (*Histogram, error) {
	issue, err := e.histogramIssue()
	if err != nil {
		return nil, err
	}
	if err := e.setHistDefaults(ctx, issue); err != nil {
		return nil, err
	}
	lower, upper, _ := e.state.Thresholds()

	rec, err := e.record(ctx)
	if err != nil {
		return nil, err
	}
	res := rec.Results[issue]
	if res.Edges == nil {
		counts, edges, err := e.histogram(ctx, issue)
		if err != nil {
			return nil, err
		}
		res = models.Results{Counts: counts, Edges: edges}
		rec.Results[issue] = res
		if err := e.put(ctx, rec); err != nil {
			return nil, err
		}
	}

	minV, maxV, err := e.bounds(ctx, issue.Field())
	if err != nil {
		return nil, err
	}
	in, out := threshold.SplitHistogram(res.Counts, res.Edges, lower, upper)
	return &Histogram{
		Issue:  issue,
		Counts: res.Counts,
		Edges:  res.Edges,
		In:     in,
		Out:    out,
		Lower:  lower,
		Upper:  upper,
		Min:    minV,
		Max:    maxV,
	}, nil
}

// DuplicateGroups returns the stored exact-duplicate groups.
func (e *Engine) DuplicateGroups(ctx context.Context) ([]models.DuplicateGroup, error) {
	rec, err := e.record(ctx)
	if err != nil {
		return nil, err
	}
	return rec.Results[models.IssueExactDuplicates].DupSampleIDs, nil
}
