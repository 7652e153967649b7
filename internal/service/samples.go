package service

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// CheckForNewSamples counts, per scanned issue, the samples added or
// modified since its last scan that lack the issue's field. An issue whose
// field is missing on every sample returns to not computed. Each issue is
// checked once per session; when all are checked NewSampleScan is cleared.
func (e *Engine) CheckForNewSamples(ctx context.Context) error {
	if !e.state.NewSampleScan {
		return nil
	}
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}

	var total *int
	dirty := false
	for _, issue := range models.AllIssueTypes() {
		if issue.IsHistogram() && !rec.Results[issue].HasHistogram() {
			continue
		}
		if e.state.NewSamples[issue].Checked {
			continue
		}

		lastScan := e.now().UTC().Add(24 * time.Hour)
		if ls := rec.LastScan[issue]; ls != nil && !ls.Timestamp.IsZero() {
			lastScan = ls.Timestamp
		}

		done := e.query()
		lastModified, err := e.ds.MaxLastModified(ctx)
		done(err)
		if err != nil {
			return fmt.Errorf("max last modified: %w", err)
		}
		if lastModified.IsZero() {
			lastModified = lastScan
		}

		if !lastModified.After(lastScan) {
			e.state.NewSamples[issue] = models.NewSampleTracker{Checked: true}
			continue
		}

		done = e.query()
		missing, err := e.ds.CountExists(ctx, issue.Field(), false)
		done(err)
		if err != nil {
			return fmt.Errorf("count samples missing %s: %w", issue.Field(), err)
		}
		e.state.NewSamples[issue] = models.NewSampleTracker{Count: missing, Checked: true}
		if missing == 0 {
			continue
		}
		e.logger.Info("new samples detected", "issue", issue, "count", missing)

		if total == nil {
			n, err := e.ds.Count(ctx)
			if err != nil {
				return fmt.Errorf("count samples: %w", err)
			}
			total = &n
		}
		if missing == *total {
			if err := e.transition(rec, issue, models.StatusNotComputed); err != nil {
				return err
			}
			dirty = true
		}
	}

	if dirty {
		if err := e.put(ctx, rec); err != nil {
			return err
		}
	}

	for _, tr := range e.state.NewSamples {
		if !tr.Checked {
			return nil
		}
	}
	e.state.NewSampleScan = false
	e.logger.Debug("new sample check complete")
	return nil
}
