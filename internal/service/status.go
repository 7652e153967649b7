package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/dataquality/internal/models"
)

// Permission is a user's access level on a dataset.
type Permission string

const (
	PermissionNone   Permission = ""
	PermissionTag    Permission = "TAG"
	PermissionEdit   Permission = "EDIT"
	PermissionManage Permission = "MANAGE"
)

// NotPermittedText is the tooltip shown on actions the user cannot take.
const NotPermittedText = "You do not have sufficient permission."

var permissionRank = map[Permission]int{
	PermissionTag:    1,
	PermissionEdit:   2,
	PermissionManage: 3,
}

// ParsePermission normalizes an access level name. Empty means no user context.
func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.ToUpper(strings.TrimSpace(s)))
	if p == PermissionNone {
		return p, nil
	}
	if _, ok := permissionRank[p]; !ok {
		return "", fmt.Errorf("unknown permission: %q", s)
	}
	return p, nil
}

// MissingAccess reports whether user lacks the required access level.
// Without a user context nothing is missing.
func MissingAccess(user, required Permission) bool {
	if user == PermissionNone {
		return false
	}
	need, ok := permissionRank[required]
	if !ok {
		return true
	}
	return permissionRank[user] < need
}

// Disabled returns whether an action needing required is disabled for the
// engine's user, and the tooltip to show on it.
func (e *Engine) Disabled(required Permission) (bool, string) {
	if MissingAccess(e.permission, required) {
		return true, NotPermittedText
	}
	return false, ""
}

func (e *Engine) require(required Permission) error {
	if MissingAccess(e.permission, required) {
		return fmt.Errorf("%w: %s access required", ErrPermissionDenied, required)
	}
	return nil
}

// IssueStatus returns the stored status of issue.
func (e *Engine) IssueStatus(ctx context.Context, issue models.IssueType) (models.Status, error) {
	rec, err := e.record(ctx)
	if err != nil {
		return "", err
	}
	return rec.Status[issue], nil
}

// transition moves issue to status in rec, refusing steps the lifecycle
// does not allow.
func (e *Engine) transition(rec *models.ScanRecord, issue models.IssueType, to models.Status) error {
	from := rec.Status[issue]
	if !models.CanTransition(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, issue, from, to)
	}
	if from != to {
		e.logger.Info("issue status changed", "issue", issue, "from", from, "to", to)
	}
	rec.Status[issue] = to
	return nil
}

// ChangeIssueStatus is the status badge action. Only the review states can
// be chosen from the badge.
func (e *Engine) ChangeIssueStatus(ctx context.Context, issue models.IssueType, to models.Status) error {
	if issue == "" {
		issue = e.state.Issue
	}
	if err := validIssue(issue); err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	if to != models.StatusNeedsReview && to != models.StatusReviewed {
		return fmt.Errorf("%w: badge cannot set %s", ErrInvalidTransition, to)
	}

	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	from := rec.Status[issue]
	if from != models.StatusNeedsReview && from != models.StatusReviewed {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, issue, from)
	}
	// The badge toggles between the two review states in either direction.
	rec.Status[issue] = to
	if err := e.put(ctx, rec); err != nil {
		return err
	}

	if to == models.StatusReviewed {
		e.state.Alert = AlertReviewed
	} else {
		e.state.Alert = AlertInReview
	}
	return nil
}

// MarkReviewed marks the session's current issue reviewed.
func (e *Engine) MarkReviewed(ctx context.Context) error {
	if err := validIssue(e.state.Issue); err != nil {
		return err
	}
	if err := e.require(PermissionEdit); err != nil {
		return err
	}
	return e.markReviewed(ctx, e.state.Issue)
}

func (e *Engine) markReviewed(ctx context.Context, issue models.IssueType) error {
	rec, err := e.record(ctx)
	if err != nil {
		return err
	}
	if err := e.transition(rec, issue, models.StatusReviewed); err != nil {
		return err
	}
	if err := e.put(ctx, rec); err != nil {
		return err
	}
	e.state.Alert = AlertReviewed
	return nil
}

// MarkReviewedAndGoHome marks the current issue reviewed and returns home.
func (e *Engine) MarkReviewedAndGoHome(ctx context.Context) error {
	if err := e.MarkReviewed(ctx); err != nil {
		return err
	}
	return e.Navigate(ctx, "", ScreenHome, false)
}

// IssueCount returns the saved in-threshold count of issue.
func (e *Engine) IssueCount(ctx context.Context, issue models.IssueType) (int, error) {
	rec, err := e.record(ctx)
	if err != nil {
		return 0, err
	}
	return rec.Counts[issue], nil
}

// CurrentIssueCount returns the live count reflecting unsaved threshold
// edits. An unset current count falls back to the saved count.
func (e *Engine) CurrentIssueCount(ctx context.Context, issue models.IssueType) (int, error) {
	rec, err := e.record(ctx)
	if err != nil {
		return 0, err
	}
	return currentCount(rec, issue), nil
}

func currentCount(rec *models.ScanRecord, issue models.IssueType) int {
	if c := rec.CurrentCounts[issue]; c != nil {
		return *c
	}
	return rec.Counts[issue]
}

// Select replaces the sample selection.
func (e *Engine) Select(ids []string) {
	e.state.Selected = append([]string(nil), ids...)
}

// TagHelperText describes what TagSamples will tag.
func (e *Engine) TagHelperText(ctx context.Context) (string, error) {
	current, err := e.CurrentIssueCount(ctx, e.state.Issue)
	if err != nil {
		return "", err
	}
	selected := len(e.state.Selected)
	switch {
	case selected == 0:
		return fmt.Sprintf("Tag %d samples in current view:", current), nil
	case current == 0:
		return fmt.Sprintf("Tag %d samples currently selected:", selected), nil
	}
	return fmt.Sprintf("Tag %d out of %d samples currently selected:", selected, current), nil
}

// TagSamples applies tags to the selection, or to the current view when
// nothing is selected. Returns the number of samples tagged.
func (e *Engine) TagSamples(ctx context.Context, tags []string) (int, error) {
	if err := e.require(PermissionTag); err != nil {
		return 0, err
	}
	if len(tags) == 0 {
		tags = e.state.Tags
	}

	ids := e.state.Selected
	if len(ids) == 0 {
		var err error
		if ids, err = e.ds.Select(ctx, e.state.View); err != nil {
			return 0, fmt.Errorf("resolve view: %w", err)
		}
	}

	n, err := e.ds.Tag(ctx, ids, tags)
	if err != nil {
		return 0, fmt.Errorf("tag samples: %w", err)
	}
	e.state.Tags = append([]string(nil), tags...)
	e.state.Alert = AlertTagging
	e.logger.Info("samples tagged", "count", n, "tags", tags)
	return n, nil
}

// ViewSamples returns the ids of the samples in the current view.
func (e *Engine) ViewSamples(ctx context.Context) ([]string, error) {
	return e.ds.Select(ctx, e.state.View)
}

// EstimateWait estimates the seconds a scan of issue over size samples
// takes. size <= 0 uses the dataset size.
func (e *Engine) EstimateWait(ctx context.Context, issue models.IssueType, size int) (int, error) {
	if size <= 0 {
		n, err := e.ds.Count(ctx)
		if err != nil {
			return 0, err
		}
		size = n
	}
	return EstimateWait(issue, size), nil
}

// EstimateWait returns the estimated scan time in seconds for size samples.
func EstimateWait(issue models.IssueType, size int) int {
	return issue.Def().WaitWeight * (size / 5000)
}

// FormatWait renders a wait estimate for display.
func FormatWait(seconds int) string {
	if seconds < 60 {
		return "< 1 minute"
	}
	return fmt.Sprintf("~%d minutes", (seconds+59)/60)
}

// IssueSummary is the home card state of one issue.
type IssueSummary struct {
	Issue     models.IssueType
	Title     string
	Status    models.Status
	Count     int
	NewCount  int
	Computing models.Computing
	Target    Target
	LastScan  *models.LastScan
}

// Summary returns the home card state of every issue in display order.
func (e *Engine) Summary(ctx context.Context) ([]IssueSummary, error) {
	rec, err := e.record(ctx)
	if err != nil {
		return nil, err
	}
	total, err := e.ds.Count(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]IssueSummary, 0, len(models.AllIssueTypes()))
	for _, t := range models.AllIssueTypes() {
		s := IssueSummary{
			Issue:     t,
			Title:     t.Title(),
			Status:    rec.Status[t],
			Count:     rec.Counts[t],
			Computing: rec.Computing[t],
			LastScan:  rec.LastScan[t],
			Target:    navigationTarget(rec, t, e.state.NewSamples[t], total),
		}
		tr := e.state.NewSamples[t]
		if tr.Count > 0 && !tr.RescanCompleted && tr.Count != total {
			s.NewCount = tr.Count
		}
		out = append(out, s)
	}
	return out, nil
}
