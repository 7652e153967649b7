package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/store"
)

func TestStoredStatusesFollowLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newRecordingRepo()
	e := newTestEngine(t, repo, newTestDataset(), WithOperators(operators.NewRegistry(entropyOperator())))

	// scan, review, rescan, cancel, scan again
	_, err := e.StartScan(ctx, models.IssueEntropy, "execute")
	require.NoError(t, err)
	require.NoError(t, e.Navigate(ctx, "", ScreenHome, false))
	require.NoError(t, e.Navigate(ctx, models.IssueEntropy, ScreenAnalysis, true))
	require.NoError(t, e.MarkReviewed(ctx))
	require.NoError(t, e.SelectComputeOption(ctx, models.IssueEntropy, "execute", ""))
	require.NoError(t, e.CancelCompute(ctx, models.IssueEntropy))
	_, err = e.StartScan(ctx, models.IssueEntropy, "execute")
	require.NoError(t, err)

	for _, issue := range models.AllIssueTypes() {
		hist := repo.statuses[issue]
		require.NotEmpty(t, hist, issue)
		for i := 1; i < len(hist); i++ {
			assert.True(t, models.CanTransition(hist[i-1], hist[i]), "%s: %s -> %s", issue, hist[i-1], hist[i])
		}
	}
	assert.Equal(t, models.StatusNeedsReview, getRecord(t, repo).Status[models.IssueEntropy])
}

func TestChangeIssueStatus(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	err := e.ChangeIssueStatus(ctx, models.IssueBrightness, models.StatusReviewed)
	assert.ErrorIs(t, err, ErrInvalidTransition, "not computed issues have no badge")

	require.NoError(t, e.ProcessComputation(ctx, models.IssueBrightness, true))

	require.NoError(t, e.ChangeIssueStatus(ctx, models.IssueBrightness, models.StatusReviewed))
	assert.Equal(t, models.StatusReviewed, getRecord(t, repo).Status[models.IssueBrightness])
	assert.Equal(t, AlertReviewed, e.State().Alert)

	require.NoError(t, e.ChangeIssueStatus(ctx, models.IssueBrightness, models.StatusNeedsReview))
	assert.Equal(t, models.StatusNeedsReview, getRecord(t, repo).Status[models.IssueBrightness])
	assert.Equal(t, AlertInReview, e.State().Alert)

	err = e.ChangeIssueStatus(ctx, models.IssueBrightness, models.StatusComputing)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestMarkReviewedAndGoHome(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	assert.ErrorIs(t, e.MarkReviewed(ctx), ErrIssueTypeRequired)

	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))
	require.NoError(t, e.MarkReviewedAndGoHome(ctx))

	assert.Equal(t, models.StatusReviewed, getRecord(t, repo).Status[models.IssueBrightness])
	assert.Equal(t, ScreenHome, e.State().Screen)
}

func TestMarkReviewedSkipsNoStep(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	require.NoError(t, e.Navigate(ctx, models.IssueEntropy, ScreenPreLoad, false))

	assert.ErrorIs(t, e.MarkReviewed(ctx), ErrInvalidTransition)
}

func TestMissingAccess(t *testing.T) {
	tests := []struct {
		user     Permission
		required Permission
		want     bool
	}{
		{PermissionNone, PermissionManage, false},
		{PermissionTag, PermissionTag, false},
		{PermissionTag, PermissionEdit, true},
		{PermissionEdit, PermissionTag, false},
		{PermissionEdit, PermissionManage, true},
		{PermissionManage, PermissionEdit, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MissingAccess(tt.user, tt.required), "%q needs %q", tt.user, tt.required)
	}
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission(" edit ")
	require.NoError(t, err)
	assert.Equal(t, PermissionEdit, p)

	p, err = ParsePermission("")
	require.NoError(t, err)
	assert.Equal(t, PermissionNone, p)

	_, err = ParsePermission("owner")
	assert.Error(t, err)
}

func TestPermissionGates(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithPermission(PermissionTag))

	_, err := e.StartScan(ctx, models.IssueBrightness, "execute")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, e.SelectComputeOption(ctx, models.IssueBrightness, "execute", ""), ErrPermissionDenied)

	disabled, tip := e.Disabled(PermissionEdit)
	assert.True(t, disabled)
	assert.Equal(t, NotPermittedText, tip)

	disabled, tip = e.Disabled(PermissionTag)
	assert.False(t, disabled)
	assert.Empty(t, tip)

	_, err = e.TagSamples(ctx, []string{"dark"})
	assert.NoError(t, err)

	e = newTestEngine(t, store.NewMemory(), newTestDataset(), WithPermission(PermissionEdit))
	_, err = e.TagSamples(ctx, []string{"dark"})
	assert.NoError(t, err)
}

func TestCurrentIssueCountFallsBackToSaved(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	rec := models.NewScanRecord()
	rec.Counts[models.IssueBrightness] = 7
	putRecord(t, repo, rec)
	e := newTestEngine(t, repo, newTestDataset())

	n, err := e.CurrentIssueCount(ctx, models.IssueBrightness)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	three := 3
	rec.CurrentCounts[models.IssueBrightness] = &three
	putRecord(t, repo, rec)

	n, err = e.CurrentIssueCount(ctx, models.IssueBrightness)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.IssueCount(ctx, models.IssueBrightness)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestTagging(t *testing.T) {
	ctx := context.Background()
	ds := newTestDataset()
	e := newTestEngine(t, store.NewMemory(), ds)
	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))

	text, err := e.TagHelperText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tag 2 samples in current view:", text)

	ids, err := e.ViewSamples(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"s3", "s4"}, ids)

	n, err := e.TagSamples(ctx, []string{"too_bright"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, AlertTagging, e.State().Alert)
	s3, _ := ds.Sample("s3")
	assert.Contains(t, s3.Tags, "too_bright")

	e.Select([]string{"s1"})
	text, err = e.TagHelperText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tag 1 out of 2 samples currently selected:", text)

	// reuses the last tags
	n, err = e.TagSamples(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	s1, _ := ds.Sample("s1")
	assert.Contains(t, s1.Tags, "too_bright")
}

func TestTagHelperTextWithoutCount(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	e.state.Issue = models.IssueEntropy
	e.Select([]string{"s1", "s2"})

	text, err := e.TagHelperText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Tag 2 samples currently selected:", text)
}

func TestEstimateWait(t *testing.T) {
	assert.Equal(t, 90, EstimateWait(models.IssueBrightness, 10000))
	assert.Equal(t, 270, EstimateWait(models.IssueNearDuplicates, 10000))
	assert.Equal(t, 90, EstimateWait(models.IssueExactDuplicates, 5000))
	assert.Equal(t, 0, EstimateWait(models.IssueEntropy, 4999))

	assert.Equal(t, "< 1 minute", FormatWait(45))
	assert.Equal(t, "~2 minutes", FormatWait(90))

	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	secs, err := e.EstimateWait(context.Background(), models.IssueBrightness, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, secs)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	require.NoError(t, e.ProcessComputation(ctx, models.IssueExactDuplicates, true))
	e.state.NewSamples[models.IssueExactDuplicates] = models.NewSampleTracker{Count: 1, Checked: true}

	cards, err := e.Summary(ctx)
	require.NoError(t, err)
	require.Len(t, cards, len(models.AllIssueTypes()))

	assert.Equal(t, models.IssueBrightness, cards[0].Issue)
	assert.Equal(t, models.StatusNotComputed, cards[0].Status)
	assert.Equal(t, Target{Screen: ScreenPreLoad}, cards[0].Target)

	dup := cards[5]
	assert.Equal(t, models.IssueExactDuplicates, dup.Issue)
	assert.Equal(t, "Exact Duplicates", dup.Title)
	assert.Equal(t, models.StatusNeedsReview, dup.Status)
	assert.Equal(t, 2, dup.Count)
	assert.Equal(t, 1, dup.NewCount)
	assert.Equal(t, Target{Screen: ScreenAnalysis, Recompute: true}, dup.Target)
}
