package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/store"
)

func TestNavigateAnalysisComputesUnscannedIssue(t *testing.T) {
	ctx := context.Background()
	repo := newRecordingRepo()
	e := newTestEngine(t, repo, newTestDataset())

	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))

	st := e.State()
	assert.Equal(t, ScreenAnalysis, st.Screen)
	assert.Equal(t, models.IssueBrightness, st.Issue)
	lower, upper, ok := st.Thresholds()
	require.True(t, ok)
	assert.Equal(t, 0.55, lower)
	assert.Equal(t, 1.0, upper)
	assert.Equal(t, dataset.RangeView("brightness", 0.55, 1.0), st.View)

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueBrightness])
	require.NotNil(t, rec.CurrentCounts[models.IssueBrightness])
	assert.Equal(t, 2, *rec.CurrentCounts[models.IssueBrightness])
	assert.Equal(t, []models.Status{
		models.StatusNotComputed,
		models.StatusComputing,
		models.StatusNeedsReview,
	}, repo.statuses[models.IssueBrightness])
}

func TestLeavingAnalysisMarksReviewed(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))
	require.NoError(t, e.Navigate(ctx, "", ScreenHome, false))

	assert.Equal(t, models.StatusReviewed, getRecord(t, repo).Status[models.IssueBrightness])
	st := e.State()
	assert.Equal(t, ScreenHome, st.Screen)
	assert.Empty(t, st.Issue)
	assert.Equal(t, AlertReviewed, st.Alert)
	_, _, ok := st.Thresholds()
	assert.False(t, ok)
	assert.True(t, st.View.IsAll())
}

func TestLeavingAnalysisWithoutEditKeepsStatus(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	rec := models.NewScanRecord()
	rec.Status[models.IssueBrightness] = models.StatusNeedsReview
	putRecord(t, repo, rec)
	e := newTestEngine(t, repo, newTestDataset(), WithPermission(PermissionTag))

	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))
	require.NoError(t, e.Navigate(ctx, "", ScreenHome, false))
	assert.Equal(t, models.StatusNeedsReview, getRecord(t, repo).Status[models.IssueBrightness])
}

func TestNavigateAnalysisWithoutValuesOffersScan(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	require.NoError(t, e.Navigate(ctx, models.IssueEntropy, ScreenAnalysis, false))
	assert.Equal(t, ScreenPreLoad, e.State().Screen)
	assert.Equal(t, models.StatusNotComputed, getRecord(t, repo).Status[models.IssueEntropy])
}

func TestNavigateResetsStaleIssue(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	ds := newTestDataset()
	e := newTestEngine(t, repo, ds)
	require.NoError(t, e.ProcessComputation(ctx, models.IssueBrightness, true))
	require.Equal(t, models.StatusNeedsReview, getRecord(t, repo).Status[models.IssueBrightness])

	ds.ClearField("brightness")

	reset, err := e.ShouldResetIssue(ctx, models.IssueBrightness)
	require.NoError(t, err)
	assert.True(t, reset)

	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))
	assert.Equal(t, ScreenPreLoad, e.State().Screen)

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNotComputed, rec.Status[models.IssueBrightness])
	assert.Nil(t, rec.LastScan[models.IssueBrightness])
	assert.False(t, rec.Results[models.IssueBrightness].HasHistogram())
}

func TestNavigatePropagatesQueryErrors(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	rec := models.NewScanRecord()
	rec.Status[models.IssueBrightness] = models.StatusNeedsReview
	putRecord(t, repo, rec)

	boom := errors.New("query engine unavailable")
	ds := &countingDataset{Dataset: newTestDataset(), boundsErr: boom}
	e := newTestEngine(t, repo, ds)

	err := e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false)
	assert.ErrorIs(t, err, boom)
}

func TestShouldResetIgnoresUnreviewedIssues(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	reset, err := e.ShouldResetIssue(context.Background(), models.IssueEntropy)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestRescan(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())
	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenAnalysis, false))

	require.NoError(t, e.Rescan(ctx))

	st := e.State()
	assert.Equal(t, ScreenPreLoad, st.Screen)
	assert.Equal(t, models.IssueBrightness, st.Issue)
	// leaving analysis reviewed the issue
	assert.Equal(t, models.StatusReviewed, getRecord(t, repo).Status[models.IssueBrightness])
}

func TestNavigationTarget(t *testing.T) {
	scanned := func(size int) *models.ScanRecord {
		rec := models.NewScanRecord()
		rec.LastScan[models.IssueBrightness] = &models.LastScan{Timestamp: testNow.Add(-time.Hour), DatasetSize: size}
		return rec
	}

	tests := []struct {
		name    string
		rec     *models.ScanRecord
		tracker models.NewSampleTracker
		total   int
		want    Target
	}{
		{"never scanned", models.NewScanRecord(), models.NewSampleTracker{}, 4, Target{Screen: ScreenPreLoad}},
		{"every sample new", scanned(4), models.NewSampleTracker{Count: 4, Checked: true}, 4, Target{Screen: ScreenPreLoad}},
		{"checked without new samples", scanned(4), models.NewSampleTracker{Checked: true}, 4, Target{Screen: ScreenAnalysis, Recompute: true}},
		{"dataset did not grow", scanned(6), models.NewSampleTracker{Count: 2, Checked: true}, 6, Target{Screen: ScreenAnalysis, Recompute: true}},
		{"new samples pending", scanned(4), models.NewSampleTracker{Count: 2, Checked: true}, 6, Target{Screen: ScreenAnalysis}},
		{"not yet checked", scanned(4), models.NewSampleTracker{}, 4, Target{Screen: ScreenAnalysis}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := navigationTarget(tt.rec, models.IssueBrightness, tt.tracker, tt.total)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPreLoadState(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh field", func(t *testing.T) {
		e := newTestEngine(t, store.NewMemory(), newTestDataset())
		p, err := e.PreLoadState(ctx, models.IssueEntropy)
		require.NoError(t, err)
		assert.Equal(t, "Scan Dataset for Entropy", p.Label)
		assert.False(t, p.ExistingField)
		assert.Equal(t, 4, p.ScanCount)
		assert.False(t, p.Disabled)
	})

	t.Run("existing field", func(t *testing.T) {
		e := newTestEngine(t, store.NewMemory(), newTestDataset())
		p, err := e.PreLoadState(ctx, models.IssueBrightness)
		require.NoError(t, err)
		assert.True(t, p.ExistingField)
		assert.Equal(t, "Scan For Brightness & Skip Existing Samples with Field", p.Label)
	})

	t.Run("new samples", func(t *testing.T) {
		e := newTestEngine(t, store.NewMemory(), newTestDataset())
		e.state.NewSamples[models.IssueBrightness] = models.NewSampleTracker{Count: 1, Checked: true}
		p, err := e.PreLoadState(ctx, models.IssueBrightness)
		require.NoError(t, err)
		assert.True(t, p.NewSamplesExist)
		assert.Equal(t, 1, p.ScanCount)
		assert.Equal(t, "Scan 1 New Samples for Brightness", p.Label)
	})

	t.Run("computing", func(t *testing.T) {
		e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithRuns(newFakeRuns()))
		_, err := e.StartScan(ctx, models.IssueBrightness, "delegate")
		require.NoError(t, err)
		p, err := e.PreLoadState(ctx, models.IssueBrightness)
		require.NoError(t, err)
		assert.True(t, p.IsComputing)
		assert.Equal(t, "run-1", p.RunID)
		assert.Equal(t, "Scanning Dataset for Brightness", p.Label)
	})

	t.Run("without edit access", func(t *testing.T) {
		e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithPermission(PermissionTag))
		p, err := e.PreLoadState(ctx, models.IssueBrightness)
		require.NoError(t, err)
		assert.True(t, p.Disabled)
		assert.Equal(t, NotPermittedText, p.Tooltip)
	})
}
