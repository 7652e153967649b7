package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/store"
)

func entropyOperator() *fakeOperator {
	return &fakeOperator{
		issue:  models.IssueEntropy,
		values: map[string]any{"s1": 1.0, "s2": 2.0, "s3": 3.0, "s4": 9.0},
	}
}

func TestImmediateScan(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	op := entropyOperator()
	e := newTestEngine(t, repo, newTestDataset(), WithOperators(operators.NewRegistry(op)))

	runID, err := e.StartScan(ctx, models.IssueEntropy, "execute")
	require.NoError(t, err)
	assert.Empty(t, runID)

	require.Len(t, op.calls, 1)
	assert.True(t, op.calls[0].OnlyMissing)

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueEntropy])
	// percentage 0..0.15 over [1, 9] is [1, 2.2]
	assert.Equal(t, 2, rec.Counts[models.IssueEntropy])
	require.NotNil(t, rec.CurrentCounts[models.IssueEntropy])
	assert.Equal(t, 2, *rec.CurrentCounts[models.IssueEntropy])
	require.NotNil(t, rec.LastScan[models.IssueEntropy])
	assert.Equal(t, testNow, rec.LastScan[models.IssueEntropy].Timestamp)
	assert.Equal(t, 4, rec.LastScan[models.IssueEntropy].DatasetSize)
	assert.True(t, rec.Results[models.IssueEntropy].HasHistogram())

	comp := rec.Computing[models.IssueEntropy]
	assert.False(t, comp.IsComputing)
	assert.Equal(t, models.ExecutionImmediate, comp.ExecutionType)

	st := e.State()
	assert.Equal(t, ScreenAnalysis, st.Screen)
	assert.Equal(t, models.IssueEntropy, st.Issue)
	lower, upper, ok := st.Thresholds()
	require.True(t, ok)
	assert.Equal(t, 1.0, lower)
	assert.InDelta(t, 2.2, upper, 1e-9)
}

func TestNearDuplicateScanRecomputesEverySample(t *testing.T) {
	ctx := context.Background()
	op := &fakeOperator{
		issue:  models.IssueNearDuplicates,
		values: map[string]any{"s1": 0.1, "s2": 0.4, "s3": 0.2, "s4": 0.9},
	}
	e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithOperators(operators.NewRegistry(op)))

	_, err := e.StartScan(ctx, models.IssueNearDuplicates, "execute")
	require.NoError(t, err)
	require.Len(t, op.calls, 1)
	assert.False(t, op.calls[0].OnlyMissing)
}

func TestImmediateScanFailureResets(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	op := entropyOperator()
	op.err = errors.New("decode failed")
	e := newTestEngine(t, repo, newTestDataset(), WithOperators(operators.NewRegistry(op)))

	_, err := e.StartScan(ctx, models.IssueEntropy, "execute")
	require.Error(t, err)

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNotComputed, rec.Status[models.IssueEntropy])
	assert.False(t, rec.Computing[models.IssueEntropy].IsComputing)
}

func TestStartScanWithoutOperators(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	_, err := e.StartScan(context.Background(), models.IssueEntropy, "execute")
	assert.ErrorIs(t, err, ErrNoOperators)
}

func TestDelegatedScan(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	svc := newFakeRuns()
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))

	runID, err := e.StartScan(ctx, models.IssueBrightness, "delegate")
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusComputing, rec.Status[models.IssueBrightness])
	comp := rec.Computing[models.IssueBrightness]
	assert.True(t, comp.IsComputing)
	assert.Equal(t, models.ExecutionDelegated, comp.ExecutionType)
	assert.Equal(t, "run-1", comp.DelegationRunID)
	require.NotNil(t, comp.StartedAt)
	assert.Equal(t, testNow, *comp.StartedAt)

	assert.Equal(t, []models.IssueType{models.IssueBrightness}, e.State().ComputingIssues())
}

func TestSelectComputeOptionMarksRescan(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	e.state.NewSamples[models.IssueBrightness] = models.NewSampleTracker{Count: 2, Checked: true}

	require.NoError(t, e.SelectComputeOption(ctx, models.IssueBrightness, "execute", ""))
	assert.True(t, e.State().NewSamples[models.IssueBrightness].RescanCompleted)

	_, err := models.ParseExecutionType("later")
	require.Error(t, err)
	assert.Error(t, e.SelectComputeOption(ctx, models.IssueBrightness, "later", ""))
}

func TestHandleComputationSkipsToProcessing(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	// Every sample already has a brightness value.
	require.NoError(t, e.HandleComputation(ctx, models.IssueBrightness, "", true))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueBrightness])
	assert.Equal(t, 2, rec.Counts[models.IssueBrightness])
	assert.Equal(t, ScreenAnalysis, e.State().Screen)
}

func TestProcessExactDuplicates(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	require.NoError(t, e.ProcessComputation(ctx, models.IssueExactDuplicates, true))

	rec := getRecord(t, repo)
	res := rec.Results[models.IssueExactDuplicates]
	assert.Equal(t, []string{"a"}, res.DupFilehash)
	assert.Equal(t, []models.DuplicateGroup{{Hash: "a", SampleIDs: []string{"s1", "s3"}}}, res.DupSampleIDs)
	assert.Equal(t, 2, rec.Counts[models.IssueExactDuplicates])
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueExactDuplicates])

	groups, err := e.DuplicateGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.DupSampleIDs, groups)

	// recompute keeps the session where it was
	assert.Equal(t, ScreenHome, e.State().Screen)
}

func TestProcessWithoutValuesWritesNothing(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())
	before := getRecord(t, repo)

	err := e.ProcessComputation(ctx, models.IssueBlurriness, true)
	assert.ErrorIs(t, err, ErrNoFieldValues)
	assert.Equal(t, before, getRecord(t, repo))
}

func delegatedRecord(issue models.IssueType, runID string) *models.ScanRecord {
	rec := models.NewScanRecord()
	start := testNow.Add(-time.Minute)
	rec.Status[issue] = models.StatusComputing
	rec.Computing[issue] = models.Computing{
		IsComputing:     true,
		ExecutionType:   models.ExecutionDelegated,
		DelegationRunID: runID,
		StartedAt:       &start,
	}
	return rec
}

func TestPollDelegatedRunInProgress(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	putRecord(t, repo, delegatedRecord(models.IssueBrightness, "run-1"))
	svc := newFakeRuns()
	svc.set("run-1", models.RunRunning)
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, "run-1"))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusComputing, rec.Status[models.IssueBrightness])
	assert.Equal(t, "running", rec.Computing[models.IssueBrightness].DelegationStatus)
	assert.True(t, rec.Computing[models.IssueBrightness].IsComputing)
}

func TestPollDelegatedRunCompleted(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	putRecord(t, repo, delegatedRecord(models.IssueBrightness, "run-1"))
	svc := newFakeRuns()
	svc.set("run-1", models.RunCompleted)
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))
	require.NoError(t, e.Navigate(ctx, models.IssueBrightness, ScreenPreLoad, false))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, ""))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueBrightness])
	comp := rec.Computing[models.IssueBrightness]
	assert.False(t, comp.IsComputing)
	assert.Equal(t, "completed", comp.DelegationStatus)
	assert.Equal(t, 2, rec.Counts[models.IssueBrightness])
	require.NotNil(t, rec.LastScan[models.IssueBrightness])

	// the user was waiting on the pre-load screen
	assert.Equal(t, ScreenAnalysis, e.State().Screen)
}

func TestPollDelegatedRunFailedRecomputesLocally(t *testing.T) {
	ctx := context.Background()
	repo := newRecordingRepo()
	putRecord(t, repo, delegatedRecord(models.IssueBrightness, "run-1"))
	svc := newFakeRuns()
	svc.set("run-1", models.RunFailed)
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, "run-1"))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNeedsReview, rec.Status[models.IssueBrightness])
	assert.Empty(t, e.State().Alert)
	assert.Equal(t, []models.Status{
		models.StatusComputing,
		models.StatusNotComputed,
		models.StatusComputing,
		models.StatusNeedsReview,
	}, repo.statuses[models.IssueBrightness])
}

func TestPollDelegatedRunFailedTwice(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	putRecord(t, repo, delegatedRecord(models.IssueEntropy, "run-1"))
	svc := newFakeRuns()
	svc.set("run-1", models.RunFailed)
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))
	require.NoError(t, e.Navigate(ctx, models.IssueEntropy, ScreenPreLoad, false))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueEntropy, "run-1"))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNotComputed, rec.Status[models.IssueEntropy])
	st := e.State()
	assert.Equal(t, "computation_failed_entropy", st.Alert)
	assert.Equal(t, ScreenHome, st.Screen)
}

func TestPollUnknownRunResets(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	putRecord(t, repo, delegatedRecord(models.IssueBrightness, "run-gone"))
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(newFakeRuns()))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, "run-gone"))

	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNotComputed, rec.Status[models.IssueBrightness])
	assert.False(t, rec.Computing[models.IssueBrightness].IsComputing)
}

func immediateRecord(issue models.IssueType, lastScan time.Time, started *time.Time) *models.ScanRecord {
	rec := models.NewScanRecord()
	rec.Status[issue] = models.StatusComputing
	rec.Computing[issue] = models.Computing{
		IsComputing:   true,
		ExecutionType: models.ExecutionImmediate,
		StartedAt:     started,
	}
	rec.LastScan[issue] = &models.LastScan{Timestamp: lastScan, DatasetSize: 4}
	return rec
}

func TestImmediateTimeout(t *testing.T) {
	tests := []struct {
		name     string
		lastScan time.Time
		started  *time.Time
		want     models.Status
	}{
		{"last scan 11 minutes ago", testNow.Add(-11 * time.Minute), nil, models.StatusNotComputed},
		{"last scan 5 minutes ago", testNow.Add(-5 * time.Minute), nil, models.StatusComputing},
		{"started 11 minutes ago", testNow, ptrTime(testNow.Add(-11 * time.Minute)), models.StatusNotComputed},
		{"started 2 minutes ago", testNow.Add(-time.Hour), ptrTime(testNow.Add(-2 * time.Minute)), models.StatusComputing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := store.NewMemory()
			putRecord(t, repo, immediateRecord(models.IssueBrightness, tt.lastScan, tt.started))
			e := newTestEngine(t, repo, newTestDataset())

			require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, ""))
			assert.Equal(t, tt.want, getRecord(t, repo).Status[models.IssueBrightness])
		})
	}
}

func TestImmediateTimeoutIsConfigurable(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	putRecord(t, repo, immediateRecord(models.IssueBrightness, testNow.Add(-5*time.Minute), nil))
	e := newTestEngine(t, repo, newTestDataset(), WithImmediateTimeout(time.Minute))

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, ""))
	assert.Equal(t, models.StatusNotComputed, getRecord(t, repo).Status[models.IssueBrightness])
}

func TestImmediateWithoutTimestampStartsClock(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	rec := immediateRecord(models.IssueBrightness, time.Time{}, nil)
	rec.LastScan[models.IssueBrightness] = nil
	putRecord(t, repo, rec)
	e := newTestEngine(t, repo, newTestDataset())

	require.NoError(t, e.CheckComputingStatus(ctx, models.IssueBrightness, ""))

	got := getRecord(t, repo)
	assert.Equal(t, models.StatusComputing, got.Status[models.IssueBrightness])
	require.NotNil(t, got.LastScan[models.IssueBrightness])
	assert.Equal(t, testNow, got.LastScan[models.IssueBrightness].Timestamp)
}

func TestCancelDelegatedRun(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	svc := newFakeRuns()
	e := newTestEngine(t, repo, newTestDataset(), WithRuns(svc))

	runID, err := e.StartScan(ctx, models.IssueBrightness, "delegate_execution")
	require.NoError(t, err)
	require.NoError(t, e.CancelCompute(ctx, models.IssueBrightness))

	assert.Equal(t, []string{runID}, svc.cancelled)
	rec := getRecord(t, repo)
	assert.Equal(t, models.StatusNotComputed, rec.Status[models.IssueBrightness])
	assert.Equal(t, models.Computing{}, rec.Computing[models.IssueBrightness])
	assert.Empty(t, e.State().ComputingIssues())
}

func TestCancelRequiresEdit(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithPermission(PermissionTag))
	err := e.CancelCompute(context.Background(), models.IssueBrightness)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func ptrTime(t time.Time) *time.Time { return &t }
