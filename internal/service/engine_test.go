package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/metrics"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/operators"
	"github.com/raphaelgruber/dataquality/internal/runs"
	"github.com/raphaelgruber/dataquality/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const testKey = "data_quality_store_ds1v1"

// newTestDataset returns four images last modified an hour before testNow.
// Brightness and filehash are populated; s1 and s3 share a hash.
func newTestDataset() *dataset.Memory {
	ds := dataset.NewMemory("ds1", "flowers", dataset.MediaImage)
	ds.SetClock(func() time.Time { return testNow.Add(-time.Hour) })
	ds.AddSamples(
		dataset.Sample{ID: "s1", Filepath: "/img/1.png", Fields: map[string]any{"brightness": 0.0, "filehash": "a"}},
		dataset.Sample{ID: "s2", Filepath: "/img/2.png", Fields: map[string]any{"brightness": 0.2, "filehash": "b"}},
		dataset.Sample{ID: "s3", Filepath: "/img/3.png", Fields: map[string]any{"brightness": 0.6, "filehash": "a"}},
		dataset.Sample{ID: "s4", Filepath: "/img/4.png", Fields: map[string]any{"brightness": 1.0, "filehash": "c"}},
	)
	return ds
}

// fakeRuns is an in-memory delegated-operation service.
type fakeRuns struct {
	mu        sync.Mutex
	runs      map[string]*models.Run
	cancelled []string
	next      int
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[string]*models.Run)}
}

func (f *fakeRuns) Schedule(_ context.Context, datasetID string, issue models.IssueType) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	run := &models.Run{
		ID:        fmt.Sprintf("run-%d", f.next),
		DatasetID: datasetID,
		IssueType: issue,
		Operator:  issue.Operator(),
		State:     models.RunScheduled,
	}
	f.runs[run.ID] = run
	cp := *run
	return &cp, nil
}

func (f *fakeRuns) Get(_ context.Context, id string) (*models.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", runs.ErrRunNotFound, id)
	}
	cp := *run
	return &cp, nil
}

func (f *fakeRuns) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeRuns) set(id string, state models.RunState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		run = &models.Run{ID: id}
		f.runs[id] = run
	}
	run.State = state
}

// fakeOperator writes fixed values for its issue's field.
type fakeOperator struct {
	issue  models.IssueType
	values map[string]any
	err    error
	calls  []operators.Options
}

func (f *fakeOperator) Name() string            { return f.issue.Operator() }
func (f *fakeOperator) Issue() models.IssueType { return f.issue }

func (f *fakeOperator) Compute(ctx context.Context, ds dataset.Dataset, opts operators.Options) (operators.Result, error) {
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return operators.Result{}, f.err
	}
	if err := ds.SetValues(ctx, f.issue.Field(), f.values); err != nil {
		return operators.Result{}, err
	}
	return operators.Result{Computed: len(f.values)}, nil
}

// recordingRepo remembers every status written per issue.
type recordingRepo struct {
	*store.Memory
	statuses map[models.IssueType][]models.Status
}

func newRecordingRepo() *recordingRepo {
	return &recordingRepo{Memory: store.NewMemory(), statuses: make(map[models.IssueType][]models.Status)}
}

func (r *recordingRepo) PutScanRecord(ctx context.Context, key string, rec *models.ScanRecord) error {
	for _, t := range models.AllIssueTypes() {
		hist := r.statuses[t]
		if len(hist) == 0 || hist[len(hist)-1] != rec.Status[t] {
			r.statuses[t] = append(hist, rec.Status[t])
		}
	}
	return r.Memory.PutScanRecord(ctx, key, rec)
}

// countingDataset counts field existence queries.
type countingDataset struct {
	dataset.Dataset
	countExists int
	boundsErr   error
}

func (c *countingDataset) CountExists(ctx context.Context, field string, exists bool) (int, error) {
	c.countExists++
	return c.Dataset.CountExists(ctx, field, exists)
}

func (c *countingDataset) Bounds(ctx context.Context, field string) (float64, float64, error) {
	if c.boundsErr != nil {
		return 0, 0, c.boundsErr
	}
	return c.Dataset.Bounds(ctx, field)
}

func newTestEngine(t *testing.T, repo store.Repository, ds dataset.Dataset, opts ...Option) *Engine {
	t.Helper()
	base := []Option{WithClock(func() time.Time { return testNow })}
	e := New(repo, ds, append(base, opts...)...)
	require.NoError(t, e.Load(context.Background()))
	return e
}

func putRecord(t *testing.T, repo store.Repository, rec *models.ScanRecord) {
	t.Helper()
	require.NoError(t, repo.PutScanRecord(context.Background(), testKey, rec))
}

func getRecord(t *testing.T, repo store.Repository) *models.ScanRecord {
	t.Helper()
	rec, err := repo.GetScanRecord(context.Background(), testKey)
	require.NoError(t, err)
	return rec
}

func TestEngineKey(t *testing.T) {
	e := New(store.NewMemory(), newTestDataset())
	assert.Equal(t, testKey, e.Key())

	e = New(store.NewMemory(), newTestDataset(), WithPanelVersion("v2"))
	assert.Equal(t, "data_quality_store_ds1v2", e.Key())
}

func TestLoadCreatesDefaultRecord(t *testing.T) {
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	st := e.State()
	assert.True(t, st.FirstOpen)
	assert.Equal(t, ScreenHome, st.Screen)
	assert.Empty(t, st.Issue)
	assert.True(t, st.NewSampleScan)
	assert.Equal(t, "flowers", st.DatasetName)

	rec := getRecord(t, repo)
	for _, issue := range models.AllIssueTypes() {
		assert.Equal(t, models.StatusNotComputed, rec.Status[issue], issue)
		assert.Equal(t, models.DefaultThresholdConfig(issue), rec.Config[issue], issue)
	}
}

func TestLoadReadsExistingRecord(t *testing.T) {
	repo := store.NewMemory()
	rec := models.NewScanRecord()
	rec.Status[models.IssueBrightness] = models.StatusComputing
	rec.Computing[models.IssueBrightness] = models.Computing{
		IsComputing:     true,
		ExecutionType:   models.ExecutionDelegated,
		DelegationRunID: "run-7",
	}
	rec.Config[models.IssueEntropy] = models.ThresholdConfig{DetectMethod: models.MethodThreshold, Min: 1, Max: 2}
	putRecord(t, repo, rec)

	e := newTestEngine(t, repo, newTestDataset())
	st := e.State()
	assert.False(t, st.FirstOpen)
	assert.Equal(t, "run-7", st.Computing[models.IssueBrightness].DelegationRunID)
	assert.Equal(t, []models.IssueType{models.IssueBrightness}, st.ComputingIssues())
	assert.Equal(t, models.MethodThreshold, st.Config[models.IssueEntropy].DetectMethod)
}

func TestUnloadFlushesComputing(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	e := newTestEngine(t, repo, newTestDataset())

	// Another writer replaces the record mid-session.
	putRecord(t, repo, models.NewScanRecord())

	e.state.Computing[models.IssueEntropy] = models.Computing{IsComputing: true, ExecutionType: models.ExecutionImmediate}
	e.state.View = dataset.RangeView("entropy", 0, 1)
	require.NoError(t, e.Unload(ctx))

	rec := getRecord(t, repo)
	assert.True(t, rec.Computing[models.IssueEntropy].IsComputing)
	assert.True(t, e.State().View.IsAll())
}

func TestStateIsACopy(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	st := e.State()
	st.Computing[models.IssueBrightness] = models.Computing{IsComputing: true}
	st.Selected = append(st.Selected, "s1")

	assert.Empty(t, e.State().ComputingIssues())
	assert.Empty(t, e.State().Selected)
}

func TestBound(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	assert.NoError(t, e.Bound("flowers"))
	assert.ErrorIs(t, e.Bound("birds"), ErrDatasetMismatch)
}

func TestSupported(t *testing.T) {
	e := newTestEngine(t, store.NewMemory(), newTestDataset())
	assert.True(t, e.Supported())

	video := dataset.NewMemory("ds2", "clips", "video")
	e = New(store.NewMemory(), video)
	assert.False(t, e.Supported())
	_, err := e.StartScan(context.Background(), models.IssueBrightness, "execute")
	assert.ErrorIs(t, err, operators.ErrUnsupportedMedia)
}

func TestIssueTypeRequired(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, store.NewMemory(), newTestDataset())

	assert.ErrorIs(t, e.CheckComputingStatus(ctx, "", "run-1"), ErrIssueTypeRequired)
	assert.ErrorIs(t, e.ProcessComputation(ctx, "", false), ErrIssueTypeRequired)
	assert.ErrorIs(t, e.Navigate(ctx, "", ScreenAnalysis, false), ErrIssueTypeRequired)
	assert.Error(t, e.CheckComputingStatus(ctx, "sharpness", "run-1"))
}

func TestMetricsTrackDatasetQueries(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewCollector()
	e := newTestEngine(t, store.NewMemory(), newTestDataset(), WithMetrics(m))

	require.NoError(t, e.ProcessComputation(ctx, models.IssueBrightness, true))
	snap := m.Get(metrics.OpDatasetQuery)
	require.NotNil(t, snap)
	assert.Positive(t, snap.Count)
}

func TestStoreErrorsPropagate(t *testing.T) {
	boom := errors.New("store down")
	e := New(failingRepo{err: boom}, newTestDataset())
	assert.ErrorIs(t, e.Load(context.Background()), boom)
}

type failingRepo struct{ err error }

func (f failingRepo) GetScanRecord(context.Context, string) (*models.ScanRecord, error) {
	return nil, f.err
}

func (f failingRepo) PutScanRecord(context.Context, string, *models.ScanRecord) error {
	return f.err
}
