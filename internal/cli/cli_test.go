package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/dataquality/internal/dataset"
	"github.com/raphaelgruber/dataquality/internal/models"
	"github.com/raphaelgruber/dataquality/internal/runs"
)

// setupCLI writes a manifest with precomputed fields and a config pointing
// at it, and returns a runner executing the root command against them.
func setupCLI(t *testing.T) func(args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()

	ds := dataset.NewMemory("flowers", "Flowers", dataset.MediaImage)
	ds.AddSamples(
		dataset.Sample{ID: "s1", Filepath: "/img/1.png", Fields: map[string]any{"brightness": 0.1, "filehash": "aa"}},
		dataset.Sample{ID: "s2", Filepath: "/img/2.png", Fields: map[string]any{"brightness": 0.3, "filehash": "aa"}},
		dataset.Sample{ID: "s3", Filepath: "/img/3.png", Fields: map[string]any{"brightness": 0.7, "filehash": "bb"}},
		dataset.Sample{ID: "s4", Filepath: "/img/4.png", Fields: map[string]any{"brightness": 0.9, "filehash": "cc"}},
	)
	manifest := filepath.Join(dir, "dataset.yaml")
	require.NoError(t, ds.Save(manifest))

	config := fmt.Sprintf(`store_backend: sqlite
sqlite_path: %s
dataset_manifest: %s
log_file: %s
`, filepath.Join(dir, "dq.db"), manifest, filepath.Join(dir, "dq.log"))
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(config), 0o644))

	return func(args ...string) (string, error) {
		resetFlags(rootCmd)
		var buf bytes.Buffer
		rootCmd.SetOut(&buf)
		rootCmd.SetErr(&buf)
		rootCmd.SetArgs(append([]string{"--config", configFile}, args...))
		t.Cleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetErr(nil)
			rootCmd.SetArgs(nil)
		})
		err := ExecuteContext(context.Background())
		return buf.String(), err
	}
}

// resetFlags restores every flag to its default so each run parses afresh.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func TestStatusBeforeScan(t *testing.T) {
	run := setupCLI(t)

	out, err := run("status")
	require.NoError(t, err)
	for _, issue := range models.AllIssueTypes() {
		assert.Contains(t, out, issue.Title())
	}
	assert.Contains(t, out, models.StatusNotComputed.Label())

	out, err = run("status", "brightness")
	require.NoError(t, err)
	assert.Contains(t, out, "Brightness")
	assert.Contains(t, out, models.StatusNotComputed.Label())
}

func TestScanAnalyzeAndReview(t *testing.T) {
	run := setupCLI(t)

	out, err := run("scan", "brightness")
	require.NoError(t, err)
	assert.Contains(t, out, "Brightness: In Review, 2 samples affected")

	out, err = run("threshold", "save", "brightness", "--lower", "0.25", "--upper", "0.75")
	require.NoError(t, err)
	assert.Contains(t, out, "Threshold [0.25, 0.75]: 2 samples (saved: 2)")

	out, err = run("analyze", "brightness", "--samples")
	require.NoError(t, err)
	assert.Contains(t, out, "Threshold [0.25, 0.75]")
	assert.Contains(t, out, "Samples in view (2)")
	assert.Contains(t, out, "s2")
	assert.Contains(t, out, "s3")

	out, err = run("review", "brightness")
	require.NoError(t, err)
	assert.Contains(t, out, "Brightness: Reviewed")

	out, err = run("review", "brightness", "--reopen")
	require.NoError(t, err)
	assert.Contains(t, out, "Brightness: In Review")

	out, err = run("reset", "brightness")
	require.NoError(t, err)
	assert.Contains(t, out, "Brightness: Not Started")
}

func TestThresholdRejectsDuplicates(t *testing.T) {
	run := setupCLI(t)

	_, err := run("threshold", "set", "exact_duplicates", "--lower", "0", "--upper", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no threshold")
}

func TestDuplicatesAndTag(t *testing.T) {
	run := setupCLI(t)

	_, err := run("scan", "exact_duplicates")
	require.NoError(t, err)

	out, err := run("duplicates")
	require.NoError(t, err)
	assert.Contains(t, out, "aa  s1, s2")
	assert.Contains(t, out, "1 groups, 2 samples")

	out, err = run("tag", "exact_duplicates", "dup", "--sample", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Tagged 1 samples")
}

func TestAnalyzeWithoutValues(t *testing.T) {
	run := setupCLI(t)

	out, err := run("analyze", "entropy")
	require.NoError(t, err)
	assert.Contains(t, out, "dataquality scan entropy")
}

func TestDelegatedScanAndCancel(t *testing.T) {
	run := setupCLI(t)

	out, err := run("scan", "entropy", "--delegate")
	require.NoError(t, err)
	m := regexp.MustCompile(`Scheduled run (\S+) for entropy`).FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	runID := m[1]

	out, err = run("runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "Entropy")

	out, err = run("cancel", "entropy")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled entropy scan")

	out, err = run("runs", "show", runID)
	require.NoError(t, err)
	assert.Contains(t, out, "State: failed")
	assert.Contains(t, out, runs.CancelledMessage)

	out, err = run("poll")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing is computing")
}

func TestUnknownIssue(t *testing.T) {
	run := setupCLI(t)

	_, err := run("scan", "sharpness")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown issue type")
}

func TestImportNeedsDatabase(t *testing.T) {
	run := setupCLI(t)

	_, err := run("import", "dataset.yaml")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestWatchPlain(t *testing.T) {
	ctx := context.Background()
	store := runs.NewMemoryStore()
	mgr := runs.NewManager(store, nil, nil)

	t.Run("completed", func(t *testing.T) {
		run, err := mgr.Schedule(ctx, "flowers", models.IssueBrightness)
		require.NoError(t, err)
		run.State = models.RunCompleted
		run.Progress, run.Total = 4, 4
		require.NoError(t, store.UpdateRun(ctx, run))

		var buf bytes.Buffer
		require.NoError(t, watchPlain(ctx, &buf, mgr, run.ID, time.Millisecond))
		assert.Equal(t, "Brightness [completed] 4/4 samples\n", buf.String())
	})

	t.Run("failed", func(t *testing.T) {
		run, err := mgr.Schedule(ctx, "flowers", models.IssueEntropy)
		require.NoError(t, err)
		require.NoError(t, mgr.Cancel(ctx, run.ID))

		var buf bytes.Buffer
		err = watchPlain(ctx, &buf, mgr, run.ID, time.Millisecond)
		require.Error(t, err)
		assert.Equal(t, runs.CancelledMessage, err.Error())
	})

	t.Run("unknown run", func(t *testing.T) {
		var buf bytes.Buffer
		err := watchPlain(ctx, &buf, mgr, "missing", time.Millisecond)
		assert.Error(t, err)
	})
}

func TestWatchModelFinishes(t *testing.T) {
	m := newWatchModel(nil, "r1")

	errMsg := "operator crashed"
	next, _ := m.Update(runUpdateMsg{run: &models.Run{ID: "r1", State: models.RunFailed, Error: &errMsg}})
	got := next.(watchModel)
	assert.True(t, got.done)
	require.Error(t, got.err)
	assert.True(t, strings.Contains(got.renderContent(), errMsg))

	next, _ = m.Update(runUpdateMsg{run: &models.Run{ID: "r1", State: models.RunRunning, Progress: 1, Total: 2}})
	got = next.(watchModel)
	assert.False(t, got.done)
	assert.Contains(t, got.renderContent(), "1/2 samples")
}
