package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/store"
	"github.com/sells-group/diamond-cli/internal/trainer"
	"github.com/sells-group/diamond-cli/internal/trainer/trainertest"
)

func writeDataset(t *testing.T, n int) string {
	t.Helper()
	tbl := trainertest.Table(n, 11)
	p := filepath.Join(t.TempDir(), "diamonds.csv")
	f, err := os.Create(p)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(tbl.Header))
	require.NoError(t, w.WriteAll(tbl.Rows))
	require.NoError(t, f.Close())
	return p
}

func testTrainOptions(t *testing.T, source string) trainer.Options {
	return trainer.Options{
		Source:  source,
		Params:  trainertest.Params(),
		Workers: 2,
		Paths:   artifact.InDir(t.TempDir()),
	}
}

func newRunStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestTrainOptions(t *testing.T) {
	c := &config.Config{
		Dataset: config.DatasetConfig{URL: "data.csv", TimeoutSecs: 5, MaxRetries: 2, TempDir: "/tmp/d"},
		Train: config.TrainConfig{
			TestFraction: 0.25, Seed: 7, NEstimators: 20, MaxDepth: 8,
			MinSamplesSplit: 4, MinSamplesLeaf: 2, Workers: 3,
		},
		Artifacts: config.ArtifactsConfig{Dir: "/srv", ModelFile: "m.zst", EncoderFile: "e.json", FeaturesFile: "f.json"},
	}

	opts := trainOptions(c)
	assert.Equal(t, "data.csv", opts.Source)
	assert.Equal(t, 5*time.Second, opts.Dataset.Timeout)
	assert.Equal(t, 2, opts.Dataset.MaxRetries)
	assert.Equal(t, "/tmp/d", opts.Dataset.TempDir)
	assert.Equal(t, model.TrainingParams{
		TestFraction: 0.25, Seed: 7, NEstimators: 20, MaxDepth: 8,
		MinSamplesSplit: 4, MinSamplesLeaf: 2,
	}, opts.Params)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, "/srv/m.zst", opts.Paths.Model)
}

func TestRunTrain_RecordsRun(t *testing.T) {
	ctx := context.Background()
	st := newRunStore(t)
	opts := testTrainOptions(t, writeDataset(t, 300))
	report := filepath.Join(t.TempDir(), "report.yaml")

	var out bytes.Buffer
	res, err := runTrain(ctx, &out, st, opts, report)
	require.NoError(t, err)

	output := out.String()
	assert.Contains(t, output, "Mean Squared Error:")
	assert.Contains(t, output, "R2 Score:")
	assert.Contains(t, output, "Feature importances:")
	assert.Contains(t, output, "carat")
	assert.Contains(t, output, opts.Paths.Model)
	assert.Contains(t, output, "Report written to "+report)
	assert.FileExists(t, report)

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, opts.Source, run.Source)
	assert.Equal(t, filepath.Dir(opts.Paths.Model), run.ArtifactDir)
	require.NotNil(t, run.Metrics)
	assert.InDelta(t, res.Metrics.R2, run.Metrics.R2, 1e-9)
	assert.Contains(t, output, run.ID)

	assert.True(t, artifact.Load(opts.Paths).Status().Ready())
}

func TestRunTrain_FailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	st := newRunStore(t)
	opts := testTrainOptions(t, filepath.Join(t.TempDir(), "missing.csv"))

	var out bytes.Buffer
	_, err := runTrain(ctx, &out, st, opts, "")
	require.Error(t, err)
	assert.Empty(t, out.String())

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotEmpty(t, runs[0].Error)
}

func TestRunTrain_WithoutStore(t *testing.T) {
	var out bytes.Buffer
	_, err := runTrain(context.Background(), &out, nil, testTrainOptions(t, writeDataset(t, 200)), "")
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "Run:")
	assert.Contains(t, out.String(), "R2 Score:")
}

// flakyStore wraps a real store and fails the configured writes.
type flakyStore struct {
	store.Store
	createErr   error
	completeErr error
}

func (s *flakyStore) CreateRun(ctx context.Context, run store.NewRun) (*model.TrainingRun, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	return s.Store.CreateRun(ctx, run)
}

func (s *flakyStore) CompleteRun(ctx context.Context, runID string, metrics *model.RunMetrics) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	return s.Store.CompleteRun(ctx, runID, metrics)
}

func TestRunTrain_CreateRunFailureStillTrains(t *testing.T) {
	ctx := context.Background()
	inner := newRunStore(t)
	st := &flakyStore{Store: inner, createErr: errors.New("disk full")}
	opts := testTrainOptions(t, writeDataset(t, 200))

	var out bytes.Buffer
	_, err := runTrain(ctx, &out, st, opts, "")
	require.NoError(t, err)
	assert.NotContains(t, out.String(), "Run:")
	assert.True(t, artifact.Load(opts.Paths).Status().Ready())

	runs, err := inner.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunTrain_CompleteRunFailureStillSucceeds(t *testing.T) {
	ctx := context.Background()
	inner := newRunStore(t)
	st := &flakyStore{Store: inner, completeErr: errors.New("connection reset")}

	var out bytes.Buffer
	res, err := runTrain(ctx, &out, st, testTrainOptions(t, writeDataset(t, 200)), "")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, out.String(), "R2 Score:")

	runs, err := inner.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusRunning, runs[0].Status)
}
