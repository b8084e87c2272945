package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testParams() model.TrainingParams {
	return model.TrainingParams{TestFraction: 0.2, Seed: 42, NEstimators: 50, MaxDepth: 15, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func testMetrics(r2 float64) *model.RunMetrics {
	return &model.RunMetrics{
		MSE: 0.01, RMSE: 0.1, R2: r2,
		TrainRows: 800, TestRows: 200, DroppedRows: 3,
		Features:    model.FeatureNames(),
		Importances: []model.FeatureImportance{{Feature: "carat", Importance: 0.9}, {Feature: "clarity", Importance: 0.1}},
	}
}

func TestSQLite_CreateAndGet(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, NewRun{Source: "diamonds.csv", Params: testParams(), ArtifactDir: "/srv/models"})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "diamonds.csv", got.Source)
	assert.Equal(t, testParams(), got.Params)
	assert.Equal(t, "/srv/models", got.ArtifactDir)
	assert.Nil(t, got.Metrics)
	assert.WithinDuration(t, run.CreatedAt, got.CreatedAt, time.Second)
}

func TestSQLite_CompleteRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, NewRun{Source: "a.csv", Params: testParams(), ArtifactDir: "."})
	require.NoError(t, err)
	require.NoError(t, s.CompleteRun(ctx, run.ID, testMetrics(0.98)))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	require.NotNil(t, got.Metrics)
	assert.InDelta(t, 0.98, got.Metrics.R2, 1e-12)
	assert.Equal(t, model.FeatureNames(), got.Metrics.Features)
	assert.Len(t, got.Metrics.Importances, 2)
	assert.True(t, got.Status.IsTerminal())
}

func TestSQLite_FailRun(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, NewRun{Source: "a.csv", Params: testParams(), ArtifactDir: "."})
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, run.ID, "dataset: empty file"))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "dataset: empty file", got.Error)
}

func TestSQLite_NotFound(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CompleteRun(ctx, "missing", testMetrics(0.5)), ErrNotFound)
	assert.ErrorIs(t, s.FailRun(ctx, "missing", "x"), ErrNotFound)
	assert.Error(t, s.CompleteRun(ctx, "missing", nil))
}

func TestSQLite_ListRuns(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	var ids []string
	for i, src := range []string{"a.csv", "b.csv", "a.csv"} {
		run, err := s.CreateRun(ctx, NewRun{Source: src, Params: testParams(), ArtifactDir: "."})
		require.NoError(t, err)
		ids = append(ids, run.ID)
		if i == 1 {
			require.NoError(t, s.FailRun(ctx, run.ID, "boom"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	all, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")

	failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, ids[1], failed[0].ID)

	fromA, err := s.ListRuns(ctx, RunFilter{Source: "a.csv", Limit: 1})
	require.NoError(t, err)
	require.Len(t, fromA, 1)
	assert.Equal(t, ids[2], fromA[0].ID)

	page2, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, ids[0], page2[0].ID)
}

func TestSQLite_Stats(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.Nil(t, empty.AvgR2)
	assert.Nil(t, empty.BestR2)

	var best string
	for _, r2 := range []float64{0.9, 0.97} {
		run, err := s.CreateRun(ctx, NewRun{Source: "a.csv", Params: testParams(), ArtifactDir: "."})
		require.NoError(t, err)
		require.NoError(t, s.CompleteRun(ctx, run.ID, testMetrics(r2)))
		best = run.ID
	}
	failed, err := s.CreateRun(ctx, NewRun{Source: "a.csv", Params: testParams(), ArtifactDir: "."})
	require.NoError(t, err)
	require.NoError(t, s.FailRun(ctx, failed.ID, "x"))
	_, err = s.CreateRun(ctx, NewRun{Source: "a.csv", Params: testParams(), ArtifactDir: "."})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Complete)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.Running)
	require.NotNil(t, st.AvgR2)
	assert.InDelta(t, 0.935, *st.AvgR2, 1e-9)
	require.NotNil(t, st.BestR2)
	assert.InDelta(t, 0.97, *st.BestR2, 1e-12)
	assert.Equal(t, best, st.BestRun)
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	assert.NoError(t, s.Migrate(context.Background()))
}
