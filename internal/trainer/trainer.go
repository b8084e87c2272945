// Package trainer fits the price model from a diamonds dataset and writes
// the artifacts the prediction service loads.
package trainer

import (
	"cmp"
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/dataset"
	"github.com/sells-group/diamond-cli/internal/encoder"
	"github.com/sells-group/diamond-cli/internal/forest"
	"github.com/sells-group/diamond-cli/internal/model"
)

// Options configures a training run.
type Options struct {
	Source  string
	Dataset dataset.Options
	Params  model.TrainingParams
	Workers int
	Paths   artifact.Paths
}

// DefaultParams returns the default split and forest settings.
func DefaultParams() model.TrainingParams {
	p := forest.DefaultParams()
	return model.TrainingParams{
		TestFraction:    0.2,
		Seed:            p.Seed,
		NEstimators:     p.NEstimators,
		MaxDepth:        p.MaxDepth,
		MinSamplesSplit: p.MinSamplesSplit,
		MinSamplesLeaf:  p.MinSamplesLeaf,
	}
}

// Result is the outcome of a successful run.
type Result struct {
	Metrics model.RunMetrics
	Bundle  artifact.Bundle
	Cleaned dataset.Report
}

// Run loads opts.Source and trains on it.
func Run(ctx context.Context, opts Options) (*Result, error) {
	tbl, err := dataset.Load(ctx, opts.Source, opts.Dataset)
	if err != nil {
		return nil, err
	}
	return Train(ctx, tbl, opts)
}

// Train cleans and encodes tbl, fits the forest on log(price), evaluates it
// on a held-out split and saves the artifacts to opts.Paths.
func Train(ctx context.Context, tbl *dataset.Table, opts Options) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "trainer"))

	frame, err := dataset.Parse(tbl)
	if err != nil {
		return nil, err
	}
	frame, report := dataset.Clean(frame)

	enc := encoder.NewDiamond()
	x, y, err := Encode(frame, enc)
	if err != nil {
		return nil, err
	}

	trainIdx, testIdx, err := Split(len(y), opts.Params.TestFraction, opts.Params.Seed)
	if err != nil {
		return nil, err
	}
	xTrain, yTrain := gather(x, y, trainIdx)
	xTest, yTest := gather(x, y, testIdx)

	log.Info("fitting forest",
		zap.Int("train_rows", len(yTrain)),
		zap.Int("test_rows", len(yTest)),
		zap.Strings("features", frame.Features),
		zap.Int("n_estimators", opts.Params.NEstimators),
		zap.Int("max_depth", opts.Params.MaxDepth),
	)

	f, err := forest.Fit(ctx, xTrain, yTrain, forest.Params{
		NEstimators:     opts.Params.NEstimators,
		MaxDepth:        opts.Params.MaxDepth,
		MinSamplesSplit: opts.Params.MinSamplesSplit,
		MinSamplesLeaf:  opts.Params.MinSamplesLeaf,
		Seed:            opts.Params.Seed,
		Workers:         opts.Workers,
	})
	if err != nil {
		return nil, eris.Wrap(err, "trainer: fit")
	}

	pred, err := f.PredictBatch(xTest)
	if err != nil {
		return nil, eris.Wrap(err, "trainer: evaluate")
	}
	metrics := Evaluate(yTest, pred)
	metrics.TrainRows = len(yTrain)
	metrics.TestRows = len(yTest)
	metrics.DroppedRows = report.Dropped()
	metrics.Features = slices.Clone(frame.Features)
	metrics.Importances = SortedImportances(frame.Features, f.FeatureImportances())
	metrics.TrainSeconds = time.Since(start).Seconds()

	bundle := artifact.Bundle{Model: f, Encoder: enc, Features: slices.Clone(frame.Features)}
	if err := artifact.Save(opts.Paths, bundle); err != nil {
		return nil, err
	}

	log.Info("training complete",
		zap.Float64("mse", metrics.MSE),
		zap.Float64("rmse", metrics.RMSE),
		zap.Float64("r2", metrics.R2),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Result{Metrics: metrics, Bundle: bundle, Cleaned: report}, nil
}

// Encode builds the feature matrix in frame.Features order and the log-price
// target. An unknown category fails with the offending line and value.
func Encode(frame *dataset.Frame, enc *encoder.OrdinalEncoder) ([][]float64, []float64, error) {
	x := make([][]float64, len(frame.Rows))
	y := make([]float64, len(frame.Rows))
	for i, r := range frame.Rows {
		vec, err := enc.Vector(frame.Features, r.Diamond)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "trainer: line %d", r.Line)
		}
		if r.Price <= 0 {
			return nil, nil, eris.Errorf("trainer: line %d: price %v has no logarithm", r.Line, r.Price)
		}
		x[i] = vec
		y[i] = math.Log(r.Price)
	}
	return x, y, nil
}

// Split shuffles row indices with seed and holds out ceil(n*testFraction) of
// them for testing.
func Split(n int, testFraction float64, seed int64) (train, test []int, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, eris.Errorf("trainer: test fraction %v must be between 0 and 1", testFraction)
	}
	nTest := int(math.Ceil(float64(n) * testFraction))
	if nTest < 1 || n-nTest < 1 {
		return nil, nil, eris.Errorf("trainer: %d rows is too few to split", n)
	}

	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	perm := rng.Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

func gather(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	gx := make([][]float64, len(idx))
	gy := make([]float64, len(idx))
	for i, j := range idx {
		gx[i] = x[j]
		gy[i] = y[j]
	}
	return gx, gy
}

// Evaluate computes MSE, RMSE and R² of pred against actual.
func Evaluate(actual, pred []float64) model.RunMetrics {
	if len(actual) == 0 {
		return model.RunMetrics{}
	}
	diff := make([]float64, len(actual))
	floats.SubTo(diff, pred, actual)
	mse := floats.Dot(diff, diff) / float64(len(diff))
	return model.RunMetrics{
		MSE:  mse,
		RMSE: math.Sqrt(mse),
		R2:   stat.RSquaredFrom(pred, actual, nil),
	}
}

// SortedImportances pairs importances with feature names, largest first.
func SortedImportances(features []string, importances []float64) []model.FeatureImportance {
	out := make([]model.FeatureImportance, 0, len(features))
	for i, name := range features {
		if i < len(importances) {
			out = append(out, model.FeatureImportance{Feature: name, Importance: importances[i]})
		}
	}
	slices.SortStableFunc(out, func(a, b model.FeatureImportance) int {
		return cmp.Compare(b.Importance, a.Importance)
	})
	return out
}
