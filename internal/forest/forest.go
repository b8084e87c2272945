// Package forest implements a bagged random forest of CART regression trees.
package forest

import (
	"context"
	"math/rand/v2"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Params controls forest fitting.
type Params struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	Seed            int64
	Workers         int // 0 means GOMAXPROCS
}

// DefaultParams returns the hyperparameters the trainer uses.
func DefaultParams() Params {
	return Params{
		NEstimators:     50,
		MaxDepth:        15,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
	}
}

func (p Params) validate() error {
	switch {
	case p.NEstimators < 1:
		return eris.New("forest: n_estimators must be positive")
	case p.MaxDepth < 1:
		return eris.New("forest: max_depth must be positive")
	case p.MinSamplesSplit < 2:
		return eris.New("forest: min_samples_split must be at least 2")
	case p.MinSamplesLeaf < 1:
		return eris.New("forest: min_samples_leaf must be positive")
	}
	return nil
}

// Forest is a fitted regressor. It is safe for concurrent use once built.
type Forest struct {
	NFeatures   int       `json:"n_features"`
	Trees       []Tree    `json:"trees"`
	Importances []float64 `json:"importances"`
}

// Fit grows p.NEstimators trees on bootstrap samples of (x, y). Each tree has
// its own RNG derived from p.Seed and the tree index, so the result does not
// depend on scheduling.
func Fit(ctx context.Context, x [][]float64, y []float64, p Params) (*Forest, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if len(x) == 0 {
		return nil, eris.New("forest: no training rows")
	}
	if len(x) != len(y) {
		return nil, eris.Errorf("forest: %d rows but %d targets", len(x), len(y))
	}
	nFeatures := len(x[0])
	if nFeatures == 0 {
		return nil, eris.New("forest: no features")
	}
	for i, row := range x {
		if len(row) != nFeatures {
			return nil, eris.Errorf("forest: row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}

	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, p.NEstimators)
	importances := make([][]float64, p.NEstimators)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range p.NEstimators {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return eris.Wrap(err, "forest: fit cancelled")
			}
			rng := rand.New(rand.NewPCG(uint64(p.Seed), uint64(i)))
			trees[i], importances[i] = fitTree(x, y, nFeatures, p, rng)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	zap.L().Debug("forest: fitted",
		zap.Int("trees", p.NEstimators),
		zap.Int("rows", len(x)),
		zap.Int("workers", workers),
	)

	return &Forest{
		NFeatures:   nFeatures,
		Trees:       trees,
		Importances: combineImportances(importances, nFeatures),
	}, nil
}

// combineImportances normalizes each tree's impurity decreases, averages them
// across trees and renormalizes the result to sum to 1.
func combineImportances(perTree [][]float64, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, imp := range perTree {
		sum := floats.Sum(imp)
		if sum <= 0 {
			continue
		}
		scaled := make([]float64, nFeatures)
		floats.ScaleTo(scaled, 1/sum, imp)
		floats.Add(out, scaled)
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// Predict returns the mean of the trees' predictions for one feature vector.
func (f *Forest) Predict(x []float64) (float64, error) {
	if len(x) != f.NFeatures {
		return 0, eris.Errorf("forest: got %d features, want %d", len(x), f.NFeatures)
	}
	if len(f.Trees) == 0 {
		return 0, eris.New("forest: no trees")
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees)), nil
}

// PredictBatch predicts every row of x.
func (f *Forest) PredictBatch(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		v, err := f.Predict(row)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// FeatureImportances returns a copy of the normalized importances.
func (f *Forest) FeatureImportances() []float64 {
	out := make([]float64, len(f.Importances))
	copy(out, f.Importances)
	return out
}

// Validate checks the structural integrity of a decoded forest.
func (f *Forest) Validate() error {
	if f.NFeatures <= 0 {
		return eris.New("forest: n_features must be positive")
	}
	if len(f.Trees) == 0 {
		return eris.New("forest: no trees")
	}
	if len(f.Importances) != 0 && len(f.Importances) != f.NFeatures {
		return eris.Errorf("forest: %d importances for %d features", len(f.Importances), f.NFeatures)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return eris.Errorf("forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.IsLeaf() {
				if n.Right != leaf {
					return eris.Errorf("forest: tree %d node %d has one child", ti, ni)
				}
				continue
			}
			if n.Feature < 0 || n.Feature >= f.NFeatures {
				return eris.Errorf("forest: tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			// Children are always appended after their parent.
			if n.Left <= ni || n.Left >= len(t.Nodes) || n.Right <= ni || n.Right >= len(t.Nodes) {
				return eris.Errorf("forest: tree %d node %d has out of range children", ti, ni)
			}
		}
	}
	return nil
}
