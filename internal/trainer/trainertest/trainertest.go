// Package trainertest builds small synthetic datasets and trained artifacts
// for tests.
package trainertest

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/dataset"
	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/trainer"
)

// Header matches the public diamonds CSV, including its unnamed index column.
var Header = []string{"", "carat", "cut", "color", "clarity", "depth", "table", "price", "x", "y", "z"}

// Price is the synthetic pricing rule: strongly increasing in carat and in
// each grade, mildly in table.
func Price(d model.Diamond) float64 {
	rank := func(levels []string, v string) float64 {
		for i, l := range levels {
			if l == v {
				return float64(i)
			}
		}
		return 0
	}
	logPrice := 6 + 1.6*math.Log(d.Carat/0.2+1) +
		0.05*rank(model.CutLevels(), d.Cut) +
		0.08*rank(model.ColorLevels(), d.Color) +
		0.1*rank(model.ClarityLevels(), d.Clarity) +
		0.002*d.Table
	return math.Round(math.Exp(logPrice))
}

// Table returns n valid rows priced by Price.
func Table(n int, seed uint64) *dataset.Table {
	rng := rand.New(rand.NewPCG(seed, 7))
	cuts, colors, clarities := model.CutLevels(), model.ColorLevels(), model.ClarityLevels()

	t := &dataset.Table{Header: Header}
	for i := range n {
		d := model.Diamond{
			Carat:   math.Round((0.2+rng.Float64()*2.8)*100) / 100,
			Cut:     cuts[rng.IntN(len(cuts))],
			Color:   colors[rng.IntN(len(colors))],
			Clarity: clarities[rng.IntN(len(clarities))],
			Table:   float64(50 + rng.IntN(20)),
		}
		side := 4 + d.Carat
		t.Rows = append(t.Rows, []string{
			fmt.Sprint(i + 1),
			fmt.Sprint(d.Carat), d.Cut, d.Color, d.Clarity,
			"61.5",
			fmt.Sprint(d.Table),
			fmt.Sprint(Price(d)),
			fmt.Sprintf("%.2f", side), fmt.Sprintf("%.2f", side), fmt.Sprintf("%.2f", side*0.6),
		})
	}
	return t
}

// Params are fast hyperparameters for tests.
func Params() model.TrainingParams {
	p := trainer.DefaultParams()
	p.NEstimators = 10
	p.MaxDepth = 10
	return p
}

// Artifacts trains a small model into a temp dir and returns its paths.
func Artifacts(t testing.TB) artifact.Paths {
	t.Helper()
	paths := artifact.InDir(t.TempDir())
	_, err := trainer.Train(context.Background(), Table(600, 1), trainer.Options{
		Source:  "synthetic",
		Params:  Params(),
		Workers: 4,
		Paths:   paths,
	})
	require.NoError(t, err)
	return paths
}

// Bundle trains a small model and loads it back.
func Bundle(t testing.TB) artifact.Bundle {
	t.Helper()
	b := artifact.Load(Artifacts(t))
	require.True(t, b.Status().Ready())
	return b
}
