// Package store records training runs.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diamond-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("store: run not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Source string          `json:"source,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// NewRun describes a run about to start.
type NewRun struct {
	Source      string
	Params      model.TrainingParams
	ArtifactDir string
}

// RunStats summarizes the run history.
type RunStats struct {
	Total    int      `json:"total"`
	Running  int      `json:"running"`
	Complete int      `json:"complete"`
	Failed   int      `json:"failed"`
	AvgR2    *float64 `json:"avg_r2,omitempty"`
	BestR2   *float64 `json:"best_r2,omitempty"`
	BestRun  string   `json:"best_run,omitempty"`
	AvgRMSE  *float64 `json:"avg_rmse,omitempty"`
}

// Store defines the persistence interface for training runs.
type Store interface {
	CreateRun(ctx context.Context, run NewRun) (*model.TrainingRun, error)
	CompleteRun(ctx context.Context, runID string, metrics *model.RunMetrics) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*model.TrainingRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.TrainingRun, error)
	Stats(ctx context.Context) (*RunStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 50

func (f RunFilter) limit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	return f.Limit
}
