package model

import "time"

// RunStatus represents the current state of a training run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusComplete || s == RunStatusFailed
}

// TrainingParams are the hyperparameters and split settings a run used.
type TrainingParams struct {
	TestFraction    float64 `json:"test_fraction" yaml:"test_fraction"`
	Seed            int64   `json:"seed" yaml:"seed"`
	NEstimators     int     `json:"n_estimators" yaml:"n_estimators"`
	MaxDepth        int     `json:"max_depth" yaml:"max_depth"`
	MinSamplesSplit int     `json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
}

// FeatureImportance is the normalized impurity decrease attributed to a feature.
type FeatureImportance struct {
	Feature    string  `json:"feature" yaml:"feature"`
	Importance float64 `json:"importance" yaml:"importance"`
}

// RunMetrics holds evaluation results on the held-out split, in log-price space.
type RunMetrics struct {
	MSE          float64             `json:"mse" yaml:"mse"`
	RMSE         float64             `json:"rmse" yaml:"rmse"`
	R2           float64             `json:"r2" yaml:"r2"`
	TrainRows    int                 `json:"train_rows" yaml:"train_rows"`
	TestRows     int                 `json:"test_rows" yaml:"test_rows"`
	DroppedRows  int                 `json:"dropped_rows" yaml:"dropped_rows"`
	Features     []string            `json:"features" yaml:"features"`
	Importances  []FeatureImportance `json:"importances" yaml:"importances"`
	TrainSeconds float64             `json:"train_seconds" yaml:"train_seconds"`
}

// TrainingRun is one invocation of the trainer.
type TrainingRun struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Status      RunStatus      `json:"status"`
	Params      TrainingParams `json:"params"`
	ArtifactDir string         `json:"artifact_dir"`
	Metrics     *RunMetrics    `json:"metrics,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Duration returns how long the run took, or has been running so far.
func (r TrainingRun) Duration() time.Duration {
	return r.UpdatedAt.Sub(r.CreatedAt)
}
