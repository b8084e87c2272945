package trainer

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/diamond-cli/internal/model"
)

// Report is the YAML summary written with --report.
type Report struct {
	RunID       string               `yaml:"run_id,omitempty"`
	Source      string               `yaml:"source"`
	GeneratedAt time.Time            `yaml:"generated_at"`
	Params      model.TrainingParams `yaml:"params"`
	Metrics     model.RunMetrics     `yaml:"metrics"`
	Artifacts   map[string]string    `yaml:"artifacts"`
}

// NewReport builds a report for a finished run.
func NewReport(runID string, opts Options, res *Result) Report {
	return Report{
		RunID:       runID,
		Source:      opts.Source,
		GeneratedAt: time.Now().UTC(),
		Params:      opts.Params,
		Metrics:     res.Metrics,
		Artifacts: map[string]string{
			"model":    opts.Paths.Model,
			"encoder":  opts.Paths.Encoder,
			"features": opts.Paths.Features,
		},
	}
}

// WriteReport writes r to path as YAML.
func WriteReport(path string, r Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "trainer: marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "trainer: write report")
	}
	return nil
}
