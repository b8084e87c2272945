package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/dataset"
	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/store"
	"github.com/sells-group/diamond-cli/internal/trainer"
)

var (
	trainSource    string
	trainArtifacts string
	trainReport    string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the price model and write its artifacts",
	Long:  "Downloads or reads the diamonds dataset, fits a random forest on log(price), prints held-out metrics and writes the model, encoder and feature list.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if trainSource != "" {
			cfg.Dataset.URL = trainSource
		}
		if trainArtifacts != "" {
			cfg.Artifacts.Dir = trainArtifacts
		}
		if err := cfg.Validate("train"); err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Artifacts.Dir, 0o755); err != nil {
			return eris.Wrap(err, "create artifact dir")
		}

		// Run history is best effort.
		st, err := openStore(ctx)
		if err != nil {
			zap.L().Warn("run store unavailable, run will not be recorded", zap.Error(err))
			st = nil
		} else {
			defer st.Close() //nolint:errcheck
		}

		_, err = runTrain(ctx, os.Stdout, st, trainOptions(cfg), trainReport)
		return err
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainSource, "source", "", "dataset URL or path (default from config)")
	trainCmd.Flags().StringVar(&trainArtifacts, "artifacts", "", "artifact directory (default from config)")
	trainCmd.Flags().StringVar(&trainReport, "report", "", "write a YAML training report to this path")
	rootCmd.AddCommand(trainCmd)
}

// trainOptions maps configuration onto trainer options.
func trainOptions(c *config.Config) trainer.Options {
	return trainer.Options{
		Source: c.Dataset.URL,
		Dataset: dataset.Options{
			TempDir:    c.Dataset.TempDir,
			Timeout:    time.Duration(c.Dataset.TimeoutSecs) * time.Second,
			MaxRetries: c.Dataset.MaxRetries,
		},
		Params: model.TrainingParams{
			TestFraction:    c.Train.TestFraction,
			Seed:            c.Train.Seed,
			NEstimators:     c.Train.NEstimators,
			MaxDepth:        c.Train.MaxDepth,
			MinSamplesSplit: c.Train.MinSamplesSplit,
			MinSamplesLeaf:  c.Train.MinSamplesLeaf,
		},
		Workers: c.Train.Workers,
		Paths:   artifact.PathsFromConfig(c.Artifacts),
	}
}

// runTrain trains with opts, records the run in st when non-nil, prints the
// metrics to out and optionally writes a report. Recording is best effort: a
// store error is logged and never fails the run.
func runTrain(ctx context.Context, out io.Writer, st store.Store, opts trainer.Options, reportPath string) (*trainer.Result, error) {
	var runID string
	if st != nil {
		run, err := st.CreateRun(ctx, store.NewRun{
			Source:      opts.Source,
			Params:      opts.Params,
			ArtifactDir: filepath.Dir(opts.Paths.Model),
		})
		if err != nil {
			zap.L().Warn("failed to record run start, run will not be recorded", zap.Error(err))
		} else {
			runID = run.ID
		}
	}
	recording := runID != ""

	res, err := trainer.Run(ctx, opts)
	if err != nil {
		if recording {
			if ferr := st.FailRun(ctx, runID, err.Error()); ferr != nil {
				zap.L().Warn("failed to record run failure", zap.String("run_id", runID), zap.Error(ferr))
			}
		}
		return nil, eris.Wrap(err, "train")
	}

	if recording {
		if err := st.CompleteRun(ctx, runID, &res.Metrics); err != nil {
			zap.L().Warn("failed to record run completion", zap.String("run_id", runID), zap.Error(err))
		}
	}

	formatTrainResult(out, runID, opts.Paths, res)

	if reportPath != "" {
		if err := trainer.WriteReport(reportPath, trainer.NewReport(runID, opts, res)); err != nil {
			return nil, err
		}
		_, _ = fmt.Fprintf(out, "\nReport written to %s\n", reportPath)
	}
	return res, nil
}

// formatTrainResult writes metrics and importances to out.
func formatTrainResult(out io.Writer, runID string, paths artifact.Paths, res *trainer.Result) {
	m := res.Metrics
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if runID != "" {
		_, _ = fmt.Fprintf(w, "Run:\t%s\n", runID)
	}
	_, _ = fmt.Fprintf(w, "Rows:\ttrain %d, test %d, dropped %d\n", m.TrainRows, m.TestRows, m.DroppedRows)
	_, _ = fmt.Fprintf(w, "Mean Squared Error:\t%.6f\n", m.MSE)
	_, _ = fmt.Fprintf(w, "Root Mean Squared Error:\t%.6f\n", m.RMSE)
	_, _ = fmt.Fprintf(w, "R2 Score:\t%.6f\n", m.R2)
	_, _ = fmt.Fprintf(w, "Training time:\t%.1fs\n", m.TrainSeconds)
	_ = w.Flush()

	_, _ = fmt.Fprintln(out, "\nFeature importances:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, fi := range m.Importances {
		_, _ = fmt.Fprintf(w, "  %s\t%.4f\n", fi.Feature, fi.Importance)
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(out, "\nArtifacts:\n  %s\n  %s\n  %s\n", paths.Model, paths.Encoder, paths.Features)
}
