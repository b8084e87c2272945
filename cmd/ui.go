package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/diamond-cli/internal/client"
	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/ui"
)

var (
	uiPort      int
	uiAPIURL    string
	uiArtifacts string
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Start the browser UI",
	Long:  "Serves the price form. Predictions go to the API first and fall back to the local artifacts when it cannot answer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if uiPort != 0 {
			cfg.UI.Port = uiPort
		}
		applyClientFlags(uiAPIURL, uiArtifacts)
		if err := cfg.Validate("ui"); err != nil {
			return err
		}

		est := newEstimator(cfg)
		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", cfg.UI.Port),
			Handler: ui.New(est, ui.Options{
				APIURL:     cfg.Client.APIURL,
				LocalReady: est.LocalReady(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return listenAndServe(ctx, srv)
	},
}

func init() {
	uiCmd.Flags().IntVar(&uiPort, "port", 0, "UI port (default from config)")
	uiCmd.Flags().StringVar(&uiAPIURL, "api-url", "", "prediction API base URL (default from config)")
	uiCmd.Flags().StringVar(&uiArtifacts, "artifacts", "", "artifact directory for the local fallback (default from config)")
	rootCmd.AddCommand(uiCmd)
}

func applyClientFlags(apiURL, artifactsDir string) {
	if apiURL != "" {
		cfg.Client.APIURL = apiURL
	}
	if artifactsDir != "" {
		cfg.Artifacts.Dir = artifactsDir
	}
}

// newEstimator builds the remote client with its breaker and the local
// fallback.
func newEstimator(c *config.Config) *client.Estimator {
	remote := client.NewRemote(c.Client.APIURL, c.Client.Timeout(),
		client.WithBreaker(client.NewBreaker(c.Client.FailureThreshold, c.Client.ResetTimeoutSecs)),
	)
	return client.NewEstimator(remote, loadService(c.Artifacts))
}
