package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/api"
	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/estimate"
)

const shutdownTimeout = 10 * time.Second

var (
	servePort      int
	serveArtifacts string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the prediction API",
	Long:  "Loads the trained artifacts and serves POST /predict, GET /health and GET /. Missing artifacts leave the server up in degraded mode.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if serveArtifacts != "" {
			cfg.Artifacts.Dir = serveArtifacts
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		svc := loadService(cfg.Artifacts)
		return listenAndServe(ctx, newAPIServer(cfg.Server, svc))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveArtifacts, "artifacts", "", "artifact directory (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// loadService loads the artifacts and logs what is missing.
func loadService(c config.ArtifactsConfig) *estimate.Service {
	paths := artifact.PathsFromConfig(c)
	svc := estimate.Load(paths)
	st := svc.Status()
	fields := []zap.Field{
		zap.Bool("model_loaded", st.ModelLoaded),
		zap.Bool("encoder_loaded", st.EncoderLoaded),
		zap.Bool("features_loaded", st.FeaturesLoaded),
		zap.String("dir", c.Dir),
	}
	if st.Ready() {
		zap.L().Info("artifacts loaded", append(fields, zap.Strings("features", svc.Features()))...)
	} else {
		zap.L().Warn("artifacts incomplete, predictions disabled", fields...)
	}
	return svc
}

// newAPIServer wires the prediction API into an http.Server.
func newAPIServer(c config.ServerConfig, svc *estimate.Service) *http.Server {
	handler := api.New(svc, api.Options{
		CORSOrigins:     c.CORSOrigins,
		RateLimitPerMin: c.RateLimitPerMin,
	})
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", c.Port),
		Handler:           handler,
		ReadHeaderTimeout: time.Duration(c.ReadTimeoutSecs) * time.Second,
		ReadTimeout:       time.Duration(c.ReadTimeoutSecs) * time.Second,
		WriteTimeout:      time.Duration(c.WriteTimeoutSecs) * time.Second,
	}
}

// listenAndServe runs srv until ctx is cancelled, then shuts it down.
func listenAndServe(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- eris.Wrap(err, "server listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}
