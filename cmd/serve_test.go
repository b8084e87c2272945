package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/config"
	"github.com/sells-group/diamond-cli/internal/trainer/trainertest"
)

func artifactsConfig(p artifact.Paths) config.ArtifactsConfig {
	return config.ArtifactsConfig{
		Dir:          filepath.Dir(p.Model),
		ModelFile:    filepath.Base(p.Model),
		EncoderFile:  filepath.Base(p.Encoder),
		FeaturesFile: filepath.Base(p.Features),
	}
}

func serverConfig(port int) config.ServerConfig {
	return config.ServerConfig{
		Port:             port,
		ReadTimeoutSecs:  10,
		WriteTimeoutSecs: 30,
		CORSOrigins:      []string{"*"},
		RateLimitPerMin:  600,
	}
}

// getFreePort returns a free TCP port on localhost.
func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func TestLoadService_Ready(t *testing.T) {
	svc := loadService(artifactsConfig(trainertest.Artifacts(t)))
	assert.True(t, svc.Ready())
}

func TestLoadService_EmptyDir(t *testing.T) {
	svc := loadService(artifactsConfig(artifact.InDir(t.TempDir())))
	assert.False(t, svc.Ready())
	assert.Equal(t, artifact.Status{}, svc.Status())
}

func TestNewAPIServer_Settings(t *testing.T) {
	srv := newAPIServer(serverConfig(5123), loadService(artifactsConfig(artifact.InDir(t.TempDir()))))
	assert.Equal(t, ":5123", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadTimeout)
	assert.Equal(t, 30*time.Second, srv.WriteTimeout)
	assert.NotNil(t, srv.Handler)
}

func TestNewAPIServer_Predict(t *testing.T) {
	srv := newAPIServer(serverConfig(0), loadService(artifactsConfig(trainertest.Artifacts(t))))
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/predict", "application/json",
		strings.NewReader(`{"carat":1.0,"cut":"Ideal","color":"G","clarity":"VS1","table":57}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success    bool `json:"success"`
		Prediction struct {
			PriceUSD float64 `json:"price_usd"`
			PriceIDR float64 `json:"price_idr"`
		} `json:"prediction"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Success)
	assert.Greater(t, body.Prediction.PriceUSD, 0.0)
}

func TestNewAPIServer_Degraded(t *testing.T) {
	srv := newAPIServer(serverConfig(0), loadService(artifactsConfig(artifact.InDir(t.TempDir()))))
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"degraded"`)

	resp, err = http.Post(ts.URL+"/predict", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	data, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(data), "Model not loaded. Please check server logs.")
}

func TestListenAndServe_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	port := getFreePort(t)
	srv := newAPIServer(serverConfig(port), loadService(artifactsConfig(artifact.InDir(t.TempDir()))))

	errCh := make(chan error, 1)
	go func() { errCh <- listenAndServe(ctx, srv) }()

	// Wait for server to be ready.
	var ready bool
	for range 50 {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err == nil {
			resp.Body.Close()
			ready = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, ready, "server did not start")

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestListenAndServe_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()

	srv := &http.Server{Addr: l.Addr().String(), Handler: http.NotFoundHandler()}
	err = listenAndServe(context.Background(), srv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server listen")
}
