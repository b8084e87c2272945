package api

import (
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/encoder"
	"github.com/sells-group/diamond-cli/internal/estimate"
	"github.com/sells-group/diamond-cli/internal/forest"
	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/trainer/trainertest"
)

const validBody = `{"carat":1.0,"cut":"Ideal","color":"E","clarity":"VS1","table":57}`

func constantService(usd float64) *estimate.Service {
	return estimate.New(artifact.Bundle{
		Model: &forest.Forest{
			NFeatures: 5,
			Trees: []forest.Tree{{Nodes: []forest.Node{
				{Feature: -1, Left: -1, Right: -1, Value: math.Log(usd), Samples: 1},
			}}},
			Importances: make([]float64, 5),
		},
		Encoder:  encoder.NewDiamond(),
		Features: model.FeatureNames(),
	})
}

func newTestServer(t *testing.T, svc *estimate.Service, opts Options) *httptest.Server {
	t.Helper()
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	ts := httptest.NewServer(New(svc, opts))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHome(t *testing.T) {
	ts := newTestServer(t, constantService(1000), Options{})

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body homeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Diamond Price Prediction API", body.Message)
	assert.Equal(t, "1.0.0", body.Version)
	assert.Contains(t, body.Endpoints, "POST /predict")
	assert.Contains(t, body.Endpoints, "GET /health")
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		svc    *estimate.Service
		status string
		model  bool
	}{
		{"healthy", constantService(1000), "healthy", true},
		{"degraded", estimate.New(artifact.Bundle{Encoder: encoder.NewDiamond(), Features: model.FeatureNames()}), "degraded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.svc, Options{})
			resp, err := http.Get(ts.URL + "/health")
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)

			var body healthResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.status, body.Status)
			assert.Equal(t, tt.model, body.ModelLoaded)
			assert.True(t, body.EncoderLoaded)
			assert.True(t, body.FeaturesLoaded)
		})
	}
}

func TestPredict_Success(t *testing.T) {
	ts := newTestServer(t, constantService(1234.5678), Options{})

	code, body := post(t, ts, validBody)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	pred := body["prediction"].(map[string]any)
	assert.InDelta(t, 1234.57, pred["price_usd"], 1e-9)
	assert.InDelta(t, math.Round(1234.57*15500), pred["price_idr"], 0)

	input := body["input"].(map[string]any)
	assert.Equal(t, "Ideal", input["cut"])
	assert.InDelta(t, 57.0, input["table"], 0)
}

func TestPredict_Trained(t *testing.T) {
	ts := newTestServer(t, estimate.New(trainertest.Bundle(t)), Options{})

	code, body := post(t, ts, validBody)
	require.Equal(t, http.StatusOK, code)
	pred := body["prediction"].(map[string]any)
	usd := pred["price_usd"].(float64)
	assert.Greater(t, usd, 0.0)
	assert.InDelta(t, math.Round(usd*15500), pred["price_idr"], 0)
}

func TestPredict_Errors(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, constantService(1000), Options{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "No JSON data provided"},
		{"not json", "carat=1", "No JSON data provided"},
		{"empty object", "{}", "No JSON data provided"},
		{"array", "[1,2]", "No JSON data provided"},
		{"missing all but carat", `{"carat":1}`, "Missing required fields: cut, color, clarity, table"},
		{"missing table", `{"carat":1,"cut":"Ideal","color":"E","clarity":"VS1"}`, "Missing required fields: table"},
		{"null is missing", `{"carat":null,"cut":"Ideal","color":"E","clarity":"VS1","table":57}`, "Missing required fields: carat"},
		{"missing beats range", `{"carat":99,"cut":"Ideal"}`, "Missing required fields: color, clarity, table"},
		{"carat type", `{"carat":"abc","cut":"Ideal","color":"E","clarity":"VS1","table":57}`, `Invalid value: carat must be a number, got "abc"`},
		{"table type", `{"carat":1,"cut":"Ideal","color":"E","clarity":"VS1","table":true}`, "Invalid value: table must be a number, got true"},
		{"type before range", `{"carat":9,"cut":"Ideal","color":"E","clarity":"VS1","table":"x"}`, "Invalid value: table"},
		{"carat high", `{"carat":6.0,"cut":"Ideal","color":"E","clarity":"VS1","table":57}`, "Carat must be between 0.2 and 5.0"},
		{"carat low", `{"carat":0.1,"cut":"Ideal","color":"E","clarity":"VS1","table":57}`, "Carat must be between 0.2 and 5.0"},
		{"carat nan string", `{"carat":"NaN","cut":"Ideal","color":"E","clarity":"VS1","table":57}`, "Carat must be between 0.2 and 5.0"},
		{"cut", `{"carat":1,"cut":"Excellent","color":"E","clarity":"VS1","table":57}`, "Invalid cut. Must be one of: Fair, Good, Very Good, Premium, Ideal"},
		{"cut number", `{"carat":1,"cut":3,"color":"E","clarity":"VS1","table":57}`, "Invalid cut."},
		{"color", `{"carat":1,"cut":"Ideal","color":"Z","clarity":"VS1","table":57}`, "Invalid color. Must be one of: J, I, H, G, F, E, D"},
		{"clarity", `{"carat":1,"cut":"Ideal","color":"E","clarity":"FL","table":57}`, "Invalid clarity. Must be one of: I1, SI2, SI1, VS2, VS1, VVS2, VVS1, IF"},
		{"table", `{"carat":1,"cut":"Ideal","color":"E","clarity":"VS1","table":42}`, "Table must be between 43 and 95"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := post(t, ts, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.want)
		})
	}
}

func TestPredict_NumericStrings(t *testing.T) {
	ts := newTestServer(t, constantService(1000), Options{})

	code, body := post(t, ts, `{"carat":" 1.5 ","cut":"Very Good","color":"D","clarity":"IF","table":"60"}`)
	require.Equal(t, http.StatusOK, code)
	input := body["input"].(map[string]any)
	assert.InDelta(t, 1.5, input["carat"], 0)
	assert.InDelta(t, 60.0, input["table"], 0)
	assert.Equal(t, "Very Good", input["cut"])
}

func TestPredict_NotLoaded(t *testing.T) {
	ts := newTestServer(t, estimate.New(artifact.Bundle{}), Options{})

	// Checked before the body, so even an empty body gets a 500.
	for _, body := range []string{validBody, ""} {
		code, out := post(t, ts, body)
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, "Model not loaded. Please check server logs.", out["error"])
	}
}

func TestPredict_InferenceError(t *testing.T) {
	// A forest expecting more inputs than the feature list fails at inference.
	svc := estimate.New(artifact.Bundle{
		Model:    &forest.Forest{NFeatures: 6, Trees: []forest.Tree{{Nodes: []forest.Node{{Feature: -1, Left: -1, Right: -1, Value: 1}}}}},
		Encoder:  encoder.NewDiamond(),
		Features: model.FeatureNames(),
	})
	ts := newTestServer(t, svc, Options{})

	code, body := post(t, ts, validBody)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.True(t, strings.HasPrefix(body["error"].(string), "Prediction error: "))
}

func TestPredict_RateLimit(t *testing.T) {
	ts := newTestServer(t, constantService(1000), Options{RateLimitPerMin: 2})

	for range 2 {
		code, _ := post(t, ts, validBody)
		assert.Equal(t, http.StatusOK, code)
	}
	code, body := post(t, ts, validBody)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "Too many requests", body["error"])

	// Other routes are not limited.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t, constantService(1000), Options{CORSOrigins: []string{"http://localhost:8501"}})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/predict", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:8501")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "http://localhost:8501", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, constantService(1000), Options{})

	post(t, ts, validBody)
	post(t, ts, `{"carat":9,"cut":"Ideal","color":"E","clarity":"VS1","table":57}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, `diamond_predictions_total{outcome="success"} 1`)
	assert.Contains(t, text, `diamond_predictions_total{outcome="rejected"} 1`)
	assert.Contains(t, text, `diamond_api_requests_total{method="POST",route="/predict",status="200"} 1`)
	assert.Contains(t, text, `diamond_artifact_loaded{artifact="model"} 1`)
}

func TestPredict_Concurrent(t *testing.T) {
	ts := newTestServer(t, constantService(777), Options{})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := http.Post(ts.URL+"/predict", "application/json", strings.NewReader(validBody))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			var out PredictResponse
			assert.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.InDelta(t, 777.0, out.Prediction.PriceUSD, 1e-9)
		}()
	}
	wg.Wait()
}

func TestDecodeInput(t *testing.T) {
	in, err := decodeInput([]byte(validBody))
	require.NoError(t, err)
	assert.InDelta(t, 1.0, *in.Carat, 0)
	assert.Equal(t, "VS1", *in.Clarity)

	_, err = decodeInput([]byte("  \n"))
	assert.Equal(t, errNoJSON, err)
}
