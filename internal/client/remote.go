// Package client predicts prices through the API, falling back to locally
// loaded artifacts when the API cannot answer.
package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/model"
	"github.com/sells-group/diamond-cli/internal/resilience"
)

// FailureKind classifies why a remote prediction did not succeed.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureTransport   FailureKind = "transport"
	FailureStatus      FailureKind = "status"
	FailureMalformed   FailureKind = "malformed"
	FailureRejected    FailureKind = "rejected"
	FailureCircuitOpen FailureKind = "circuit_open"
)

// RemoteResult is the outcome of one remote call. Failure is FailureNone on
// success.
type RemoteResult struct {
	Prediction model.Prediction
	Failure    FailureKind
	StatusCode int
	Message    string // error text from the service, if any
	Err        error
}

// OK reports whether the call produced a prediction.
func (r RemoteResult) OK() bool { return r.Failure == FailureNone }

// DefaultTimeout bounds a remote call when none is configured.
const DefaultTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// Remote calls the prediction API.
type Remote struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	breaker *resilience.Breaker
}

// RemoteOption customizes a Remote.
type RemoteOption func(*Remote)

// WithBreaker skips the network while b is open.
func WithBreaker(b *resilience.Breaker) RemoteOption {
	return func(r *Remote) { r.breaker = b }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.http = c }
}

// NewRemote creates a client for the API at baseURL.
func NewRemote(baseURL string, timeout time.Duration, opts ...RemoteOption) *Remote {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewBreaker returns a breaker that counts only failures suggesting the API
// is down. Rejections are answers and keep it closed.
func NewBreaker(failureThreshold, resetTimeoutSecs int) *resilience.Breaker {
	cfg := resilience.NewBreakerConfig(failureThreshold, resetTimeoutSecs)
	cfg.OnStateChange = func(from, to resilience.State) {
		zap.L().Info("api circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return resilience.NewBreaker(cfg)
}

// BaseURL returns the API root.
func (r *Remote) BaseURL() string { return r.baseURL }

// Predict posts d to /predict. It never returns an error; failures are
// described by the result.
func (r *Remote) Predict(ctx context.Context, d model.Diamond) RemoteResult {
	if r.breaker == nil {
		return r.predict(ctx, d)
	}
	res, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) (RemoteResult, error) {
		res := r.predict(ctx, d)
		switch res.Failure {
		case FailureNone, FailureRejected:
			return res, nil
		default:
			return res, res.Err
		}
	})
	if errors.Is(err, resilience.ErrOpen) {
		return RemoteResult{Failure: FailureCircuitOpen, Err: err}
	}
	return res
}

type predictResponse struct {
	Success    bool              `json:"success"`
	Prediction *model.Prediction `json:"prediction"`
	Error      string            `json:"error"`
}

func (r *Remote) predict(ctx context.Context, d model.Diamond) RemoteResult {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(d)
	if err != nil {
		return RemoteResult{Failure: FailureTransport, Err: eris.Wrap(err, "client: encode request")}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return RemoteResult{Failure: FailureTransport, Err: eris.Wrap(err, "client: build request")}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return networkFailure(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkFailure(err)
	}

	var out predictResponse
	decodeErr := json.Unmarshal(body, &out)

	switch {
	case resp.StatusCode == http.StatusOK:
		if decodeErr != nil {
			return RemoteResult{Failure: FailureMalformed, StatusCode: resp.StatusCode, Err: eris.Wrap(decodeErr, "client: decode response")}
		}
		if !out.Success || out.Prediction == nil || !validPrice(out.Prediction.PriceUSD) {
			return RemoteResult{Failure: FailureMalformed, StatusCode: resp.StatusCode, Err: eris.New("client: response carries no usable prediction")}
		}
		return RemoteResult{Prediction: *out.Prediction, StatusCode: resp.StatusCode}

	case resp.StatusCode == http.StatusBadRequest && decodeErr == nil && !out.Success && out.Error != "":
		return RemoteResult{
			Failure:    FailureRejected,
			StatusCode: resp.StatusCode,
			Message:    out.Error,
			Err:        eris.Errorf("client: rejected: %s", out.Error),
		}

	default:
		return RemoteResult{
			Failure:    FailureStatus,
			StatusCode: resp.StatusCode,
			Message:    out.Error,
			Err:        eris.Errorf("client: unexpected status %d", resp.StatusCode),
		}
	}
}

func networkFailure(err error) RemoteResult {
	if resilience.IsTimeout(err) {
		return RemoteResult{Failure: FailureTimeout, Err: eris.Wrap(err, "client: timeout")}
	}
	return RemoteResult{Failure: FailureTransport, Err: eris.Wrap(err, "client: request")}
}

func validPrice(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Health is the API's /health body.
type Health struct {
	Status         string `json:"status"`
	ModelLoaded    bool   `json:"model_loaded"`
	EncoderLoaded  bool   `json:"encoder_loaded"`
	FeaturesLoaded bool   `json:"features_loaded"`
}

// Health fetches /health. It does not go through the breaker.
func (r *Remote) Health(ctx context.Context) (*Health, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/health", nil)
	if err != nil {
		return nil, eris.Wrap(err, "client: build health request")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "client: health")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("client: health status %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&h); err != nil {
		return nil, eris.Wrap(err, "client: decode health")
	}
	return &h, nil
}
