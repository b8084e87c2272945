package client

import (
	"context"
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diamond-cli/internal/estimate"
	"github.com/sells-group/diamond-cli/internal/model"
)

// ErrNoPredictionPath is returned when the API failed and no local model is
// available.
var ErrNoPredictionPath = eris.New("client: API unavailable and no local model loaded")

// Source says where a prediction came from.
type Source string

const (
	SourceAPI   Source = "api"
	SourceLocal Source = "local"
)

// RemotePredictor is the remote half of an Estimator.
type RemotePredictor interface {
	Predict(ctx context.Context, d model.Diamond) RemoteResult
}

// Result is a prediction and where it came from. Remote describes the failed
// API call when Source is local.
type Result struct {
	Diamond    model.Diamond    `json:"input"`
	Prediction model.Prediction `json:"prediction"`
	Source     Source           `json:"source"`
	Remote     *RemoteResult    `json:"-"`
}

// Estimator tries the API first and falls back to local artifacts.
type Estimator struct {
	remote RemotePredictor
	local  *estimate.Service
}

// NewEstimator combines the two prediction paths. Either may be nil.
func NewEstimator(remote RemotePredictor, local *estimate.Service) *Estimator {
	return &Estimator{remote: remote, local: local}
}

// LocalReady reports whether the fallback path can serve.
func (e *Estimator) LocalReady() bool {
	return e.local != nil && e.local.Ready()
}

// Predict validates d and prices it. Any API failure, including a rejection of
// input that passed local validation, falls back to the local model.
func (e *Estimator) Predict(ctx context.Context, d model.Diamond) (Result, error) {
	if _, err := estimate.Validate(estimate.InputOf(d)); err != nil {
		return Result{}, err
	}

	var remote *RemoteResult
	if e.remote != nil {
		res := e.remote.Predict(ctx, d)
		if res.OK() {
			return Result{Diamond: d, Prediction: res.Prediction, Source: SourceAPI}, nil
		}
		zap.L().Warn("api prediction failed, using local model",
			zap.String("failure", string(res.Failure)),
			zap.Int("status", res.StatusCode),
			zap.String("message", res.Message),
			zap.Error(res.Err),
		)
		remote = &res
	}

	if !e.LocalReady() {
		if remote != nil {
			return Result{}, eris.Wrapf(ErrNoPredictionPath, "api %s: %v", remote.Failure, remote.Err)
		}
		return Result{}, ErrNoPredictionPath
	}

	p, err := e.local.Predict(d)
	if err != nil {
		return Result{}, err
	}
	return Result{Diamond: d, Prediction: p, Source: SourceLocal, Remote: remote}, nil
}

// Verdicts returned by Compare.
const (
	VerdictBMoreExpensive = "B is more expensive"
	VerdictAMoreExpensive = "A is more expensive"
	VerdictEqual          = "Equal price"
)

// Comparison is the price difference between two diamonds.
type Comparison struct {
	A           Result  `json:"a"`
	B           Result  `json:"b"`
	DiffUSD     float64 `json:"diff_usd"` // B - A
	AbsDiffUSD  float64 `json:"abs_diff_usd"`
	AbsDiffIDR  float64 `json:"abs_diff_idr"`
	DiffPercent float64 `json:"diff_percent"` // relative to A
	Verdict     string  `json:"verdict"`
}

// Compare prices a and b concurrently and diffs them.
func (e *Estimator) Compare(ctx context.Context, a, b model.Diamond) (*Comparison, error) {
	var ra, rb Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if ra, err = e.Predict(gctx, a); err != nil {
			return wrapSide("A", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if rb, err = e.Predict(gctx, b); err != nil {
			return wrapSide("B", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return NewComparison(ra, rb), nil
}

// wrapSide labels err with the diamond it belongs to. Validation errors keep
// their type so callers can show the message.
func wrapSide(side string, err error) error {
	var ve *estimate.ValidationError
	if errors.As(err, &ve) {
		return &estimate.ValidationError{Fields: ve.Fields, Message: "Diamond " + side + ": " + ve.Message}
	}
	return eris.Wrapf(err, "diamond %s", side)
}

// NewComparison diffs two results.
func NewComparison(a, b Result) *Comparison {
	diff := b.Prediction.PriceUSD - a.Prediction.PriceUSD
	c := &Comparison{
		A:          a,
		B:          b,
		DiffUSD:    diff,
		AbsDiffUSD: math.Abs(diff),
		AbsDiffIDR: math.Round(model.ToIDR(math.Abs(diff))),
	}
	if a.Prediction.PriceUSD != 0 {
		c.DiffPercent = diff / a.Prediction.PriceUSD * 100
	}
	switch {
	case diff > 0:
		c.Verdict = VerdictBMoreExpensive
	case diff < 0:
		c.Verdict = VerdictAMoreExpensive
	default:
		c.Verdict = VerdictEqual
	}
	return c
}
