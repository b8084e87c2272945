// Package estimate turns a validated diamond into a price using loaded
// artifacts.
package estimate

import (
	"math"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diamond-cli/internal/artifact"
	"github.com/sells-group/diamond-cli/internal/model"
)

// ErrNotLoaded is returned when any artifact is unavailable.
var ErrNotLoaded = eris.New("estimate: model not loaded")

// Service predicts prices from an immutable artifact bundle. It is safe for
// concurrent use.
type Service struct {
	bundle artifact.Bundle
	status artifact.Status
}

// New wraps b. Missing artifacts are allowed; Predict then fails with
// ErrNotLoaded.
func New(b artifact.Bundle) *Service {
	b.Features = slices.Clone(b.Features)
	return &Service{bundle: b, status: b.Status()}
}

// Load reads the artifacts at p and wraps them.
func Load(p artifact.Paths) *Service {
	return New(artifact.Load(p))
}

// Status reports which artifacts are loaded.
func (s *Service) Status() artifact.Status { return s.status }

// Ready reports whether predictions can be served.
func (s *Service) Ready() bool { return s.status.Ready() }

// Features returns the model's feature order.
func (s *Service) Features() []string { return slices.Clone(s.bundle.Features) }

// Estimate validates in and predicts its price.
func (s *Service) Estimate(in Input) (model.Diamond, model.Prediction, error) {
	if !s.Ready() {
		return model.Diamond{}, model.Prediction{}, ErrNotLoaded
	}
	d, err := Validate(in)
	if err != nil {
		return model.Diamond{}, model.Prediction{}, err
	}
	p, err := s.predict(d)
	return d, p, err
}

// Predict validates d and predicts its price.
func (s *Service) Predict(d model.Diamond) (model.Prediction, error) {
	_, p, err := s.Estimate(InputOf(d))
	return p, err
}

func (s *Service) predict(d model.Diamond) (model.Prediction, error) {
	x, err := s.bundle.Encoder.Vector(s.bundle.Features, d)
	if err != nil {
		return model.Prediction{}, eris.Wrap(err, "estimate: encode")
	}
	logPrice, err := s.bundle.Model.Predict(x)
	if err != nil {
		return model.Prediction{}, eris.Wrap(err, "estimate: predict")
	}
	usd := math.Exp(logPrice)
	if math.IsNaN(usd) || math.IsInf(usd, 0) {
		return model.Prediction{}, eris.Errorf("estimate: model produced %v", usd)
	}
	return model.NewPrediction(usd), nil
}
