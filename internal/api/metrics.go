package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	Predictions     *prometheus.CounterVec
	PredictedPrice  prometheus.Histogram
	ArtifactLoaded  *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "diamond_api_request_duration_seconds",
				Help:    "Duration of API requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diamond_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "route", "status"},
		),
		Predictions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diamond_predictions_total",
				Help: "Prediction requests by outcome",
			},
			[]string{"outcome"}, // "success", "rejected", "not_loaded", "error"
		),
		PredictedPrice: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "diamond_predicted_price_usd",
				Help:    "Distribution of predicted prices in USD",
				Buckets: prometheus.ExponentialBuckets(250, 2, 8),
			},
		),
		ArtifactLoaded: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "diamond_artifact_loaded",
				Help: "Whether each artifact loaded (1) or not (0)",
			},
			[]string{"artifact"},
		),
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
