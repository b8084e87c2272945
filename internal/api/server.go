// Package api serves price predictions over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/estimate"
	"github.com/sells-group/diamond-cli/internal/model"
)

// Version is reported by GET /.
const Version = "1.0.0"

const maxBodyBytes = 1 << 20

// Options configures the router.
type Options struct {
	CORSOrigins     []string
	RateLimitPerMin int // 0 disables limiting
	Registry        *prometheus.Registry
}

// Server holds the prediction handlers.
type Server struct {
	svc     *estimate.Service
	metrics *Metrics
	router  chi.Router
}

// New builds the router around svc. A nil Registry gets a fresh one with the
// Go and process collectors.
func New(svc *estimate.Service, opts Options) *Server {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	s := &Server{svc: svc, metrics: NewMetrics(reg)}

	st := svc.Status()
	s.metrics.ArtifactLoaded.WithLabelValues("model").Set(boolGauge(st.ModelLoaded))
	s.metrics.ArtifactLoaded.WithLabelValues("encoder").Set(boolGauge(st.EncoderLoaded))
	s.metrics.ArtifactLoaded.WithLabelValues("features").Set(boolGauge(st.FeaturesLoaded))

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(instrument(s.metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleHome)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(httprate.Limit(opts.RateLimitPerMin, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeError(w, http.StatusTooManyRequests, "Too many requests")
				}),
			))
		}
		r.Post("/predict", s.handlePredict)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type homeResponse struct {
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, homeResponse{
		Message: "Diamond Price Prediction API",
		Version: Version,
		Endpoints: map[string]string{
			"GET /":         "This welcome message",
			"GET /health":   "Health check",
			"GET /metrics":  "Prometheus metrics",
			"POST /predict": "Predict diamond price",
		},
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	ModelLoaded    bool   `json:"model_loaded"`
	EncoderLoaded  bool   `json:"encoder_loaded"`
	FeaturesLoaded bool   `json:"features_loaded"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.Status()
	status := "healthy"
	if !st.Ready() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         status,
		ModelLoaded:    st.ModelLoaded,
		EncoderLoaded:  st.EncoderLoaded,
		FeaturesLoaded: st.FeaturesLoaded,
	})
}

// PredictResponse is the /predict success body.
type PredictResponse struct {
	Success    bool             `json:"success"`
	Prediction model.Prediction `json:"prediction"`
	Input      model.Diamond    `json:"input"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		s.metrics.Predictions.WithLabelValues("not_loaded").Inc()
		writeError(w, http.StatusInternalServerError, "Model not loaded. Please check server logs.")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.metrics.Predictions.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusBadRequest, errNoJSON.Message)
		return
	}

	in, err := decodeInput(body)
	if err != nil {
		s.reject(w, err)
		return
	}

	d, p, err := s.svc.Estimate(in)
	switch {
	case err == nil:
	case estimate.IsValidation(err):
		s.reject(w, err)
		return
	case errors.Is(err, estimate.ErrNotLoaded):
		s.metrics.Predictions.WithLabelValues("not_loaded").Inc()
		writeError(w, http.StatusInternalServerError, "Model not loaded. Please check server logs.")
		return
	default:
		s.metrics.Predictions.WithLabelValues("error").Inc()
		zap.L().Error("prediction failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Prediction error: "+err.Error())
		return
	}

	s.metrics.Predictions.WithLabelValues("success").Inc()
	s.metrics.PredictedPrice.Observe(p.PriceUSD)
	writeJSON(w, http.StatusOK, PredictResponse{Success: true, Prediction: p, Input: d})
}

func (s *Server) reject(w http.ResponseWriter, err error) {
	s.metrics.Predictions.WithLabelValues("rejected").Inc()
	writeError(w, http.StatusBadRequest, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}
