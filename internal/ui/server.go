// Package ui serves the browser form for single and side-by-side price
// estimates.
package ui

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/client"
	"github.com/sells-group/diamond-cli/internal/estimate"
	"github.com/sells-group/diamond-cli/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Form defaults.
const (
	DefaultCarat   = 0.5
	DefaultCut     = "Ideal"
	DefaultColor   = "F"
	DefaultClarity = "VS1"
	DefaultTable   = 57.0
)

const (
	modeSingle  = "single"
	modeCompare = "compare"
)

// Predictor is what the UI needs from the estimator.
type Predictor interface {
	Predict(ctx context.Context, d model.Diamond) (client.Result, error)
	Compare(ctx context.Context, a, b model.Diamond) (*client.Comparison, error)
}

// Options configures the UI server.
type Options struct {
	APIURL     string
	LocalReady bool
}

// Server renders the form and results.
type Server struct {
	est    Predictor
	opts   Options
	router chi.Router
}

// New builds the UI router.
func New(est Predictor, opts Options) *Server {
	s := &Server{est: est, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/predict", s.handlePredict)
	r.Post("/compare", s.handleCompare)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok")) //nolint:errcheck
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type formView struct {
	Carat   string
	Cut     string
	Color   string
	Clarity string
	Table   string
}

type detailRow struct {
	Label string
	Value string
}

type priceView struct {
	USD    string
	IDR    string
	Source string
}

type singleView struct {
	Price   priceView
	Details []detailRow
}

type compareView struct {
	A, B         priceView
	Verdict      string
	VerdictClass string
	DiffUSD      string
	DiffIDR      string
	DiffPercent  string
}

type pageData struct {
	Mode       string
	A, B       formView
	Cuts       []string
	Colors     []string
	Clarities  []string
	CaratMin   float64
	CaratMax   float64
	TableMin   float64
	TableMax   float64
	Single     *singleView
	Compare    *compareView
	Error      string
	APIURL     string
	LocalReady bool
}

type sideForm struct {
	Prefix    string
	Title     string
	Form      formView
	Cuts      []string
	Colors    []string
	Clarities []string
	CaratMin  float64
	CaratMax  float64
	TableMin  float64
	TableMax  float64
}

// Side bundles one form's values with the shared option lists.
func (p *pageData) Side(prefix, title string, f formView) sideForm {
	return sideForm{
		Prefix:    prefix,
		Title:     title,
		Form:      f,
		Cuts:      p.Cuts,
		Colors:    p.Colors,
		Clarities: p.Clarities,
		CaratMin:  p.CaratMin,
		CaratMax:  p.CaratMax,
		TableMin:  p.TableMin,
		TableMax:  p.TableMax,
	}
}

func (s *Server) newPage(mode string) *pageData {
	if mode != modeCompare {
		mode = modeSingle
	}
	return &pageData{
		Mode:       mode,
		A:          defaultForm(),
		B:          defaultForm(),
		Cuts:       model.CutLevels(),
		Colors:     model.ColorLevels(),
		Clarities:  model.ClarityLevels(),
		CaratMin:   model.CaratMin,
		CaratMax:   model.CaratMax,
		TableMin:   model.TableMin,
		TableMax:   model.TableMax,
		APIURL:     s.opts.APIURL,
		LocalReady: s.opts.LocalReady,
	}
}

func defaultForm() formView {
	return formView{
		Carat:   strconv.FormatFloat(DefaultCarat, 'f', -1, 64),
		Cut:     DefaultCut,
		Color:   DefaultColor,
		Clarity: DefaultClarity,
		Table:   strconv.FormatFloat(DefaultTable, 'f', 1, 64),
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, s.newPage(r.URL.Query().Get("mode")))
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	page := s.newPage(modeSingle)
	if err := r.ParseForm(); err != nil {
		page.Error = "Could not read the form."
		s.render(w, http.StatusBadRequest, page)
		return
	}

	page.A = readForm(r, "")
	d, err := parseDiamond(page.A)
	if err != nil {
		page.Error = err.Error()
		s.render(w, http.StatusBadRequest, page)
		return
	}

	res, err := s.est.Predict(r.Context(), d)
	if err != nil {
		s.renderFailure(w, page, err)
		return
	}

	page.Single = &singleView{
		Price: newPriceView(res),
		Details: []detailRow{
			{"Carat", FormatCarat(d.Carat)},
			{"Cut", d.Cut},
			{"Color", d.Color},
			{"Clarity", d.Clarity},
			{"Table", FormatTable(d.Table)},
		},
	}
	s.render(w, http.StatusOK, page)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	page := s.newPage(modeCompare)
	if err := r.ParseForm(); err != nil {
		page.Error = "Could not read the form."
		s.render(w, http.StatusBadRequest, page)
		return
	}

	page.A = readForm(r, "a_")
	page.B = readForm(r, "b_")
	a, err := parseDiamond(page.A)
	if err != nil {
		page.Error = "Diamond A: " + err.Error()
		s.render(w, http.StatusBadRequest, page)
		return
	}
	b, err := parseDiamond(page.B)
	if err != nil {
		page.Error = "Diamond B: " + err.Error()
		s.render(w, http.StatusBadRequest, page)
		return
	}

	c, err := s.est.Compare(r.Context(), a, b)
	if err != nil {
		s.renderFailure(w, page, err)
		return
	}

	view := &compareView{
		A:           newPriceView(c.A),
		B:           newPriceView(c.B),
		Verdict:     c.Verdict,
		DiffUSD:     FormatUSD(c.AbsDiffUSD),
		DiffIDR:     FormatIDR(c.AbsDiffIDR),
		DiffPercent: FormatPercent(c.DiffPercent),
	}
	switch c.Verdict {
	case client.VerdictBMoreExpensive:
		view.VerdictClass = "b"
	case client.VerdictAMoreExpensive:
		view.VerdictClass = "a"
	default:
		view.VerdictClass = "equal"
	}
	page.Compare = view
	s.render(w, http.StatusOK, page)
}

func (s *Server) renderFailure(w http.ResponseWriter, page *pageData, err error) {
	switch {
	case estimate.IsValidation(err):
		page.Error = err.Error()
		s.render(w, http.StatusBadRequest, page)
	case errors.Is(err, client.ErrNoPredictionPath):
		page.Error = "Prediction unavailable: the API cannot be reached and no local model is loaded."
		s.render(w, http.StatusServiceUnavailable, page)
	default:
		zap.L().Error("ui prediction failed", zap.Error(err))
		page.Error = "Prediction failed. Please try again."
		s.render(w, http.StatusInternalServerError, page)
	}
}

func newPriceView(res client.Result) priceView {
	source := "API"
	if res.Source == client.SourceLocal {
		source = "local model"
	}
	return priceView{
		USD:    FormatUSD(res.Prediction.PriceUSD),
		IDR:    FormatIDR(res.Prediction.PriceIDR),
		Source: source,
	}
}

func readForm(r *http.Request, prefix string) formView {
	get := func(name string) string { return strings.TrimSpace(r.PostFormValue(prefix + name)) }
	return formView{
		Carat:   get(model.ColumnCarat),
		Cut:     get(model.ColumnCut),
		Color:   get(model.ColumnColor),
		Clarity: get(model.ColumnClarity),
		Table:   get(model.ColumnTable),
	}
}

func parseDiamond(f formView) (model.Diamond, error) {
	carat, err := strconv.ParseFloat(f.Carat, 64)
	if err != nil {
		return model.Diamond{}, estimate.InvalidValueError(model.ColumnCarat, "carat must be a number")
	}
	table, err := strconv.ParseFloat(f.Table, 64)
	if err != nil {
		return model.Diamond{}, estimate.InvalidValueError(model.ColumnTable, "table must be a number")
	}
	return model.Diamond{Carat: carat, Cut: f.Cut, Color: f.Color, Clarity: f.Clarity, Table: table}, nil
}

func (s *Server) render(w http.ResponseWriter, status int, page *pageData) {
	var buf strings.Builder
	if err := pageTmpl.ExecuteTemplate(&buf, "index.html", page); err != nil {
		zap.L().Error("render page", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(buf.String())) //nolint:errcheck
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
