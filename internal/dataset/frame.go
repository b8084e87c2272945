package dataset

import (
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diamond-cli/internal/model"
)

// Row is one typed dataset record.
type Row struct {
	Line    int // line in the source, counting the header as line 1
	Diamond model.Diamond
	Price   float64
	X, Y, Z float64
}

// Frame is a parsed dataset. Features lists the model features in the order
// their columns appear in the source header.
type Frame struct {
	Features []string
	HasDims  bool
	Rows     []Row
}

// Report counts what Clean removed.
type Report struct {
	Total            int
	InvalidDims      int
	NonPositivePrice int
	Kept             int
}

// Dropped returns the total number of removed rows.
func (r Report) Dropped() int { return r.InvalidDims + r.NonPositivePrice }

// isIndexColumn reports whether the header at position i is a saved row
// index: "Unnamed: 0" anywhere, or a blank name in the first position.
func isIndexColumn(i int, name string) bool {
	return strings.EqualFold(name, "Unnamed: 0") || (i == 0 && name == "")
}

// Parse types the cells of t. A saved index column is ignored;
// depth is read past. x, y and z are optional; when all three are present
// Clean uses them to discard physically impossible rows.
func Parse(t *Table) (*Frame, error) {
	cols := make(map[string]int, len(t.Header))
	var features []string
	for i, raw := range t.Header {
		name := strings.ToLower(strings.TrimSpace(raw))
		if isIndexColumn(i, name) {
			continue
		}
		if _, dup := cols[name]; dup {
			return nil, eris.Errorf("dataset: duplicate column %q", name)
		}
		cols[name] = i
		if slices.Contains(model.FeatureNames(), name) {
			features = append(features, name)
		}
	}

	var missing []string
	for _, req := range append(model.FeatureNames(), model.ColumnPrice) {
		if _, ok := cols[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("dataset: missing columns: %s", strings.Join(missing, ", "))
	}

	_, hasX := cols[model.ColumnX]
	_, hasY := cols[model.ColumnY]
	_, hasZ := cols[model.ColumnZ]
	f := &Frame{
		Features: features,
		HasDims:  hasX && hasY && hasZ,
		Rows:     make([]Row, 0, len(t.Rows)),
	}

	for i, cells := range t.Rows {
		line := i + 2
		p := rowParser{cells: cells, cols: cols, line: line}
		row := Row{
			Line: line,
			Diamond: model.Diamond{
				Carat:   p.float(model.ColumnCarat),
				Cut:     p.text(model.ColumnCut),
				Color:   p.text(model.ColumnColor),
				Clarity: p.text(model.ColumnClarity),
				Table:   p.float(model.ColumnTable),
			},
			Price: p.float(model.ColumnPrice),
		}
		if f.HasDims {
			row.X = p.float(model.ColumnX)
			row.Y = p.float(model.ColumnY)
			row.Z = p.float(model.ColumnZ)
		}
		if p.err != nil {
			return nil, p.err
		}
		f.Rows = append(f.Rows, row)
	}
	return f, nil
}

// rowParser reads cells by column name, keeping the first error.
type rowParser struct {
	cells []string
	cols  map[string]int
	line  int
	err   error
}

func (p *rowParser) text(col string) string {
	idx := p.cols[col]
	if idx >= len(p.cells) {
		if p.err == nil {
			p.err = eris.Errorf("dataset: line %d: missing value for %s", p.line, col)
		}
		return ""
	}
	return strings.TrimSpace(p.cells[idx])
}

func (p *rowParser) float(col string) float64 {
	s := p.text(col)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		p.err = eris.Errorf("dataset: line %d: invalid %s %q", p.line, col, s)
		return 0
	}
	return v
}

// Clean drops rows with a non-positive x, y or z dimension, then rows with a
// non-positive price, and reports how many of each were removed.
func Clean(f *Frame) (*Frame, Report) {
	rep := Report{Total: len(f.Rows)}
	kept := make([]Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		if f.HasDims && (r.X <= 0 || r.Y <= 0 || r.Z <= 0) {
			rep.InvalidDims++
			continue
		}
		if r.Price <= 0 {
			rep.NonPositivePrice++
			continue
		}
		kept = append(kept, r)
	}
	rep.Kept = len(kept)

	if rep.InvalidDims > 0 {
		zap.L().Info("dataset: dropped rows with invalid dimensions", zap.Int("rows", rep.InvalidDims))
	}
	if rep.NonPositivePrice > 0 {
		zap.L().Warn("dataset: dropped rows with non-positive price", zap.Int("rows", rep.NonPositivePrice))
	}

	return &Frame{Features: slices.Clone(f.Features), HasDims: f.HasDims, Rows: kept}, rep
}
