// Package encoder maps ordered categorical levels to integer ranks.
package encoder

import (
	"slices"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diamond-cli/internal/model"
)

// ErrUnknownCategory is returned when a value is not one of a column's levels.
var ErrUnknownCategory = eris.New("encoder: unknown category")

// ErrUnknownColumn is returned when a column was not fitted.
var ErrUnknownColumn = eris.New("encoder: unknown column")

// OrdinalEncoder maps each level of a categorical column to its zero-based
// rank in a fixed worst-to-best ordering. It is immutable once built.
type OrdinalEncoder struct {
	columns    []string
	categories map[string][]string
	ranks      map[string]map[string]int
}

// New builds an encoder over the given columns. Every column needs a
// non-empty, duplicate-free level list.
func New(columns []string, categories map[string][]string) (*OrdinalEncoder, error) {
	if len(columns) == 0 {
		return nil, eris.New("encoder: no columns")
	}

	e := &OrdinalEncoder{
		columns:    slices.Clone(columns),
		categories: make(map[string][]string, len(columns)),
		ranks:      make(map[string]map[string]int, len(columns)),
	}
	for _, col := range columns {
		levels, ok := categories[col]
		if !ok || len(levels) == 0 {
			return nil, eris.Errorf("encoder: no levels for column %q", col)
		}
		if _, dup := e.ranks[col]; dup {
			return nil, eris.Errorf("encoder: duplicate column %q", col)
		}
		rank := make(map[string]int, len(levels))
		for i, level := range levels {
			if _, dup := rank[level]; dup {
				return nil, eris.Errorf("encoder: duplicate level %q in column %q", level, col)
			}
			rank[level] = i
		}
		e.categories[col] = slices.Clone(levels)
		e.ranks[col] = rank
	}
	return e, nil
}

// NewDiamond builds the encoder for the cut, color and clarity columns.
func NewDiamond() *OrdinalEncoder {
	categories := make(map[string][]string, 3)
	for _, col := range model.CategoricalColumns() {
		levels, _ := model.Levels(col)
		categories[col] = levels
	}
	e, err := New(model.CategoricalColumns(), categories)
	if err != nil {
		// The canonical levels are static; failing here is a programming error.
		panic(err)
	}
	return e
}

// Columns returns the encoded columns in order.
func (e *OrdinalEncoder) Columns() []string {
	return slices.Clone(e.columns)
}

// Categories returns the levels of a column from worst to best.
func (e *OrdinalEncoder) Categories(column string) []string {
	return slices.Clone(e.categories[column])
}

// Encode returns the rank of value within column.
func (e *OrdinalEncoder) Encode(column, value string) (float64, error) {
	rank, ok := e.ranks[column]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownColumn, "column %q", column)
	}
	r, ok := rank[value]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownCategory, "%s %q not in [%s]",
			column, value, strings.Join(e.categories[column], ", "))
	}
	return float64(r), nil
}

// Transform encodes one value per column, in Columns order.
func (e *OrdinalEncoder) Transform(values []string) ([]float64, error) {
	if len(values) != len(e.columns) {
		return nil, eris.Errorf("encoder: expected %d values, got %d", len(e.columns), len(values))
	}
	out := make([]float64, len(values))
	for i, col := range e.columns {
		v, err := e.Encode(col, values[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Vector assembles the model input for d, one value per name in features:
// numeric attributes as-is, categorical attributes by rank.
func (e *OrdinalEncoder) Vector(features []string, d model.Diamond) ([]float64, error) {
	out := make([]float64, len(features))
	for i, name := range features {
		if v, ok := d.Numeric(name); ok {
			out[i] = v
			continue
		}
		value, ok := d.Category(name)
		if !ok {
			return nil, eris.Errorf("encoder: unknown feature %q", name)
		}
		v, err := e.Encode(name, value)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CheckCanonical verifies the encoder uses exactly the canonical diamond
// columns and level orderings.
func (e *OrdinalEncoder) CheckCanonical() error {
	want := model.CategoricalColumns()
	if !slices.Equal(e.columns, want) {
		return eris.Errorf("encoder: columns [%s], want [%s]",
			strings.Join(e.columns, ", "), strings.Join(want, ", "))
	}
	for _, col := range want {
		levels, _ := model.Levels(col)
		if !slices.Equal(e.categories[col], levels) {
			return eris.Errorf("encoder: %s levels [%s], want [%s]",
				col, strings.Join(e.categories[col], ", "), strings.Join(levels, ", "))
		}
	}
	return nil
}

type wireEncoder struct {
	Columns    []string            `json:"columns"`
	Categories map[string][]string `json:"categories"`
}

// MarshalJSON implements json.Marshaler.
func (e *OrdinalEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEncoder{Columns: e.columns, Categories: e.categories})
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *OrdinalEncoder) UnmarshalJSON(data []byte) error {
	var w wireEncoder
	if err := json.Unmarshal(data, &w); err != nil {
		return eris.Wrap(err, "encoder: decode")
	}
	built, err := New(w.Columns, w.Categories)
	if err != nil {
		return err
	}
	*e = *built
	return nil
}
