package api

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/sells-group/diamond-cli/internal/estimate"
	"github.com/sells-group/diamond-cli/internal/model"
)

var errNoJSON = &estimate.ValidationError{Message: "No JSON data provided"}

// decodeInput parses a /predict body. Checks run in the order clients rely
// on: body shape, missing fields, value types, then ranges and levels.
func decodeInput(body []byte) (estimate.Input, error) {
	var in estimate.Input

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return in, errNoJSON
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) == 0 {
		return in, errNoJSON
	}

	var missing []string
	for _, name := range model.FeatureNames() {
		v, ok := raw[name]
		if !ok || isNull(v) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return in, estimate.MissingError(missing)
	}

	carat, err := number(model.ColumnCarat, raw[model.ColumnCarat])
	if err != nil {
		return in, err
	}
	table, err := number(model.ColumnTable, raw[model.ColumnTable])
	if err != nil {
		return in, err
	}
	cut := category(raw[model.ColumnCut])
	color := category(raw[model.ColumnColor])
	clarity := category(raw[model.ColumnClarity])

	return estimate.Input{Carat: &carat, Cut: &cut, Color: &color, Clarity: &clarity, Table: &table}, nil
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}

// number accepts a JSON number or a string holding one.
func number(field string, v json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		f, perr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if perr == nil {
			return f, nil
		}
		return 0, estimate.InvalidValueError(field, fmt.Sprintf("%s must be a number, got %q", field, s))
	}
	return 0, estimate.InvalidValueError(field, fmt.Sprintf("%s must be a number, got %s", field, v))
}

// category returns the string value, or the raw JSON text for other types so
// that level validation rejects it.
func category(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
