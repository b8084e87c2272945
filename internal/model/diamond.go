// Package model defines the domain types shared by the trainer, the
// prediction service and the client.
package model

import (
	"math"
	"slices"
)

// Valid numeric input ranges (inclusive).
const (
	CaratMin = 0.2
	CaratMax = 5.0
	TableMin = 43.0
	TableMax = 95.0
)

// USDToIDR is the fixed USD to IDR conversion rate.
const USDToIDR = 15500

// Column names used in the dataset, the feature list and the API.
const (
	ColumnCarat   = "carat"
	ColumnCut     = "cut"
	ColumnColor   = "color"
	ColumnClarity = "clarity"
	ColumnTable   = "table"
	ColumnPrice   = "price"
	ColumnDepth   = "depth"
	ColumnX       = "x"
	ColumnY       = "y"
	ColumnZ       = "z"
)

// Worst-to-best level orderings. The encoder artifact embeds these and is
// checked against them on load, so this is the single source of truth.
var (
	cutLevels     = []string{"Fair", "Good", "Very Good", "Premium", "Ideal"}
	colorLevels   = []string{"J", "I", "H", "G", "F", "E", "D"}
	clarityLevels = []string{"I1", "SI2", "SI1", "VS2", "VS1", "VVS2", "VVS1", "IF"}
)

// CategoricalColumns returns the ordinal columns in encoder order.
func CategoricalColumns() []string {
	return []string{ColumnCut, ColumnColor, ColumnClarity}
}

// FeatureNames returns the canonical feature set in the order the public
// dataset produces it.
func FeatureNames() []string {
	return []string{ColumnCarat, ColumnCut, ColumnColor, ColumnClarity, ColumnTable}
}

// Levels returns a copy of the worst-to-best levels for a categorical column.
func Levels(column string) ([]string, bool) {
	switch column {
	case ColumnCut:
		return slices.Clone(cutLevels), true
	case ColumnColor:
		return slices.Clone(colorLevels), true
	case ColumnClarity:
		return slices.Clone(clarityLevels), true
	default:
		return nil, false
	}
}

// CutLevels returns the cut grades from worst to best.
func CutLevels() []string { return slices.Clone(cutLevels) }

// ColorLevels returns the color grades from worst (J) to best (D).
func ColorLevels() []string { return slices.Clone(colorLevels) }

// ClarityLevels returns the clarity grades from worst (I1) to best (IF).
func ClarityLevels() []string { return slices.Clone(clarityLevels) }

// Diamond holds the five attributes a price is predicted from.
type Diamond struct {
	Carat   float64 `json:"carat"`
	Cut     string  `json:"cut"`
	Color   string  `json:"color"`
	Clarity string  `json:"clarity"`
	Table   float64 `json:"table"`
}

// Category returns the value of a categorical attribute by column name.
func (d Diamond) Category(column string) (string, bool) {
	switch column {
	case ColumnCut:
		return d.Cut, true
	case ColumnColor:
		return d.Color, true
	case ColumnClarity:
		return d.Clarity, true
	default:
		return "", false
	}
}

// Numeric returns the value of a numeric attribute by column name.
func (d Diamond) Numeric(column string) (float64, bool) {
	switch column {
	case ColumnCarat:
		return d.Carat, true
	case ColumnTable:
		return d.Table, true
	default:
		return 0, false
	}
}

// Prediction is a predicted price in USD and its IDR equivalent.
type Prediction struct {
	PriceUSD float64 `json:"price_usd"`
	PriceIDR float64 `json:"price_idr"`
}

// NewPrediction rounds priceUSD to cents and derives the IDR amount from the
// rounded value, so PriceIDR == round(PriceUSD * USDToIDR) always holds.
func NewPrediction(priceUSD float64) Prediction {
	usd := RoundTo(priceUSD, 2)
	return Prediction{
		PriceUSD: usd,
		PriceIDR: math.Round(usd * USDToIDR),
	}
}

// ToIDR converts a USD amount at the fixed rate.
func ToIDR(usd float64) float64 {
	return usd * USDToIDR
}

// RoundTo rounds v to the given number of decimal places.
func RoundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
