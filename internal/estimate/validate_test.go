package estimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diamond-cli/internal/model"
)

func validDiamond() model.Diamond {
	return model.Diamond{Carat: 1.0, Cut: "Ideal", Color: "E", Clarity: "VS1", Table: 57}
}

func TestValidate_Valid(t *testing.T) {
	d, err := Validate(InputOf(validDiamond()))
	require.NoError(t, err)
	assert.Equal(t, validDiamond(), d)
}

func TestValidate_Bounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*model.Diamond)
		wantErr string
	}{
		{"carat min", func(d *model.Diamond) { d.Carat = 0.2 }, ""},
		{"carat max", func(d *model.Diamond) { d.Carat = 5.0 }, ""},
		{"carat low", func(d *model.Diamond) { d.Carat = 0.19 }, "Carat must be between 0.2 and 5.0"},
		{"carat high", func(d *model.Diamond) { d.Carat = 6.0 }, "Carat must be between 0.2 and 5.0"},
		{"carat nan", func(d *model.Diamond) { d.Carat = math.NaN() }, "Carat must be between 0.2 and 5.0"},
		{"table min", func(d *model.Diamond) { d.Table = 43 }, ""},
		{"table max", func(d *model.Diamond) { d.Table = 95 }, ""},
		{"table low", func(d *model.Diamond) { d.Table = 42.9 }, "Table must be between 43 and 95"},
		{"table high", func(d *model.Diamond) { d.Table = 95.1 }, "Table must be between 43 and 95"},
		{"cut", func(d *model.Diamond) { d.Cut = "Excellent" }, "Invalid cut. Must be one of: Fair, Good, Very Good, Premium, Ideal"},
		{"cut case", func(d *model.Diamond) { d.Cut = "ideal" }, "Invalid cut. Must be one of: Fair, Good, Very Good, Premium, Ideal"},
		{"very good", func(d *model.Diamond) { d.Cut = "Very Good" }, ""},
		{"color", func(d *model.Diamond) { d.Color = "K" }, "Invalid color. Must be one of: J, I, H, G, F, E, D"},
		{"clarity", func(d *model.Diamond) { d.Clarity = "FL" }, "Invalid clarity. Must be one of: I1, SI2, SI1, VS2, VS1, VVS2, VVS1, IF"},
		{"first in order", func(d *model.Diamond) { d.Carat = 9; d.Table = 10 }, "Carat must be between 0.2 and 5.0"},
		{"category before table", func(d *model.Diamond) { d.Clarity = "X"; d.Table = 10 }, "Invalid clarity."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := validDiamond()
			tt.mutate(&d)
			_, err := Validate(InputOf(d))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_Missing(t *testing.T) {
	carat := 1.0
	cut := "Ideal"
	_, err := Validate(Input{Carat: &carat, Cut: &cut})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"color", "clarity", "table"}, ve.Fields)
	assert.Equal(t, "Missing required fields: color, clarity, table", ve.Message)
}

func TestValidate_MissingBeatsRange(t *testing.T) {
	carat := 99.0
	_, err := Validate(Input{Carat: &carat})
	require.Error(t, err)
	assert.Equal(t, "Missing required fields: cut, color, clarity, table", err.Error())
}

func TestValidate_EmptyStringIsPresent(t *testing.T) {
	d := validDiamond()
	d.Color = ""
	_, err := Validate(InputOf(d))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid color.")
}

func TestErrorConstructors(t *testing.T) {
	assert.Equal(t, "Invalid value: carat must be a number", InvalidValueError("carat", "carat must be a number").Error())
	assert.Equal(t, []string{"table"}, RangeError("table").Fields)
	assert.False(t, IsValidation(ErrNotLoaded))
}

func TestGetValidator_LevelRuleRegistered(t *testing.T) {
	v := getValidator()
	require.NotPanics(t, func() { getValidator() })
	assert.Same(t, v, getValidator())

	bad := "Excellent"
	in := InputOf(validDiamond())
	in.Cut = &bad
	err := v.Struct(in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "level")
}
