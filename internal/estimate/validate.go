package estimate

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/diamond-cli/internal/model"
)

// Input is a prediction request. Pointer fields distinguish absent values
// from zero values.
type Input struct {
	Carat   *float64 `json:"carat" validate:"required,gte=0.2,lte=5"`
	Cut     *string  `json:"cut" validate:"required,level=cut"`
	Color   *string  `json:"color" validate:"required,level=color"`
	Clarity *string  `json:"clarity" validate:"required,level=clarity"`
	Table   *float64 `json:"table" validate:"required,gte=43,lte=95"`
}

// InputOf wraps a complete diamond as an Input.
func InputOf(d model.Diamond) Input {
	return Input{Carat: &d.Carat, Cut: &d.Cut, Color: &d.Color, Clarity: &d.Clarity, Table: &d.Table}
}

// ValidationError is a rejected input. Message is safe to show to users.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MissingError reports absent fields, listed in the order given.
func MissingError(fields []string) *ValidationError {
	return &ValidationError{
		Fields:  slices.Clone(fields),
		Message: "Missing required fields: " + strings.Join(fields, ", "),
	}
}

// InvalidValueError reports a field whose value has the wrong type.
func InvalidValueError(field, detail string) *ValidationError {
	return &ValidationError{
		Fields:  []string{field},
		Message: "Invalid value: " + detail,
	}
}

// RangeError reports a numeric field outside its allowed range.
func RangeError(field string) *ValidationError {
	var msg string
	switch field {
	case model.ColumnCarat:
		msg = fmt.Sprintf("Carat must be between %.1f and %.1f", model.CaratMin, model.CaratMax)
	case model.ColumnTable:
		msg = fmt.Sprintf("Table must be between %g and %g", model.TableMin, model.TableMax)
	default:
		msg = fmt.Sprintf("Invalid %s", field)
	}
	return &ValidationError{Fields: []string{field}, Message: msg}
}

// LevelError reports a categorical field outside its level set.
func LevelError(field string) *ValidationError {
	levels, _ := model.Levels(field)
	return &ValidationError{
		Fields:  []string{field},
		Message: fmt.Sprintf("Invalid %s. Must be one of: %s", field, strings.Join(levels, ", ")),
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			return name
		})
		// level=<column> checks membership in the canonical level set.
		err := validate.RegisterValidation("level", func(fl validator.FieldLevel) bool {
			levels, ok := model.Levels(fl.Param())
			return ok && slices.Contains(levels, fl.Field().String())
		})
		if err != nil {
			// The tag is static; failing here is a programming error.
			panic(err)
		}
	})
	return validate
}

// Validate checks in against the service rules and returns the diamond it
// describes. Missing fields are reported together; otherwise the first
// failing field in canonical order is reported.
func Validate(in Input) (model.Diamond, error) {
	err := getValidator().Struct(in)
	if err == nil {
		return model.Diamond{
			Carat:   *in.Carat,
			Cut:     *in.Cut,
			Color:   *in.Color,
			Clarity: *in.Clarity,
			Table:   *in.Table,
		}, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.Diamond{}, err
	}

	var missing []string
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	if len(missing) > 0 {
		return model.Diamond{}, MissingError(missing)
	}

	fe := verrs[0]
	if fe.Tag() == "level" {
		return model.Diamond{}, LevelError(fe.Field())
	}
	return model.Diamond{}, RangeError(fe.Field())
}
