package controller

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/evacmap/evacmap/internal/evacuation"
)

// Form is the user-editable input of an evacuation query.
type Form struct {
	Place       string                              `json:"place" validate:"required"`
	Origin      string                              `json:"origin" validate:"required,latlng"`
	Destination string                              `json:"destination" validate:"required,latlng"`
	NetworkType string                              `json:"networkType,omitempty" validate:"omitempty,oneof=drive walk bike all"`
	Environment map[evacuation.ParameterKey]float64 `json:"environment,omitempty"`
}

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Field error codes.
const (
	CodeRequired           = "REQUIRED"
	CodeInvalidCoordinates = "INVALID_COORDINATES"
	CodeInvalidChoice      = "INVALID_CHOICE"
	CodeUnknownParameter   = "UNKNOWN_PARAMETER"
	CodeOutOfRange         = "OUT_OF_RANGE"
	CodeInvalid            = "INVALID"
)

// ValidationError lists every invalid field of a rejected form.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "invalid query: " + strings.Join(msgs, "; ")
}

// Is matches the evacuation sentinel for the kind of fields that failed.
func (e *ValidationError) Is(target error) bool {
	for _, f := range e.Fields {
		switch {
		case target == evacuation.ErrInvalidCoordinates && (f.Field == "origin" || f.Field == "destination"):
			return true
		case target == evacuation.ErrInvalidParameters && f.Field != "origin" && f.Field != "destination":
			return true
		}
	}
	return false
}

// formValidator checks forms against struct tags and the parameter ranges.
type formValidator struct {
	validate *validator.Validate
	params   evacuation.ParameterSet
}

func newFormValidator(params evacuation.ParameterSet) *formValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		return name
	})
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("latlng", func(fl validator.FieldLevel) bool {
		_, err := evacuation.ParseCoordinate(fl.Field().String())
		return err == nil
	})

	return &formValidator{validate: v, params: params}
}

// Query validates the form and converts it to a provider query.
func (fv *formValidator) Query(f Form) (evacuation.Query, error) {
	f.Place = strings.TrimSpace(f.Place)

	var fields []FieldError
	if err := fv.validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return evacuation.Query{}, fmt.Errorf("validating form: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(f, fe), Code: fieldCode(fe)})
		}
	}

	keys := make([]string, 0, len(f.Environment))
	for k := range f.Environment {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := evacuation.ParameterKey(k)
		p, ok := fv.params.Lookup(key)
		if !ok {
			fields = append(fields, FieldError{Field: k, Message: "unknown parameter", Code: CodeUnknownParameter})
			continue
		}
		if !p.Contains(f.Environment[key]) {
			fields = append(fields, FieldError{
				Field:   k,
				Message: fmt.Sprintf("must be between %g and %g %s", p.Min, p.Max, p.Unit),
				Code:    CodeOutOfRange,
			})
		}
	}

	if len(fields) > 0 {
		return evacuation.Query{}, &ValidationError{Fields: fields}
	}

	// Tags already accepted both coordinates and the environment keys.
	origin, _ := evacuation.ParseCoordinate(f.Origin)
	destination, _ := evacuation.ParseCoordinate(f.Destination)
	env, _ := fv.params.Resolve(f.Environment)

	return evacuation.Query{
		Place:       f.Place,
		Origin:      origin,
		Destination: destination,
		NetworkType: evacuation.NetworkType(f.NetworkType),
		Environment: env,
	}, nil
}

func fieldCode(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return CodeRequired
	case "latlng":
		return CodeInvalidCoordinates
	case "oneof":
		return CodeInvalidChoice
	default:
		return CodeInvalid
	}
}

func fieldMessage(f Form, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "latlng":
		value := f.Origin
		if fe.Field() == "destination" {
			value = f.Destination
		}
		if _, err := evacuation.ParseCoordinate(value); err != nil {
			return strings.TrimPrefix(err.Error(), evacuation.ErrInvalidCoordinates.Error()+": ")
		}
		return "must be \"lat, lng\""
	default:
		return "failed " + fe.Tag() + " check"
	}
}
