// Package validation wraps go-playground/validator with the tags used for
// datasource definitions and admin requests.
package validation

import (
	stderrors "errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"dynamic-datasource/internal/common/errors"
	"dynamic-datasource/internal/strategy"
)

// namePattern is what a datasource or group name may look like: it ends up in
// env var names, URLs and metric labels.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Validator validates structs by their `validate` tags.
type Validator struct {
	validator *validator.Validate
}

// FieldError is a single failed rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

var (
	defaultValidator *Validator
	defaultOnce      sync.Once
)

// Default returns a shared validator.
func Default() *Validator {
	defaultOnce.Do(func() {
		defaultValidator = New()
	})
	return defaultValidator
}

// New creates a validator with the custom tags registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	registerValidators(v)

	// Report JSON names in errors, falling back to the Go field name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Validator{validator: v}
}

// Struct validates s and returns a validation AppError describing every
// failed field.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validator.Struct(s); err != nil {
		return toAppError(err)
	}
	return nil
}

// Var validates a single value against tag.
func (v *Validator) Var(field interface{}, tag string) error {
	if err := v.validator.Var(field, tag); err != nil {
		return toAppError(err)
	}
	return nil
}

// FieldErrors returns the individual failures of s, or nil when it is valid.
func (v *Validator) FieldErrors(s interface{}) []FieldError {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}
	return extract(err)
}

// IsName reports whether name is a valid datasource or group name.
func IsName(name string) bool {
	return namePattern.MatchString(name)
}

func toAppError(err error) error {
	fieldErrors := extract(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func extract(err error) []FieldError {
	var validationErrs validator.ValidationErrors
	if !stderrors.As(err, &validationErrs) {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(validationErrs))
	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: formatFieldError(fe),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Field())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Field(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Field(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), err.Param())
	case "datasource_name":
		return fmt.Sprintf("field '%s' must be a datasource name (letters, digits, '_', '-', '.')", err.Field())
	case "strategy_kind":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Field(), strings.Join(strategy.Kinds(), ", "))
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", err.Field())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Field(), err.Tag())
	}
}

func registerValidators(v *validator.Validate) {
	_ = v.RegisterValidation("datasource_name", func(fl validator.FieldLevel) bool {
		return IsName(fl.Field().String())
	})

	_ = v.RegisterValidation("strategy_kind", func(fl validator.FieldLevel) bool {
		return strategy.IsKnown(fl.Field().String())
	})

	// Five-field specs plus descriptors such as "@every 30s"
	_ = v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
}
