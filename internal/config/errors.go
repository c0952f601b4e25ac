package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError aggregates the field errors of an invalid configuration
type ValidationError struct {
	Fields []string
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config error: %s", strings.Join(e.Fields, "; "))
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func newValidationError(err error) *ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []string{err.Error()}, Cause: err}
	}
	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, describe(fe))
	}
	return &ValidationError{Fields: fields, Cause: err}
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("'%s' is required", field)
	case "oneof":
		return fmt.Sprintf("'%s' must be one of [%s]", field, fe.Param())
	case "gte", "min":
		return fmt.Sprintf("'%s' must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("'%s' must be at most %s", field, fe.Param())
	case "ltefield":
		return fmt.Sprintf("'%s' must not exceed %s", field, fe.Param())
	case "unique":
		return fmt.Sprintf("'%s' duplicates stage %v", field, fe.Value())
	case "retry_target":
		return fmt.Sprintf("'%s' %v must name this or an earlier stage", field, fe.Value())
	default:
		return fmt.Sprintf("'%s' failed %s", field, fe.Tag())
	}
}
