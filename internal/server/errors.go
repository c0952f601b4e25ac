package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/docpipeline/internal/ingestion"
	"github.com/jonathan/docpipeline/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRunNotFound indicates the run is unknown to both the store and the live runs
type ErrRunNotFound struct {
	RunID string
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation *ErrValidation
		runMissing *ErrRunNotFound
		notFound   *store.NotFoundError
		invalidID  *store.InvalidRunIDError
	)
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &validation), errors.As(err, &invalidID), errors.Is(err, ingestion.ErrEmptySource):
		return http.StatusBadRequest
	case errors.As(err, &runMissing), errors.As(err, &notFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
