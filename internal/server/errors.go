package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/slide-narrator/internal/jobs"
	"github.com/jonathan/slide-narrator/internal/pipeline"
	"github.com/jonathan/slide-narrator/internal/subject"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the HTTP status code for an error from the job API
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var running *jobs.AlreadyRunningError
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validation), errors.As(err, &fieldErrs),
		errors.Is(err, jobs.ErrInvalidStage),
		errors.Is(err, pipeline.ErrDocumentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, subject.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.As(err, &running),
		errors.Is(err, pipeline.ErrJobBusy),
		errors.Is(err, pipeline.ErrJobFailed),
		errors.Is(err, jobs.ErrStageConflict):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoSpeeches), errors.Is(err, pipeline.ErrUnsupportedKind):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// extractValidationErrors returns the first field error as a message
func extractValidationErrors(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		ve := validationErrors[0]
		return fmt.Sprintf("validation error: %s - %s", ve.Field(), ve.Tag())
	}
	return "validation error: invalid request"
}
