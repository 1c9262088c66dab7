package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/orchestrator"
	"github.com/phrazzld/maintenance-orchestrator/internal/outbound"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

// MapErrorToStatusCode maps internal errors to HTTP status codes. Cases are
// ordered from most to least specific since several sentinels wrap others.
func MapErrorToStatusCode(err error) int {
	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, shared.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge

	case errors.Is(err, orchestrator.ErrPhotoAnalysisDisabled):
		return http.StatusNotImplemented

	// Invalid transitions wrap ErrValidation, so they are matched first.
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrValidation),
		errors.As(err, &validationErrs):
		return http.StatusBadRequest

	case errors.Is(err, generation.ErrContentBlocked):
		return http.StatusUnprocessableEntity

	case errors.Is(err, outbound.ErrQueueFull),
		errors.Is(err, outbound.ErrQueueClosed):
		return http.StatusServiceUnavailable

	case errors.Is(err, generation.ErrAllProvidersFailed),
		errors.Is(err, retry.ErrExhaustedRetries):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-facing message for err that never
// includes provider replies, SQL or other internal detail.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var validationErrs validator.ValidationErrors

	switch {
	case errors.Is(err, shared.ErrBodyTooLarge):
		return "Request body too large"

	case errors.Is(err, orchestrator.ErrPhotoAnalysisDisabled):
		return "Photo analysis is not enabled"

	case errors.Is(err, domain.ErrInvalidTransition):
		return "Workflow cannot make that transition from its current state"

	case errors.Is(err, store.ErrConflict):
		return "Workflow was modified concurrently"

	case errors.Is(err, store.ErrWorkflowNotFound):
		return "Workflow not found"

	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"

	case errors.As(err, &validationErrs):
		return SanitizeValidationError(validationErrs)

	case errors.Is(err, orchestrator.ErrEmptyInput):
		return "Input is required"

	case errors.Is(err, domain.ErrEmptyEntityID):
		return "User ID is required"

	case errors.Is(err, domain.ErrValidation):
		return "Invalid request"

	case errors.Is(err, generation.ErrContentBlocked):
		return "Request was blocked by content filters"

	case errors.Is(err, outbound.ErrQueueFull),
		errors.Is(err, outbound.ErrQueueClosed):
		return "Service is busy, try again later"

	case errors.Is(err, generation.ErrAllProvidersFailed),
		errors.Is(err, retry.ErrExhaustedRetries):
		return "Language model providers are unavailable"

	case errors.Is(err, context.DeadlineExceeded):
		return "Request timed out"

	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator field errors into a short message
// naming the first offending field by its JSON name.
func SanitizeValidationError(errs validator.ValidationErrors) string {
	if len(errs) == 0 {
		return "Validation error"
	}
	fe := errs[0]
	return fmt.Sprintf("Invalid %s: %s", fe.Field(), getValidationTagMessage(fe.Tag()))
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "base64":
		return "must be base64 encoded"
	case "url", "http_url":
		return "invalid URL"
	default:
		return "validation failed"
	}
}

// HandleAPIError writes the status and safe message for err. When err maps
// to a 500 and fallback is non-empty, fallback is sent instead of the
// generic message.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}

	var opts []shared.ResponseOption
	// Conflicts and oversized bodies log at WARN.
	if status == http.StatusConflict || status == http.StatusRequestEntityTooLarge {
		opts = append(opts, shared.WithElevatedLogLevel())
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err, opts...)
}
