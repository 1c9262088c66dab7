package generation

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the generation package
var (
	// ErrInvalidResponse is returned when the LLM response cannot be parsed or is malformed
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the LLM blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	ErrTransientFailure = errors.New("transient error during generation")

	// ErrInvalidConfig is returned when the provider configuration is invalid
	ErrInvalidConfig = errors.New("invalid generator configuration")

	// ErrEmptyInput is returned when Generate is called with no input
	ErrEmptyInput = errors.New("generation input cannot be empty")

	// ErrProviderUnavailable is recorded for providers that report themselves unavailable
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed is matched by ProvidersExhaustedError
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// ProviderFailure records why one provider did not produce a result.
type ProviderFailure struct {
	Provider string
	Err      error
}

// ProvidersExhaustedError lists every provider's failure, in call order.
type ProvidersExhaustedError struct {
	Failures []ProviderFailure
}

// Error implements the error interface.
func (e *ProvidersExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "all providers failed: no providers configured"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Provider, f.Err))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Is reports whether target is ErrAllProvidersFailed.
func (e *ProvidersExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Unwrap exposes each provider's error to errors.Is and errors.As.
func (e *ProvidersExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
