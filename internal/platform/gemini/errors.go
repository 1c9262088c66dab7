package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrMissingAPIKey is returned when the provider is configured without an API key.
	ErrMissingAPIKey = errors.New("gemini API key cannot be empty")
)
