package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request context keys set by this package.
type ContextKey string

const (
	// TraceIDKey is the context key for the request trace ID.
	TraceIDKey ContextKey = "traceID"

	// TraceIDHeader carries the trace ID back to the client, and in from an
	// upstream caller that already assigned one.
	TraceIDHeader = "X-Trace-ID"

	// maxTraceIDLength bounds caller-supplied trace IDs.
	maxTraceIDLength = 64
)

// SetTraceID adds a fresh trace ID to the context.
func SetTraceID(ctx context.Context) context.Context {
	return WithTraceID(ctx, "")
}

// WithTraceID adds traceID to the context, generating one when traceID is
// empty, too long, or contains anything other than letters, digits and dashes.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if !validTraceID(traceID) {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

// generateTraceID returns 32 hex characters from a random UUID.
func generateTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
