package generation

import (
	"context"
	"time"
)

// Usage reports what a call consumed.
type Usage struct {
	InputUnits  int     `json:"input_units"`
	OutputUnits int     `json:"output_units"`
	CostUSD     float64 `json:"cost_usd"`
}

// Output is a single provider response.
type Output struct {
	Text  string
	Usage Usage
}

// Provider is an interchangeable AI backend.
// This interface serves as a boundary between the application core and
// external AI/LLM services.
type Provider interface {
	// Name identifies the provider in logs, metrics and cached artifacts.
	Name() string

	// IsAvailable reports whether the provider can be called right now.
	IsAvailable(ctx context.Context) bool

	// Generate sends input and returns the response text and usage.
	// Errors should wrap ErrTransientFailure, ErrContentBlocked or ErrInvalidResponse.
	Generate(ctx context.Context, input string, maxOutput int) (Output, error)
}

// Result is what the FailoverManager returns to callers.
type Result struct {
	Text     string `json:"text"`
	Usage    Usage  `json:"usage"`
	Provider string `json:"provider"`
	Cached   bool   `json:"cached"`
	Stale    bool   `json:"stale"`
}

// Generator is the consumer-facing side of the FailoverManager.
type Generator interface {
	Generate(ctx context.Context, input string, maxOutput int) (*Result, error)
}

// Recorder receives per-provider outcomes, typically a metrics collector.
type Recorder interface {
	ObserveProviderCall(provider string, duration time.Duration, err error)
	ObserveCacheLookup(cacheName string, outcome string)
}

// Cache lookup outcomes passed to Recorder.ObserveCacheLookup.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
	CacheError = "error"
)

// CostUSD prices a call from per-million-unit rates.
func CostUSD(inputUnits, outputUnits int, inputPerMillion, outputPerMillion float64) float64 {
	return float64(inputUnits)*inputPerMillion/1e6 + float64(outputUnits)*outputPerMillion/1e6
}
