// Package generation provides the provider contract for external AI/LLM
// backends and the FailoverManager that calls them in order.
//
// Providers (Gemini, OpenAI) live under internal/platform and are selected at
// startup. The FailoverManager consults the artifact cache before any provider,
// collapses identical concurrent calls, and falls back to a stale cached
// response when every provider fails.
package generation
