// Package api exposes the orchestrator over HTTP: request and photo intake,
// workflow inspection and retry, outbound queue inspection, health and
// Prometheus metrics. Handlers translate domain errors into status codes
// and sanitized messages; raw error text only reaches the logs, redacted.
package api
