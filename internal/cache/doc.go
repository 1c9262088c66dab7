// Package cache defines the content-addressed artifact cache used for provider
// responses and photo extractions.
//
// Keys are domain-separated SHA-256 hashes of the input. An entry is fresh until
// its ExpiresAt; stores keep it a while longer so callers can fall back to a
// stale value when every provider is down.
package cache
