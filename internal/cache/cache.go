package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Hash domains. Identical bytes hashed under different domains never collide.
const (
	DomainGeneration = "generation"
	DomainExtraction = "extraction"
)

var (
	// ErrMiss is returned by Store.Get when no entry exists for the key.
	ErrMiss = errors.New("cache miss")

	// ErrEmptyKey is returned when an artifact has no key.
	ErrEmptyKey = errors.New("cache key cannot be empty")
)

// Artifact is a cached value keyed by content hash.
type Artifact struct {
	Key       string            `json:"key"`
	Value     []byte            `json:"value"`
	Provider  string            `json:"provider,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Fresh reports whether the artifact has not yet expired at now.
func (a *Artifact) Fresh(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// Store persists artifacts.
//
// Get returns entries past ExpiresAt as long as the store still retains them;
// callers decide between fresh and stale use with Artifact.Fresh.
type Store interface {
	Get(ctx context.Context, key string) (*Artifact, error)
	Put(ctx context.Context, artifact *Artifact, ttl time.Duration) error
}

// ContentHash returns the hex SHA-256 of domain, a zero byte, then data.
func ContentHash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteThrough stores artifact with its own timeout so a slow cache cannot hold
// up, or be canceled by, the request that produced the value.
func WriteThrough(
	ctx context.Context,
	store Store,
	artifact *Artifact,
	ttl time.Duration,
	timeout time.Duration,
	logger *slog.Logger,
) error {
	if store == nil {
		return nil
	}
	if artifact == nil || artifact.Key == "" {
		return ErrEmptyKey
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := store.Put(writeCtx, artifact, ttl); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "cache write failed",
				"key", artifact.Key,
				"provider", artifact.Provider,
				"error", err)
		}
		return fmt.Errorf("cache write %s: %w", artifact.Key, err)
	}
	return nil
}
