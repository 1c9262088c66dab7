package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
)

// MockArtifactStore is an in-memory cache.Store with a controllable clock.
// GetFn and PutFn, when set, replace the in-memory behavior.
type MockArtifactStore struct {
	GetFn func(ctx context.Context, key string) (*cache.Artifact, error)
	PutFn func(ctx context.Context, artifact *cache.Artifact, ttl time.Duration) error

	// Now stamps CreatedAt/ExpiresAt; defaults to time.Now.
	Now func() time.Time

	mu       sync.Mutex
	entries  map[string]cache.Artifact
	GetCount int
	PutCount int
}

var _ cache.Store = (*MockArtifactStore)(nil)

// NewMockArtifactStore creates an empty store.
func NewMockArtifactStore() *MockArtifactStore {
	return &MockArtifactStore{entries: make(map[string]cache.Artifact)}
}

// Get implements cache.Store. Expired entries are returned; nothing is evicted.
func (m *MockArtifactStore) Get(ctx context.Context, key string) (*cache.Artifact, error) {
	m.mu.Lock()
	m.GetCount++
	m.mu.Unlock()

	if m.GetFn != nil {
		return m.GetFn(ctx, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.entries[key]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &a, nil
}

// Put implements cache.Store.
func (m *MockArtifactStore) Put(ctx context.Context, artifact *cache.Artifact, ttl time.Duration) error {
	m.mu.Lock()
	m.PutCount++
	m.mu.Unlock()

	if m.PutFn != nil {
		return m.PutFn(ctx, artifact, ttl)
	}
	if artifact == nil || artifact.Key == "" {
		return cache.ErrEmptyKey
	}

	now := time.Now()
	if m.Now != nil {
		now = m.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *artifact
	stored.CreatedAt = now
	stored.ExpiresAt = now.Add(ttl)
	m.entries[artifact.Key] = stored
	return nil
}

// Len returns the number of stored entries.
func (m *MockArtifactStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Expire marks every entry as expired at t.
func (m *MockArtifactStore) Expire(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, a := range m.entries {
		a.ExpiresAt = t
		m.entries[k] = a
	}
}
