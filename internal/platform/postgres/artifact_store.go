package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
)

// PostgresArtifactStore is a cache.Store backed by the cached_artifacts table.
// Rows past expires_at stay readable for StaleRetention; Purge removes them
// after that.
type PostgresArtifactStore struct {
	db             *sql.DB
	staleRetention time.Duration
	logger         *slog.Logger
	now            func() time.Time
}

var _ cache.Store = (*PostgresArtifactStore)(nil)

// NewPostgresArtifactStore creates an artifact store on db.
func NewPostgresArtifactStore(db *sql.DB, staleRetention time.Duration, logger *slog.Logger) *PostgresArtifactStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresArtifactStore{
		db:             db,
		staleRetention: staleRetention,
		logger:         logger.With(slog.String("component", "artifact_store")),
		now:            time.Now,
	}
}

// SetClock overrides the time source, mainly for tests.
func (s *PostgresArtifactStore) SetClock(now func() time.Time) {
	s.now = now
}

// Get implements cache.Store.
func (s *PostgresArtifactStore) Get(ctx context.Context, key string) (*cache.Artifact, error) {
	var (
		artifact cache.Artifact
		metadata []byte
	)
	cutoff := s.now().UTC().Add(-s.staleRetention)

	err := s.db.QueryRowContext(ctx, `
		SELECT key, value, provider, metadata, created_at, expires_at
		FROM cached_artifacts
		WHERE key = $1 AND expires_at > $2
	`, key, cutoff).Scan(
		&artifact.Key,
		&artifact.Value,
		&artifact.Provider,
		&metadata,
		&artifact.CreatedAt,
		&artifact.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, MapError(err))
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &artifact.Metadata); err != nil {
			return nil, fmt.Errorf("decode artifact %s metadata: %w", key, err)
		}
	}
	return &artifact, nil
}

// Put implements cache.Store. An existing entry for the key is replaced.
func (s *PostgresArtifactStore) Put(ctx context.Context, artifact *cache.Artifact, ttl time.Duration) error {
	if artifact == nil || artifact.Key == "" {
		return cache.ErrEmptyKey
	}

	metadata := []byte("{}")
	if len(artifact.Metadata) > 0 {
		encoded, err := json.Marshal(artifact.Metadata)
		if err != nil {
			return fmt.Errorf("encode artifact %s metadata: %w", artifact.Key, err)
		}
		metadata = encoded
	}

	now := s.now().UTC()
	expires := now.Add(ttl)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_artifacts (key, value, provider, metadata, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			provider = EXCLUDED.provider,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at
	`, artifact.Key, artifact.Value, artifact.Provider, metadata, now, expires)
	if err != nil {
		return fmt.Errorf("write artifact %s: %w", artifact.Key, MapError(err))
	}

	artifact.CreatedAt = now
	artifact.ExpiresAt = expires
	return nil
}

// Purge deletes entries that expired more than StaleRetention ago and
// returns how many were removed.
func (s *PostgresArtifactStore) Purge(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.staleRetention)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM cached_artifacts WHERE expires_at <= $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge artifacts: %w", MapError(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge artifacts: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired artifacts", slog.Int64("count", n))
	}
	return n, nil
}
