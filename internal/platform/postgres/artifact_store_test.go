package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/maintenance-orchestrator/internal/cache"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockArtifactStore(t *testing.T, now time.Time) (*PostgresArtifactStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresArtifactStore(db, time.Hour, logger.Discard())
	s.SetClock(func() time.Time { return now })
	return s, mock
}

func TestPostgresArtifactStore_Put(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, mock := newMockArtifactStore(t, now)

	mock.ExpectExec("INSERT INTO cached_artifacts").
		WithArgs("k1", []byte("value"), "gemini", []byte(`{"model":"flash"}`), now, now.Add(time.Minute)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	artifact := &cache.Artifact{
		Key:      "k1",
		Value:    []byte("value"),
		Provider: "gemini",
		Metadata: map[string]string{"model": "flash"},
	}
	require.NoError(t, s.Put(context.Background(), artifact, time.Minute))
	assert.Equal(t, now, artifact.CreatedAt)
	assert.Equal(t, now.Add(time.Minute), artifact.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresArtifactStore_PutEmptyKey(t *testing.T) {
	s, _ := newMockArtifactStore(t, time.Now())
	assert.ErrorIs(t, s.Put(context.Background(), &cache.Artifact{}, time.Minute), cache.ErrEmptyKey)
	assert.ErrorIs(t, s.Put(context.Background(), nil, time.Minute), cache.ErrEmptyKey)
}

func TestPostgresArtifactStore_Get(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	columns := []string{"key", "value", "provider", "metadata", "created_at", "expires_at"}

	t.Run("returns entries within stale retention", func(t *testing.T) {
		s, mock := newMockArtifactStore(t, now)

		expired := now.Add(-10 * time.Minute)
		mock.ExpectQuery("FROM cached_artifacts").
			WithArgs("k1", now.Add(-time.Hour)).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow("k1", []byte("value"), "openai", []byte(`{"a":"b"}`), expired.Add(-time.Hour), expired))

		artifact, err := s.Get(context.Background(), "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("value"), artifact.Value)
		assert.Equal(t, "openai", artifact.Provider)
		assert.Equal(t, "b", artifact.Metadata["a"])
		assert.False(t, artifact.Fresh(now))
	})

	t.Run("miss", func(t *testing.T) {
		s, mock := newMockArtifactStore(t, now)

		mock.ExpectQuery("FROM cached_artifacts").WillReturnError(sql.ErrNoRows)

		_, err := s.Get(context.Background(), "k1")
		assert.ErrorIs(t, err, cache.ErrMiss)
	})

	t.Run("driver error", func(t *testing.T) {
		s, mock := newMockArtifactStore(t, now)

		mock.ExpectQuery("FROM cached_artifacts").WillReturnError(errors.New("timeout"))

		_, err := s.Get(context.Background(), "k1")
		assert.ErrorContains(t, err, "timeout")
		assert.NotErrorIs(t, err, cache.ErrMiss)
	})
}

func TestPostgresArtifactStore_Purge(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s, mock := newMockArtifactStore(t, now)

	mock.ExpectExec("DELETE FROM cached_artifacts").
		WithArgs(now.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
