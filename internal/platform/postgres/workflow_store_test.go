package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workflowRowColumns = []string{
	"id", "workflow_type", "entity_id", "current_state", "previous_state",
	"transition_metadata", "created_at", "updated_at",
}

func newMockWorkflowStore(t *testing.T) (*PostgresWorkflowStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresWorkflowStore(db, logger.Discard()), mock
}

func TestPostgresWorkflowStore_CreateWorkflow(t *testing.T) {
	s, mock := newMockWorkflowStore(t)

	wf, err := domain.NewWorkflowExecution("sme_query", "user_1", map[string]any{"k": "v"})
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO workflow_executions").
		WithArgs("sme_query", "user_1", "CREATED", []byte(`{"k":"v"}`), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := s.CreateWorkflow(context.Background(), wf)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWorkflowStore_CreateWorkflow_Invalid(t *testing.T) {
	s, mock := newMockWorkflowStore(t)

	_, err := s.CreateWorkflow(context.Background(), &domain.WorkflowExecution{CurrentState: domain.StateCreated})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.ErrorIs(t, err, domain.ErrEmptyWorkflowType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWorkflowStore_CreateWorkflow_CheckViolation(t *testing.T) {
	s, mock := newMockWorkflowStore(t)
	wf, err := domain.NewWorkflowExecution("sme_query", "user_1", nil)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO workflow_executions").
		WillReturnError(newPgError("23514"))

	_, err = s.CreateWorkflow(context.Background(), wf)
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestPostgresWorkflowStore_UpdateWorkflowState(t *testing.T) {
	t.Run("updates and appends audit row", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE workflow_executions").
			WithArgs("IN_PROGRESS", []byte(`{"step":1}`), sqlmock.AnyArg(), int64(7), "CREATED").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO workflow_transitions").
			WithArgs(int64(7), "CREATED", "IN_PROGRESS", []byte(`{"step":1}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := s.UpdateWorkflowState(context.Background(), 7,
			domain.StateCreated, domain.StateInProgress, map[string]any{"step": 1})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict when state moved", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE workflow_executions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		err := s.UpdateWorkflowState(context.Background(), 7,
			domain.StateCreated, domain.StateInProgress, nil)
		assert.ErrorIs(t, err, store.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found when row missing", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE workflow_executions").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		err := s.UpdateWorkflowState(context.Background(), 7,
			domain.StateCreated, domain.StateInProgress, nil)
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("audit insert failure rolls back", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE workflow_executions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO workflow_transitions").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := s.UpdateWorkflowState(context.Background(), 7,
			domain.StateCreated, domain.StateInProgress, nil)
		assert.ErrorContains(t, err, "disk full")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresWorkflowStore_FetchWorkflow(t *testing.T) {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	updated := created.Add(time.Minute)

	t.Run("found", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("FROM workflow_executions WHERE id").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(workflowRowColumns).
				AddRow(5, "sme_query", "user_1", "IN_PROGRESS", "CREATED", []byte(`{"step":1}`), created, updated))

		wf, err := s.FetchWorkflow(context.Background(), 5)
		require.NoError(t, err)
		assert.Equal(t, int64(5), wf.ID)
		assert.Equal(t, domain.StateInProgress, wf.CurrentState)
		assert.Equal(t, domain.StateCreated, wf.PreviousState)
		assert.Equal(t, float64(1), wf.TransitionMetadata["step"])
		assert.Equal(t, created, wf.CreatedAt)
		assert.Equal(t, updated, wf.UpdatedAt)
	})

	t.Run("null previous state", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("FROM workflow_executions WHERE id").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(workflowRowColumns).
				AddRow(5, "sme_query", "user_1", "CREATED", nil, []byte(`{}`), created, created))

		wf, err := s.FetchWorkflow(context.Background(), 5)
		require.NoError(t, err)
		assert.Empty(t, wf.PreviousState)
		assert.NotNil(t, wf.TransitionMetadata)
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("FROM workflow_executions WHERE id").
			WithArgs(int64(5)).
			WillReturnError(sql.ErrNoRows)

		_, err := s.FetchWorkflow(context.Background(), 5)
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
	})
}

func TestPostgresWorkflowStore_Listings(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("active", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("NOT IN \\('COMPLETED', 'FAILED'\\)").
			WithArgs("sme_query").
			WillReturnRows(sqlmock.NewRows(workflowRowColumns).
				AddRow(1, "sme_query", "u1", "CREATED", nil, []byte(`{}`), now, now).
				AddRow(2, "sme_query", "u2", "IN_PROGRESS", "CREATED", []byte(`{}`), now, now))

		active, err := s.FetchActiveWorkflows(context.Background(), "sme_query")
		require.NoError(t, err)
		require.Len(t, active, 2)
		assert.Equal(t, int64(1), active[0].ID)
		assert.Equal(t, domain.StateInProgress, active[1].CurrentState)
	})

	t.Run("history", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("ORDER BY created_at DESC").
			WithArgs("u1", "", 5).
			WillReturnRows(sqlmock.NewRows(workflowRowColumns).
				AddRow(3, "photo_analysis", "u1", "COMPLETED", "IN_PROGRESS", []byte(`{}`), now, now))

		history, err := s.FetchWorkflowHistory(context.Background(), "u1", "", 5)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "photo_analysis", history[0].WorkflowType)
	})

	t.Run("query error", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("FROM workflow_executions").
			WillReturnError(errors.New("connection refused"))

		_, err := s.FetchActiveWorkflows(context.Background(), "")
		var storeErr *store.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "fetch_active", storeErr.Operation)
	})

	t.Run("transitions", func(t *testing.T) {
		s, mock := newMockWorkflowStore(t)

		mock.ExpectQuery("FROM workflow_transitions").
			WithArgs(int64(3)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "workflow_id", "from_state", "to_state", "metadata", "created_at"}).
				AddRow(10, 3, "CREATED", "IN_PROGRESS", []byte(`{}`), now).
				AddRow(11, 3, "IN_PROGRESS", "COMPLETED", []byte(`{"provider":"gemini"}`), now))

		trail, err := s.FetchTransitions(context.Background(), 3)
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.Equal(t, domain.StateCreated, trail[0].FromState)
		assert.Equal(t, domain.StateCompleted, trail[1].ToState)
		assert.Equal(t, "gemini", trail[1].Metadata["provider"])
	})
}
