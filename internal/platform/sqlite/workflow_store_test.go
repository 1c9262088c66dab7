package sqlite_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/sqlite"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
	"github.com/phrazzld/maintenance-orchestrator/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.OpenInMemory(ctx, uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, store.Migrate(ctx, db, sqlite.Migrations, store.MigrateUp, logger.Discard()))
	return db
}

func newTestStore(t *testing.T) *sqlite.SQLiteWorkflowStore {
	t.Helper()
	return sqlite.NewSQLiteWorkflowStore(newTestDB(t), logger.Discard())
}

func createWorkflow(t *testing.T, s store.WorkflowStore, workflowType, entityID string) int64 {
	t.Helper()
	wf, err := domain.NewWorkflowExecution(workflowType, entityID, map[string]any{"source": "test"})
	require.NoError(t, err)
	id, err := s.CreateWorkflow(context.Background(), wf)
	require.NoError(t, err)
	return id
}

func TestSQLiteWorkflowStore_CreateAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := createWorkflow(t, s, "sme_query", "user_1")
	assert.Positive(t, id)

	wf, err := s.FetchWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, wf.ID)
	assert.Equal(t, "sme_query", wf.WorkflowType)
	assert.Equal(t, "user_1", wf.EntityID)
	assert.Equal(t, domain.StateCreated, wf.CurrentState)
	assert.Empty(t, wf.PreviousState)
	assert.Equal(t, "test", wf.TransitionMetadata["source"])
	assert.WithinDuration(t, time.Now(), wf.CreatedAt, time.Minute)

	second := createWorkflow(t, s, "sme_query", "user_1")
	assert.Greater(t, second, id)
}

func TestSQLiteWorkflowStore_CreateInvalid(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateWorkflow(context.Background(), &domain.WorkflowExecution{
		WorkflowType: "sme_query",
		CurrentState: domain.StateCreated,
	})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestSQLiteWorkflowStore_FetchMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FetchWorkflow(context.Background(), 404)
	assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
}

func TestSQLiteWorkflowStore_UpdateWorkflowState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := createWorkflow(t, s, "sme_query", "user_1")

	err := s.UpdateWorkflowState(ctx, id, domain.StateCreated, domain.StateInProgress,
		map[string]any{"source": "test", "step": 1})
	require.NoError(t, err)

	wf, err := s.FetchWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, wf.CurrentState)
	assert.Equal(t, domain.StateCreated, wf.PreviousState)
	assert.Equal(t, float64(1), wf.TransitionMetadata["step"])

	t.Run("stale expected state conflicts", func(t *testing.T) {
		err := s.UpdateWorkflowState(ctx, id, domain.StateCreated, domain.StateFailed, nil)
		assert.ErrorIs(t, err, store.ErrConflict)

		state, err := s.FetchWorkflow(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StateInProgress, state.CurrentState, "conflict must not mutate")
	})

	t.Run("missing workflow", func(t *testing.T) {
		err := s.UpdateWorkflowState(ctx, 999, domain.StateCreated, domain.StateInProgress, nil)
		assert.ErrorIs(t, err, store.ErrWorkflowNotFound)
	})

	t.Run("audit trail", func(t *testing.T) {
		trail, err := s.FetchTransitions(ctx, id)
		require.NoError(t, err)
		require.Len(t, trail, 1)
		assert.Equal(t, id, trail[0].WorkflowID)
		assert.Equal(t, domain.StateCreated, trail[0].FromState)
		assert.Equal(t, domain.StateInProgress, trail[0].ToState)
		assert.Equal(t, float64(1), trail[0].Metadata["step"])
	})
}

func TestSQLiteWorkflowStore_Listings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createWorkflow(t, s, "sme_query", "user_1")
	b := createWorkflow(t, s, "photo_analysis", "user_1")
	c := createWorkflow(t, s, "sme_query", "user_2")
	require.NoError(t, s.UpdateWorkflowState(ctx, b, domain.StateCreated, domain.StateFailed, nil))

	active, err := s.FetchActiveWorkflows(ctx, "")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, a, active[0].ID)
	assert.Equal(t, c, active[1].ID)

	typed, err := s.FetchActiveWorkflows(ctx, "photo_analysis")
	require.NoError(t, err)
	assert.Empty(t, typed)

	history, err := s.FetchWorkflowHistory(ctx, "user_1", "", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, b, history[0].ID, "newest first")

	limited, err := s.FetchWorkflowHistory(ctx, "user_1", "sme_query", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, a, limited[0].ID)
}

// The state machine on a real SQL store: create, run to completion, then
// reject leaving COMPLETED.
func TestSQLiteWorkflowStore_StateMachineLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sm, err := workflow.NewStateMachine(s, logger.Discard())
	require.NoError(t, err)

	id, err := sm.Create(ctx, "sme_query", "user_1", nil)
	require.NoError(t, err)
	require.NoError(t, sm.Transition(ctx, id, domain.StateInProgress, nil))
	require.NoError(t, sm.Transition(ctx, id, domain.StateCompleted, map[string]any{"cached": true}))

	err = sm.Transition(ctx, id, domain.StateInProgress, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	trail, err := sm.GetTransitions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, trail, 2)
}

func TestSQLiteWorkflowStore_ConcurrentTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sm, err := workflow.NewStateMachine(s, logger.Discard())
	require.NoError(t, err)
	id, err := sm.Create(ctx, "sme_query", "user_1", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- sm.Transition(ctx, id, domain.StateInProgress, nil)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)

	trail, err := s.FetchTransitions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}
