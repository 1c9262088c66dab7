package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

// PostgresWorkflowStore implements store.WorkflowStore on PostgreSQL.
// Workflow rows are never deleted; every state change appends a row to
// workflow_transitions in the same transaction.
type PostgresWorkflowStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Ensure PostgresWorkflowStore implements store.WorkflowStore interface
var _ store.WorkflowStore = (*PostgresWorkflowStore)(nil)

// NewPostgresWorkflowStore creates a workflow store on db.
// If logger is nil, slog.Default() is used.
func NewPostgresWorkflowStore(db *sql.DB, logger *slog.Logger) *PostgresWorkflowStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWorkflowStore{
		db:     db,
		logger: logger.With(slog.String("component", "workflow_store")),
	}
}

const workflowColumns = `id, workflow_type, entity_id, current_state, previous_state,
		transition_metadata, created_at, updated_at`

// CreateWorkflow implements store.WorkflowStore.
func (s *PostgresWorkflowStore) CreateWorkflow(ctx context.Context, wf *domain.WorkflowExecution) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := wf.Validate(); err != nil {
		return 0, store.NewStoreError("workflow", "create", "invalid workflow",
			fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}

	metadata, err := encodeMetadata(wf.TransitionMetadata)
	if err != nil {
		return 0, store.NewStoreError("workflow", "create", "encode metadata", err)
	}

	query := `
		INSERT INTO workflow_executions
			(workflow_type, entity_id, current_state, transition_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	err = s.db.QueryRowContext(ctx, query,
		wf.WorkflowType,
		wf.EntityID,
		string(wf.CurrentState),
		metadata,
		wf.CreatedAt,
		wf.UpdatedAt,
	).Scan(&id)
	if err != nil {
		log.Error("failed to create workflow",
			slog.String("error", err.Error()),
			slog.String("workflow_type", wf.WorkflowType),
			slog.String("entity_id", wf.EntityID))
		return 0, store.NewStoreError("workflow", "create", "insert failed", MapError(err))
	}

	return id, nil
}

// UpdateWorkflowState implements store.WorkflowStore.
func (s *PostgresWorkflowStore) UpdateWorkflowState(
	ctx context.Context,
	id int64,
	expected domain.State,
	next domain.State,
	metadata map[string]any,
) error {
	encoded, err := encodeMetadata(metadata)
	if err != nil {
		return store.NewStoreError("workflow", "update", "encode metadata", err)
	}

	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()

		result, err := tx.ExecContext(ctx, `
			UPDATE workflow_executions
			SET previous_state = current_state,
				current_state = $1,
				transition_metadata = $2,
				updated_at = $3
			WHERE id = $4 AND current_state = $5
		`, string(next), encoded, now, id, string(expected))
		if err != nil {
			return MapError(err)
		}

		if err := CheckRowsAffected(result, "workflow"); err != nil {
			if !store.IsNotFoundError(err) {
				return err
			}
			return s.explainMissedUpdate(ctx, tx, id, expected)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_transitions (workflow_id, from_state, to_state, metadata, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, id, string(expected), string(next), encoded, now)
		return MapError(err)
	})
}

// explainMissedUpdate distinguishes a missing workflow from a lost
// compare-and-set race after an UPDATE matched no rows.
func (s *PostgresWorkflowStore) explainMissedUpdate(
	ctx context.Context,
	tx *sql.Tx,
	id int64,
	expected domain.State,
) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return MapError(err)
	}
	if !exists {
		return store.ErrWorkflowNotFound
	}
	return fmt.Errorf("%w: workflow %d is no longer %s", store.ErrConflict, id, expected)
}

// FetchWorkflow implements store.WorkflowStore.
func (s *PostgresWorkflowStore) FetchWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+workflowColumns+` FROM workflow_executions WHERE id = $1`, id)

	wf, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWorkflowNotFound
		}
		return nil, store.NewStoreError("workflow", "fetch", "query failed", MapError(err))
	}
	return wf, nil
}

// FetchActiveWorkflows implements store.WorkflowStore.
func (s *PostgresWorkflowStore) FetchActiveWorkflows(
	ctx context.Context,
	workflowType string,
) ([]*domain.WorkflowExecution, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow_executions
		WHERE current_state NOT IN ('COMPLETED', 'FAILED')
			AND ($1::text = '' OR workflow_type = $1)
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, workflowType)
	if err != nil {
		return nil, store.NewStoreError("workflow", "fetch_active", "query failed", MapError(err))
	}
	return collectWorkflows(rows)
}

// FetchWorkflowHistory implements store.WorkflowStore.
func (s *PostgresWorkflowStore) FetchWorkflowHistory(
	ctx context.Context,
	entityID string,
	workflowType string,
	limit int,
) ([]*domain.WorkflowExecution, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflow_executions
		WHERE entity_id = $1
			AND ($2::text = '' OR workflow_type = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, entityID, workflowType, limit)
	if err != nil {
		return nil, store.NewStoreError("workflow", "fetch_history", "query failed", MapError(err))
	}
	return collectWorkflows(rows)
}

// FetchTransitions implements store.WorkflowStore.
func (s *PostgresWorkflowStore) FetchTransitions(
	ctx context.Context,
	workflowID int64,
) ([]*domain.WorkflowTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, from_state, to_state, metadata, created_at
		FROM workflow_transitions
		WHERE workflow_id = $1
		ORDER BY id ASC
	`, workflowID)
	if err != nil {
		return nil, store.NewStoreError("transition", "fetch", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.WorkflowTransition
	for rows.Next() {
		var (
			t        domain.WorkflowTransition
			from, to string
			metadata []byte
		)
		if err := rows.Scan(&t.ID, &t.WorkflowID, &from, &to, &metadata, &t.CreatedAt); err != nil {
			return nil, store.NewStoreError("transition", "fetch", "scan failed", err)
		}
		t.FromState = domain.State(from)
		t.ToState = domain.State(to)
		if t.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, store.NewStoreError("transition", "fetch", "decode metadata", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("transition", "fetch", "iterate rows", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*domain.WorkflowExecution, error) {
	var (
		wf       domain.WorkflowExecution
		current  string
		previous sql.NullString
		metadata []byte
	)
	if err := row.Scan(
		&wf.ID,
		&wf.WorkflowType,
		&wf.EntityID,
		&current,
		&previous,
		&metadata,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	); err != nil {
		return nil, err
	}

	wf.CurrentState = domain.State(current)
	if previous.Valid {
		wf.PreviousState = domain.State(previous.String)
	}

	decoded, err := decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	wf.TransitionMetadata = decoded
	return &wf, nil
}

func collectWorkflows(rows *sql.Rows) ([]*domain.WorkflowExecution, error) {
	defer func() { _ = rows.Close() }()

	var out []*domain.WorkflowExecution
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, store.NewStoreError("workflow", "fetch", "scan failed", err)
		}
		out = append(out, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("workflow", "fetch", "iterate rows", err)
	}
	return out, nil
}

func encodeMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(metadata)
}

func decodeMetadata(data []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
