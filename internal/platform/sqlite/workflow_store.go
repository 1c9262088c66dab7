package sqlite

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

// SQLiteWorkflowStore implements store.WorkflowStore on SQLite.
type SQLiteWorkflowStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.WorkflowStore = (*SQLiteWorkflowStore)(nil)

// NewSQLiteWorkflowStore creates a workflow store on db.
func NewSQLiteWorkflowStore(db *sql.DB, logger *slog.Logger) *SQLiteWorkflowStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteWorkflowStore{
		db:     db,
		logger: logger.With(slog.String("component", "workflow_store")),
	}
}

const selectWorkflow = `
	SELECT id, workflow_type, entity_id, current_state, previous_state,
		transition_metadata, created_at, updated_at
	FROM workflow_executions`

// CreateWorkflow implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) CreateWorkflow(ctx context.Context, wf *domain.WorkflowExecution) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := wf.Validate(); err != nil {
		return 0, store.NewStoreError("workflow", "create", "invalid workflow",
			fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}

	metadata, err := encodeMetadata(wf.TransitionMetadata)
	if err != nil {
		return 0, store.NewStoreError("workflow", "create", "encode metadata", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(workflow_type, entity_id, current_state, transition_metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, wf.WorkflowType, wf.EntityID, string(wf.CurrentState), metadata, wf.CreatedAt.UTC(), wf.UpdatedAt.UTC())
	if err != nil {
		log.Error("failed to create workflow",
			slog.String("error", err.Error()),
			slog.String("workflow_type", wf.WorkflowType))
		return 0, store.NewStoreError("workflow", "create", "insert failed", MapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, store.NewStoreError("workflow", "create", "read inserted id", err)
	}
	return id, nil
}

// UpdateWorkflowState implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) UpdateWorkflowState(
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
				current_state = ?,
				transition_metadata = ?,
				updated_at = ?
			WHERE id = ? AND current_state = ?
		`, string(next), encoded, now, id, string(expected))
		if err != nil {
			return MapError(err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if n == 0 {
			var exists bool
			err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = ?)`, id).Scan(&exists)
			if err != nil {
				return MapError(err)
			}
			if !exists {
				return store.ErrWorkflowNotFound
			}
			return fmt.Errorf("%w: workflow %d is no longer %s", store.ErrConflict, id, expected)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_transitions (workflow_id, from_state, to_state, metadata, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, id, string(expected), string(next), encoded, now)
		return MapError(err)
	})
}

// FetchWorkflow implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) FetchWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error) {
	wf, err := scanWorkflow(s.db.QueryRowContext(ctx, selectWorkflow+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrWorkflowNotFound
		}
		return nil, store.NewStoreError("workflow", "fetch", "query failed", MapError(err))
	}
	return wf, nil
}

// FetchActiveWorkflows implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) FetchActiveWorkflows(
	ctx context.Context,
	workflowType string,
) ([]*domain.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, selectWorkflow+`
		WHERE current_state NOT IN ('COMPLETED', 'FAILED')
			AND (?1 = '' OR workflow_type = ?1)
		ORDER BY id ASC
	`, workflowType)
	if err != nil {
		return nil, store.NewStoreError("workflow", "fetch_active", "query failed", MapError(err))
	}
	return collectWorkflows(rows)
}

// FetchWorkflowHistory implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) FetchWorkflowHistory(
	ctx context.Context,
	entityID string,
	workflowType string,
	limit int,
) ([]*domain.WorkflowExecution, error) {
	rows, err := s.db.QueryContext(ctx, selectWorkflow+`
		WHERE entity_id = ?1
			AND (?2 = '' OR workflow_type = ?2)
		ORDER BY id DESC
		LIMIT ?3
	`, entityID, workflowType, limit)
	if err != nil {
		return nil, store.NewStoreError("workflow", "fetch_history", "query failed", MapError(err))
	}
	return collectWorkflows(rows)
}

// FetchTransitions implements store.WorkflowStore.
func (s *SQLiteWorkflowStore) FetchTransitions(
	ctx context.Context,
	workflowID int64,
) ([]*domain.WorkflowTransition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, from_state, to_state, metadata, created_at
		FROM workflow_transitions
		WHERE workflow_id = ?
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
			metadata string
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
		metadata string
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

func encodeMetadata(metadata map[string]any) (string, error) {
	if metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMetadata(data string) (map[string]any, error) {
	out := map[string]any{}
	if data == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, err
	}
	return out, nil
}
