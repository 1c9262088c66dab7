package store

import (
	"context"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
)

// WorkflowStore defines the interface for workflow execution persistence.
// Implementations must never delete workflow rows; they form the audit trail.
type WorkflowStore interface {
	// CreateWorkflow inserts a new workflow and returns its store-assigned ID.
	CreateWorkflow(ctx context.Context, wf *domain.WorkflowExecution) (int64, error)

	// UpdateWorkflowState moves a workflow from expected to next, replacing the
	// transition metadata and appending an audit row, atomically.
	// Returns ErrWorkflowNotFound if the workflow does not exist and ErrConflict
	// if its current state is no longer expected.
	UpdateWorkflowState(
		ctx context.Context,
		id int64,
		expected domain.State,
		next domain.State,
		metadata map[string]any,
	) error

	// FetchWorkflow retrieves a workflow by ID.
	// Returns ErrWorkflowNotFound if the workflow does not exist.
	FetchWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error)

	// FetchActiveWorkflows returns workflows that are not in a terminal state,
	// oldest first. An empty workflowType matches every type.
	FetchActiveWorkflows(ctx context.Context, workflowType string) ([]*domain.WorkflowExecution, error)

	// FetchWorkflowHistory returns the workflows of an entity, newest first.
	// An empty workflowType matches every type.
	FetchWorkflowHistory(
		ctx context.Context,
		entityID string,
		workflowType string,
		limit int,
	) ([]*domain.WorkflowExecution, error)

	// FetchTransitions returns the audit trail of a workflow in the order it was written.
	FetchTransitions(ctx context.Context, workflowID int64) ([]*domain.WorkflowTransition, error)
}
