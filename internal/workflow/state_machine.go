package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/events"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

const (
	// DefaultConflictRetries is how many times a transition that lost a
	// compare-and-set race is re-read and re-validated.
	DefaultConflictRetries = 3

	// DefaultHistoryLimit applies when GetHistory is called with a non-positive limit.
	DefaultHistoryLimit = 10
)

// Recorder receives state machine activity, typically a metrics collector.
type Recorder interface {
	ObserveCreated(workflowType string)
	ObserveTransition(workflowType string, from, to domain.State)
	ObserveConflict(workflowType string)
}

// StateMachine creates workflows and moves them between states.
type StateMachine struct {
	store           store.WorkflowStore
	emitter         events.EventEmitter
	recorder        Recorder
	logger          *slog.Logger
	conflictRetries int
	locks           *keyedMutex
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithEmitter publishes a TransitionEvent after every committed transition.
func WithEmitter(emitter events.EventEmitter) Option {
	return func(m *StateMachine) {
		m.emitter = emitter
	}
}

// WithRecorder registers a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(m *StateMachine) {
		m.recorder = r
	}
}

// WithConflictRetries overrides DefaultConflictRetries. Negative values are ignored.
func WithConflictRetries(n int) Option {
	return func(m *StateMachine) {
		if n >= 0 {
			m.conflictRetries = n
		}
	}
}

// NewStateMachine creates a StateMachine backed by workflowStore.
func NewStateMachine(workflowStore store.WorkflowStore, logger *slog.Logger, opts ...Option) (*StateMachine, error) {
	if workflowStore == nil {
		return nil, errors.New("workflow store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	m := &StateMachine{
		store:           workflowStore,
		logger:          logger.With("component", "state_machine"),
		conflictRetries: DefaultConflictRetries,
		locks:           newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Create inserts a new workflow in the CREATED state and returns its ID.
func (m *StateMachine) Create(
	ctx context.Context,
	workflowType string,
	entityID string,
	metadata map[string]any,
) (int64, error) {
	wf, err := domain.NewWorkflowExecution(workflowType, entityID, metadata)
	if err != nil {
		return 0, err
	}

	id, err := m.store.CreateWorkflow(ctx, wf)
	if err != nil {
		return 0, fmt.Errorf("create %s workflow for %s: %w", workflowType, entityID, err)
	}

	if m.recorder != nil {
		m.recorder.ObserveCreated(workflowType)
	}
	m.logger.DebugContext(ctx, "workflow created",
		"workflow_id", id,
		"workflow_type", workflowType,
		"entity_id", entityID)
	return id, nil
}

// Transition moves workflow id to next, merging metadata into the stored
// transition metadata (new keys win).
//
// A missing workflow or a move the adjacency table does not permit returns
// a *domain.InvalidTransitionError and leaves the record untouched. When
// another writer changes the workflow between the read and the write, the
// transition is re-read and re-validated up to the configured number of
// conflict retries.
func (m *StateMachine) Transition(
	ctx context.Context,
	id int64,
	next domain.State,
	metadata map[string]any,
) error {
	if !next.IsValid() {
		return domain.NewInvalidTransitionError(id, "", next, "unknown target state")
	}

	unlock := m.locks.lock(id)
	defer unlock()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		wf, err := m.store.FetchWorkflow(ctx, id)
		if err != nil {
			if store.IsNotFoundError(err) {
				return domain.NewInvalidTransitionError(id, "", next, "workflow not found")
			}
			return fmt.Errorf("load workflow %d: %w", id, err)
		}

		from := wf.CurrentState
		if !from.CanTransitionTo(next) {
			return domain.NewInvalidTransitionError(id, from, next, "transition not permitted")
		}

		merged := domain.MergeMetadata(wf.TransitionMetadata, metadata)
		err = m.store.UpdateWorkflowState(ctx, id, from, next, merged)
		switch {
		case err == nil:
			wf.PreviousState = from
			wf.CurrentState = next
			wf.TransitionMetadata = merged
			wf.UpdatedAt = time.Now().UTC()
			m.committed(ctx, wf, from)
			return nil

		case store.IsNotFoundError(err):
			return domain.NewInvalidTransitionError(id, from, next, "workflow not found")

		case store.IsConflictError(err):
			if m.recorder != nil {
				m.recorder.ObserveConflict(wf.WorkflowType)
			}
			if attempt >= m.conflictRetries {
				return fmt.Errorf("transition workflow %d to %s after %d attempts: %w",
					id, next, attempt+1, err)
			}
			m.logger.DebugContext(ctx, "workflow changed concurrently, re-reading",
				"workflow_id", id,
				"expected_state", from,
				"target_state", next,
				"attempt", attempt+1)

		default:
			return fmt.Errorf("persist transition of workflow %d to %s: %w", id, next, err)
		}
	}
}

// committed records and announces a persisted transition. Emitter failures
// are logged and never undo the transition.
func (m *StateMachine) committed(ctx context.Context, wf *domain.WorkflowExecution, from domain.State) {
	if m.recorder != nil {
		m.recorder.ObserveTransition(wf.WorkflowType, from, wf.CurrentState)
	}

	m.logger.DebugContext(ctx, "workflow transitioned",
		"workflow_id", wf.ID,
		"workflow_type", wf.WorkflowType,
		"from", from,
		"to", wf.CurrentState)

	if m.emitter == nil {
		return
	}
	if err := m.emitter.EmitEvent(ctx, events.NewTransitionEvent(wf, from)); err != nil {
		m.logger.WarnContext(ctx, "failed to emit transition event",
			"workflow_id", wf.ID,
			"to", wf.CurrentState,
			"error", err)
	}
}

// GetCurrentState returns the current state of workflow id.
func (m *StateMachine) GetCurrentState(ctx context.Context, id int64) (domain.State, error) {
	wf, err := m.GetWorkflow(ctx, id)
	if err != nil {
		return "", err
	}
	return wf.CurrentState, nil
}

// GetWorkflow returns workflow id. A missing workflow matches store.ErrWorkflowNotFound.
func (m *StateMachine) GetWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error) {
	wf, err := m.store.FetchWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return wf, nil
}

// GetHistory returns up to limit workflows of entityID, newest first.
// An empty workflowType matches every type.
func (m *StateMachine) GetHistory(
	ctx context.Context,
	entityID string,
	workflowType string,
	limit int,
) ([]*domain.WorkflowExecution, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	history, err := m.store.FetchWorkflowHistory(ctx, entityID, workflowType, limit)
	if err != nil {
		return nil, fmt.Errorf("get workflow history for %s: %w", entityID, err)
	}
	return history, nil
}

// GetActive returns workflows not in a terminal state, oldest first.
// An empty workflowType matches every type.
func (m *StateMachine) GetActive(ctx context.Context, workflowType string) ([]*domain.WorkflowExecution, error) {
	active, err := m.store.FetchActiveWorkflows(ctx, workflowType)
	if err != nil {
		return nil, fmt.Errorf("get active workflows: %w", err)
	}
	return active, nil
}

// GetTransitions returns the audit trail of workflow id in the order it was written.
func (m *StateMachine) GetTransitions(ctx context.Context, id int64) ([]*domain.WorkflowTransition, error) {
	trail, err := m.store.FetchTransitions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transitions of workflow %d: %w", id, err)
	}
	return trail, nil
}
