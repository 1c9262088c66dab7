package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/store"
)

// MockWorkflowStore is an in-memory store.WorkflowStore that honors the
// compare-and-set contract of UpdateWorkflowState.
//
// The Fn fields, when set, are called instead of the in-memory behavior.
type MockWorkflowStore struct {
	CreateWorkflowFn      func(ctx context.Context, wf *domain.WorkflowExecution) (int64, error)
	UpdateWorkflowStateFn func(ctx context.Context, id int64, expected, next domain.State, metadata map[string]any) error
	FetchWorkflowFn       func(ctx context.Context, id int64) (*domain.WorkflowExecution, error)

	mu          sync.Mutex
	nextID      int64
	nextTransID int64
	workflows   map[int64]*domain.WorkflowExecution
	transitions map[int64][]*domain.WorkflowTransition

	UpdateCalls int
}

var _ store.WorkflowStore = (*MockWorkflowStore)(nil)

// NewMockWorkflowStore creates an empty store.
func NewMockWorkflowStore() *MockWorkflowStore {
	return &MockWorkflowStore{
		workflows:   make(map[int64]*domain.WorkflowExecution),
		transitions: make(map[int64][]*domain.WorkflowTransition),
	}
}

func cloneWorkflow(wf *domain.WorkflowExecution) *domain.WorkflowExecution {
	c := *wf
	c.TransitionMetadata = domain.MergeMetadata(nil, wf.TransitionMetadata)
	return &c
}

// CreateWorkflow implements store.WorkflowStore
func (m *MockWorkflowStore) CreateWorkflow(ctx context.Context, wf *domain.WorkflowExecution) (int64, error) {
	if m.CreateWorkflowFn != nil {
		return m.CreateWorkflowFn(ctx, wf)
	}
	if err := wf.Validate(); err != nil {
		return 0, store.NewStoreError("workflow", "create", "invalid workflow", fmt.Errorf("%w: %w", store.ErrInvalidEntity, err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	stored := cloneWorkflow(wf)
	stored.ID = m.nextID
	m.workflows[stored.ID] = stored
	return stored.ID, nil
}

// UpdateWorkflowState implements store.WorkflowStore
func (m *MockWorkflowStore) UpdateWorkflowState(
	ctx context.Context,
	id int64,
	expected, next domain.State,
	metadata map[string]any,
) error {
	m.mu.Lock()
	m.UpdateCalls++
	m.mu.Unlock()

	if m.UpdateWorkflowStateFn != nil {
		return m.UpdateWorkflowStateFn(ctx, id, expected, next, metadata)
	}
	return m.ApplyUpdate(id, expected, next, metadata)
}

// ApplyUpdate performs the in-memory compare-and-set. Tests overriding
// UpdateWorkflowStateFn can delegate to it.
func (m *MockWorkflowStore) ApplyUpdate(id int64, expected, next domain.State, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wf, ok := m.workflows[id]
	if !ok {
		return store.ErrWorkflowNotFound
	}
	if wf.CurrentState != expected {
		return store.ErrConflict
	}

	now := time.Now().UTC()
	wf.PreviousState = wf.CurrentState
	wf.CurrentState = next
	wf.TransitionMetadata = domain.MergeMetadata(nil, metadata)
	wf.UpdatedAt = now

	m.nextTransID++
	m.transitions[id] = append(m.transitions[id], &domain.WorkflowTransition{
		ID:         m.nextTransID,
		WorkflowID: id,
		FromState:  expected,
		ToState:    next,
		Metadata:   domain.MergeMetadata(nil, metadata),
		CreatedAt:  now,
	})
	return nil
}

// ForceState moves a workflow without validation, simulating another writer.
func (m *MockWorkflowStore) ForceState(id int64, state domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if wf, ok := m.workflows[id]; ok {
		wf.PreviousState = wf.CurrentState
		wf.CurrentState = state
	}
}

// FetchWorkflow implements store.WorkflowStore
func (m *MockWorkflowStore) FetchWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error) {
	if m.FetchWorkflowFn != nil {
		return m.FetchWorkflowFn(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, store.ErrWorkflowNotFound
	}
	return cloneWorkflow(wf), nil
}

// FetchActiveWorkflows implements store.WorkflowStore
func (m *MockWorkflowStore) FetchActiveWorkflows(
	ctx context.Context,
	workflowType string,
) ([]*domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.WorkflowExecution
	for _, wf := range m.workflows {
		if wf.CurrentState.IsTerminal() {
			continue
		}
		if workflowType != "" && wf.WorkflowType != workflowType {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FetchWorkflowHistory implements store.WorkflowStore
func (m *MockWorkflowStore) FetchWorkflowHistory(
	ctx context.Context,
	entityID string,
	workflowType string,
	limit int,
) ([]*domain.WorkflowExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.WorkflowExecution
	for _, wf := range m.workflows {
		if wf.EntityID != entityID {
			continue
		}
		if workflowType != "" && wf.WorkflowType != workflowType {
			continue
		}
		out = append(out, cloneWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FetchTransitions implements store.WorkflowStore
func (m *MockWorkflowStore) FetchTransitions(
	ctx context.Context,
	workflowID int64,
) ([]*domain.WorkflowTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.workflows[workflowID]; !ok {
		return nil, store.ErrWorkflowNotFound
	}
	out := make([]*domain.WorkflowTransition, len(m.transitions[workflowID]))
	copy(out, m.transitions[workflowID])
	return out, nil
}
