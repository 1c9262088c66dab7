package domain

import (
	"maps"
	"strings"
	"time"
)

// State represents the lifecycle state of a workflow execution.
type State string

// Possible workflow states
const (
	StateCreated         State = "CREATED"
	StateInProgress      State = "IN_PROGRESS"
	StatePendingApproval State = "PENDING_APPROVAL"
	StateApproved        State = "APPROVED"
	StateRejected        State = "REJECTED"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// transitions is the fixed adjacency table of permitted state changes.
// COMPLETED has no outgoing edges; FAILED -> CREATED is the explicit retry path.
var transitions = map[State][]State{
	StateCreated:         {StateInProgress, StateFailed},
	StateInProgress:      {StatePendingApproval, StateCompleted, StateFailed},
	StatePendingApproval: {StateApproved, StateRejected, StateFailed},
	StateApproved:        {StateInProgress, StateCompleted, StateFailed},
	StateRejected:        {StateCompleted, StateFailed},
	StateCompleted:       {},
	StateFailed:          {StateCreated},
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is one of the known workflow states
func (s State) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal returns true for states that end a workflow run.
// FAILED is terminal even though it may be explicitly reset to CREATED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Successors returns the states reachable from s in one transition.
func (s State) Successors() []State {
	next := transitions[s]
	out := make([]State, len(next))
	copy(out, next)
	return out
}

// CanTransitionTo checks if transition to another state is allowed
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseState converts a string into a State, accepting any letter case.
func ParseState(s string) (State, error) {
	state := State(strings.ToUpper(strings.TrimSpace(s)))
	if !state.IsValid() {
		return "", ErrInvalidState
	}
	return state, nil
}

// TerminalStates returns the states excluded from active workflow listings.
func TerminalStates() []State {
	return []State{StateCompleted, StateFailed}
}

// WorkflowExecution is a single tracked multi-step request.
// Records are mutated only through state transitions and never deleted.
type WorkflowExecution struct {
	ID                 int64          `json:"id"`
	WorkflowType       string         `json:"workflow_type"`
	EntityID           string         `json:"entity_id"`
	CurrentState       State          `json:"current_state"`
	PreviousState      State          `json:"previous_state,omitempty"`
	TransitionMetadata map[string]any `json:"transition_metadata"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// NewWorkflowExecution creates a workflow in the CREATED state.
// The ID is assigned by the store on insert.
func NewWorkflowExecution(workflowType, entityID string, metadata map[string]any) (*WorkflowExecution, error) {
	now := time.Now().UTC()
	wf := &WorkflowExecution{
		WorkflowType:       workflowType,
		EntityID:           entityID,
		CurrentState:       StateCreated,
		TransitionMetadata: MergeMetadata(nil, metadata),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := wf.Validate(); err != nil {
		return nil, err
	}

	return wf, nil
}

// Validate checks if the WorkflowExecution has valid data.
func (w *WorkflowExecution) Validate() error {
	if strings.TrimSpace(w.WorkflowType) == "" {
		return ErrEmptyWorkflowType
	}

	if strings.TrimSpace(w.EntityID) == "" {
		return ErrEmptyEntityID
	}

	if !w.CurrentState.IsValid() {
		return ErrInvalidState
	}

	if w.PreviousState != "" && !w.PreviousState.IsValid() {
		return ErrInvalidState
	}

	return nil
}

// MergeMetadata returns a new map holding base overlaid with update.
// Keys in update win. Neither argument is modified.
func MergeMetadata(base, update map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(update))
	maps.Copy(merged, base)
	maps.Copy(merged, update)
	return merged
}

// WorkflowTransition is one audit row recorded for a successful transition.
type WorkflowTransition struct {
	ID         int64          `json:"id"`
	WorkflowID int64          `json:"workflow_id"`
	FromState  State          `json:"from_state"`
	ToState    State          `json:"to_state"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  time.Time      `json:"created_at"`
}
