package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
)

// TransitionEvent describes a workflow state change that has been persisted.
type TransitionEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	WorkflowID   int64        `json:"workflow_id"`
	WorkflowType string       `json:"workflow_type"`
	EntityID     string       `json:"entity_id"`
	From         domain.State `json:"from"`
	To           domain.State `json:"to"`

	// Metadata is the workflow's merged transition metadata after the change
	Metadata map[string]any `json:"metadata,omitempty"`

	// At is when the transition was committed
	At time.Time `json:"at"`
}

// NewTransitionEvent creates a TransitionEvent for wf, which must already hold
// the new state.
func NewTransitionEvent(wf *domain.WorkflowExecution, from domain.State) *TransitionEvent {
	return &TransitionEvent{
		ID:           uuid.New(),
		WorkflowID:   wf.ID,
		WorkflowType: wf.WorkflowType,
		EntityID:     wf.EntityID,
		From:         from,
		To:           wf.CurrentState,
		Metadata:     domain.MergeMetadata(nil, wf.TransitionMetadata),
		At:           wf.UpdatedAt,
	}
}

// Payload encodes the event as JSON, for delivery to external sinks.
func (e *TransitionEvent) Payload() ([]byte, error) {
	return json.Marshal(e)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *TransitionEvent) error
}

// HandlerFunc adapts a function to the EventHandler interface.
type HandlerFunc func(ctx context.Context, event *TransitionEvent) error

// HandleEvent implements EventHandler.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *TransitionEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *TransitionEvent) error
}
