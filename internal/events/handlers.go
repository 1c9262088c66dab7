package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
)

// NewLogHandler returns a handler that writes every transition to the log.
func NewLogHandler(logger *slog.Logger) EventHandler {
	logger = logger.With("component", "transition_log")
	return HandlerFunc(func(ctx context.Context, event *TransitionEvent) error {
		logger.InfoContext(ctx, "workflow transitioned",
			"workflow_id", event.WorkflowID,
			"workflow_type", event.WorkflowType,
			"entity_id", event.EntityID,
			"from", event.From,
			"to", event.To)
		return nil
	})
}

// Enqueuer is the subset of the outbound queue used by FailureAlertHandler.
type Enqueuer interface {
	Enqueue(destination string, payload []byte) (uuid.UUID, error)
}

// FailureAlertHandler queues an alert whenever a workflow enters FAILED.
type FailureAlertHandler struct {
	queue       Enqueuer
	destination string
}

// NewFailureAlertHandler creates a handler that alerts destination through queue.
func NewFailureAlertHandler(queue Enqueuer, destination string) (*FailureAlertHandler, error) {
	if queue == nil {
		return nil, errors.New("queue cannot be nil")
	}
	if destination == "" {
		return nil, errors.New("alert destination cannot be empty")
	}
	return &FailureAlertHandler{queue: queue, destination: destination}, nil
}

// HandleEvent implements EventHandler.
func (h *FailureAlertHandler) HandleEvent(ctx context.Context, event *TransitionEvent) error {
	if event.To != domain.StateFailed {
		return nil
	}

	payload, err := event.Payload()
	if err != nil {
		return fmt.Errorf("encode failure alert: %w", err)
	}
	if _, err := h.queue.Enqueue(h.destination, payload); err != nil {
		return fmt.Errorf("queue failure alert for workflow %d: %w", event.WorkflowID, err)
	}
	return nil
}
