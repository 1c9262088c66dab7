package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
)

// WorkflowReader is the read side of the workflow state machine.
type WorkflowReader interface {
	GetWorkflow(ctx context.Context, id int64) (*domain.WorkflowExecution, error)
	GetTransitions(ctx context.Context, id int64) ([]*domain.WorkflowTransition, error)
	GetHistory(ctx context.Context, entityID, workflowType string, limit int) ([]*domain.WorkflowExecution, error)
	GetActive(ctx context.Context, workflowType string) ([]*domain.WorkflowExecution, error)
}

// WorkflowHandler serves workflow inspection and retry.
type WorkflowHandler struct {
	workflows WorkflowReader
	retrier   Processor
	logger    *slog.Logger
}

// NewWorkflowHandler creates a WorkflowHandler. Retries go through retrier so
// they follow the orchestrator's transition rules.
func NewWorkflowHandler(workflows WorkflowReader, retrier Processor, logger *slog.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		workflows: workflows,
		retrier:   retrier,
		logger:    logger.With(slog.String("component", "workflow_handler")),
	}
}

// GetWorkflow handles GET /api/workflows/{id}.
func (h *WorkflowHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}

	wf, err := h.workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get workflow")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, wf)
}

// GetTransitions handles GET /api/workflows/{id}/transitions.
func (h *WorkflowHandler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}

	// An unknown workflow has no audit rows; report it as missing rather
	// than as an empty trail.
	if _, err := h.workflows.GetWorkflow(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to get workflow")
		return
	}

	trail, err := h.workflows.GetTransitions(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get workflow transitions")
		return
	}
	if trail == nil {
		trail = []*domain.WorkflowTransition{}
	}

	shared.RespondWithJSON(w, r, http.StatusOK, TransitionListResponse{WorkflowID: id, Transitions: trail})
}

// RetryWorkflow handles POST /api/workflows/{id}/retry. Only FAILED
// workflows can be retried; anything else is a 409.
func (h *WorkflowHandler) RetryWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathID(w, r)
	if !ok {
		return
	}

	if err := h.retrier.Retry(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to retry workflow")
		return
	}
	h.logger.InfoContext(r.Context(), "workflow reset for retry", slog.Int64("workflow_id", id))

	wf, err := h.workflows.GetWorkflow(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get workflow")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, wf)
}

// ListHistory handles GET /api/workflows?entity_id=&type=&limit=.
func (h *WorkflowHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entityID := strings.TrimSpace(query.Get("entity_id"))
	if entityID == "" {
		HandleAPIError(w, r, fmt.Errorf("%w: entity_id is required", domain.ErrValidation), "")
		return
	}
	limit, err := getQueryLimit(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	history, err := h.workflows.GetHistory(r.Context(), entityID, strings.TrimSpace(query.Get("type")), limit)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list workflows")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newWorkflowList(history))
}

// ListActive handles GET /api/workflows/active?type=.
func (h *WorkflowHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	active, err := h.workflows.GetActive(r.Context(), strings.TrimSpace(r.URL.Query().Get("type")))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list active workflows")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newWorkflowList(active))
}
