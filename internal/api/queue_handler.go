package api

import (
	"net/http"

	"github.com/phrazzld/maintenance-orchestrator/internal/api/shared"
	"github.com/phrazzld/maintenance-orchestrator/internal/outbound"
)

// QueueInspector exposes outbound queue counters and dead letters.
type QueueInspector interface {
	Stats() outbound.Stats
	DeadLetters() []outbound.Message
}

// QueueHandler serves outbound queue inspection.
type QueueHandler struct {
	queue QueueInspector
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(queue QueueInspector) *QueueHandler {
	return &QueueHandler{queue: queue}
}

// Stats handles GET /api/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, h.queue.Stats())
}

// DeadLetters handles GET /api/queue/dead-letters.
func (h *QueueHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	messages := h.queue.DeadLetters()
	if messages == nil {
		messages = []outbound.Message{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, DeadLetterResponse{Messages: messages, Count: len(messages)})
}
