package api

import (
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/outbound"
)

// ProcessRequestBody is the payload of POST /api/requests.
type ProcessRequestBody struct {
	UserID      string `json:"user_id"               validate:"required,max=128"`
	Input       string `json:"input"                 validate:"required,max=8000"`
	Destination string `json:"destination,omitempty" validate:"omitempty,max=512"`
}

// PhotoFields are the photo attributes shared by JSON and multipart uploads.
type PhotoFields struct {
	UserID      string `json:"user_id"               validate:"required,max=128"`
	MIMEType    string `json:"mime_type"             validate:"required,oneof=image/jpeg image/png image/webp image/heic"`
	Caption     string `json:"caption,omitempty"     validate:"omitempty,max=2000"`
	Destination string `json:"destination,omitempty" validate:"omitempty,max=512"`
}

// PhotoRequestBody is the JSON payload of POST /api/photos. Data holds the
// standard base64 encoding of the image.
type PhotoRequestBody struct {
	PhotoFields
	Data string `json:"data" validate:"required,base64"`
}

// WorkflowListResponse wraps a list of workflows.
type WorkflowListResponse struct {
	Workflows []*domain.WorkflowExecution `json:"workflows"`
	Count     int                         `json:"count"`
}

// TransitionListResponse is the audit trail of one workflow.
type TransitionListResponse struct {
	WorkflowID  int64                        `json:"workflow_id"`
	Transitions []*domain.WorkflowTransition `json:"transitions"`
}

// DeadLetterResponse lists the messages the outbound queue gave up on, oldest first.
type DeadLetterResponse struct {
	Messages []outbound.Message `json:"messages"`
	Count    int                `json:"count"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func newWorkflowList(workflows []*domain.WorkflowExecution) WorkflowListResponse {
	if workflows == nil {
		workflows = []*domain.WorkflowExecution{}
	}
	return WorkflowListResponse{Workflows: workflows, Count: len(workflows)}
}
