package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/pipeline"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Workflow types created by the orchestrator.
const (
	WorkflowSMEQuery      = "sme_query"
	WorkflowPhotoAnalysis = "photo_analysis"
)

// failTimeout bounds the best-effort FAILED transition, which runs even when
// the request context is already done.
const failTimeout = 5 * time.Second

var (
	// ErrEmptyInput is returned for requests with no text or photos with no bytes.
	ErrEmptyInput = fmt.Errorf("%w: request input cannot be empty", domain.ErrValidation)

	// ErrPhotoAnalysisDisabled is returned by AnalyzePhoto when no pipeline is configured.
	ErrPhotoAnalysisDisabled = errors.New("photo analysis is not configured")
)

// RequestError reports a request that failed after its workflow was created.
type RequestError struct {
	WorkflowID int64
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("workflow %d failed: %v", e.WorkflowID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// StateMachine is the part of workflow.StateMachine the orchestrator drives.
type StateMachine interface {
	Create(ctx context.Context, workflowType, entityID string, metadata map[string]any) (int64, error)
	Transition(ctx context.Context, id int64, next domain.State, metadata map[string]any) error
	GetCurrentState(ctx context.Context, id int64) (domain.State, error)
}

// Analyzer runs the photo stage pipeline.
type Analyzer interface {
	Run(ctx context.Context, in pipeline.Input) *pipeline.PipelineResult
}

// Enqueuer accepts outbound replies.
type Enqueuer interface {
	Enqueue(destination string, payload []byte) (uuid.UUID, error)
}

// Request is a free-text request from a user.
type Request struct {
	UserID      string `json:"user_id"`
	Input       string `json:"input"`
	Destination string `json:"destination,omitempty"`
}

// Result is the outcome of a completed request.
type Result struct {
	WorkflowID int64     `json:"workflow_id"`
	Category   Category  `json:"category"`
	Answer     Answer    `json:"answer"`
	Attempts   int       `json:"attempts"`
	MessageID  uuid.UUID `json:"message_id"`
}

// PhotoRequest is a photo submitted for analysis.
type PhotoRequest struct {
	UserID      string `json:"user_id"`
	Data        []byte `json:"-"`
	MIMEType    string `json:"mime_type"`
	Caption     string `json:"caption,omitempty"`
	Destination string `json:"destination,omitempty"`
}

// PhotoResult is the outcome of a completed photo analysis.
type PhotoResult struct {
	WorkflowID int64                    `json:"workflow_id"`
	Pipeline   *pipeline.PipelineResult `json:"pipeline"`
	Summary    string                   `json:"summary"`
	MessageID  uuid.UUID                `json:"message_id"`
}

// Deps are the services an Orchestrator is built from. Analyzer and Queue
// are optional.
type Deps struct {
	Workflows StateMachine
	Retry     *retry.Executor
	Handler   Handler
	Analyzer  Analyzer
	Queue     Enqueuer
}

// Orchestrator is the entry point for user requests.
type Orchestrator struct {
	workflows StateMachine
	retry     *retry.Executor
	fallback  Handler
	handlers  map[Category]Handler
	analyzer  Analyzer
	queue     Enqueuer
	tracer    trace.Tracer
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHandler routes category to h instead of the default handler.
func WithHandler(category Category, h Handler) Option {
	return func(o *Orchestrator) {
		o.handlers[category] = h
	}
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// New creates an Orchestrator.
func New(deps Deps, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Workflows == nil:
		return nil, errors.New("state machine cannot be nil")
	case deps.Retry == nil:
		return nil, errors.New("retry executor cannot be nil")
	case deps.Handler == nil:
		return nil, errors.New("handler cannot be nil")
	case logger == nil:
		return nil, errors.New("logger cannot be nil")
	}

	o := &Orchestrator{
		workflows: deps.Workflows,
		retry:     deps.Retry,
		fallback:  deps.Handler,
		handlers:  make(map[Category]Handler),
		analyzer:  deps.Analyzer,
		queue:     deps.Queue,
		tracer:    otel.Tracer("orchestrator"),
		logger:    logger.With("component", "orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ProcessRequest runs a text request through its workflow. A handler failure
// that survives every retry fails the workflow and is returned as a
// *RequestError.
func (o *Orchestrator) ProcessRequest(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.ProcessRequest",
		trace.WithAttributes(attribute.String("orchestrator.user_id", req.UserID)))
	defer span.End()

	id, err := o.start(ctx, WorkflowSMEQuery, req.UserID, map[string]any{"input_length": len(req.Input)})
	if err != nil {
		return nil, o.spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("orchestrator.workflow_id", id))
	logger := o.logger.With("workflow_id", id, "user_id", req.UserID)

	category := Route(req.Input)
	span.SetAttributes(attribute.String("orchestrator.category", string(category)))
	handler := o.handler(category)

	answer, attempts, err := retry.DoCounted(ctx, o.retry, "handle_"+string(category),
		func(ctx context.Context) (*Answer, error) {
			return handler.Handle(ctx, req, category)
		})
	if err != nil {
		o.fail(ctx, id, err, map[string]any{"category": string(category), "attempts": attempts})
		return nil, o.spanError(span, &RequestError{WorkflowID: id, Err: err})
	}

	err = o.workflows.Transition(ctx, id, domain.StateCompleted, map[string]any{
		"category": string(category),
		"provider": answer.Provider,
		"cached":   answer.Cached,
		"stale":    answer.Stale,
		"attempts": attempts,
		"cost":     answer.Cost,
	})
	if err != nil {
		o.fail(ctx, id, err, nil)
		return nil, o.spanError(span, &RequestError{WorkflowID: id, Err: err})
	}

	result := &Result{
		WorkflowID: id,
		Category:   category,
		Answer:     *answer,
		Attempts:   attempts,
	}
	result.MessageID = o.deliver(ctx, logger, req.Destination, result)

	span.SetStatus(codes.Ok, "")
	logger.InfoContext(ctx, "request completed",
		"category", category,
		"provider", answer.Provider,
		"cached", answer.Cached,
		"attempts", attempts,
		"cost", answer.Cost)
	return result, nil
}

// AnalyzePhoto runs a photo through the stage pipeline inside a
// photo_analysis workflow. Stage failures degrade the result but still
// complete the workflow; only cancellation fails it.
func (o *Orchestrator) AnalyzePhoto(ctx context.Context, req PhotoRequest) (*PhotoResult, error) {
	if o.analyzer == nil {
		return nil, ErrPhotoAnalysisDisabled
	}
	if len(req.Data) == 0 {
		return nil, ErrEmptyInput
	}

	ctx, span := o.tracer.Start(ctx, "orchestrator.AnalyzePhoto",
		trace.WithAttributes(
			attribute.String("orchestrator.user_id", req.UserID),
			attribute.Int("orchestrator.photo_bytes", len(req.Data)),
		))
	defer span.End()

	id, err := o.start(ctx, WorkflowPhotoAnalysis, req.UserID, map[string]any{
		"mime_type":   req.MIMEType,
		"photo_bytes": len(req.Data),
	})
	if err != nil {
		return nil, o.spanError(span, err)
	}
	span.SetAttributes(attribute.Int64("orchestrator.workflow_id", id))
	logger := o.logger.With("workflow_id", id, "user_id", req.UserID)

	run := o.analyzer.Run(ctx, pipeline.Input{
		UserID:   req.UserID,
		Data:     req.Data,
		MIMEType: req.MIMEType,
		Caption:  req.Caption,
	})
	if err := ctx.Err(); err != nil {
		o.fail(ctx, id, err, nil)
		return nil, o.spanError(span, &RequestError{WorkflowID: id, Err: err})
	}

	failed := run.Failed()
	if failed == nil {
		failed = []string{}
	}
	err = o.workflows.Transition(ctx, id, domain.StateCompleted, map[string]any{
		"content_hash":      run.ContentHash,
		"total_cost":        run.TotalCost,
		"total_duration_ms": run.TotalDurationMs,
		"budget_exceeded":   run.BudgetExceeded,
		"failed_stages":     failed,
		"stages":            len(run.Stages),
	})
	if err != nil {
		o.fail(ctx, id, err, nil)
		return nil, o.spanError(span, &RequestError{WorkflowID: id, Err: err})
	}

	result := &PhotoResult{
		WorkflowID: id,
		Pipeline:   run,
		Summary:    summarize(run),
	}
	result.MessageID = o.deliver(ctx, logger, req.Destination, result)

	span.SetStatus(codes.Ok, "")
	logger.InfoContext(ctx, "photo analysis completed",
		"failed_stages", failed,
		"total_cost", run.TotalCost,
		"budget_exceeded", run.BudgetExceeded)
	return result, nil
}

// Retry moves a FAILED workflow back to CREATED so it can be run again.
// Any other state returns a *domain.InvalidTransitionError.
func (o *Orchestrator) Retry(ctx context.Context, id int64) error {
	err := o.workflows.Transition(ctx, id, domain.StateCreated, map[string]any{
		"retried_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "workflow reset for retry", "workflow_id", id)
	return nil
}

func (o *Orchestrator) handler(category Category) Handler {
	if h, ok := o.handlers[category]; ok {
		return h
	}
	return o.fallback
}

// start creates a workflow and moves it to IN_PROGRESS.
func (o *Orchestrator) start(ctx context.Context, workflowType, userID string, metadata map[string]any) (int64, error) {
	id, err := o.workflows.Create(ctx, workflowType, userID, metadata)
	if err != nil {
		return 0, err
	}
	if err := o.workflows.Transition(ctx, id, domain.StateInProgress, nil); err != nil {
		o.fail(ctx, id, err, nil)
		return 0, &RequestError{WorkflowID: id, Err: err}
	}
	return id, nil
}

// fail moves workflow id to FAILED unless it is already terminal. It is best
// effort: problems are logged, never returned.
func (o *Orchestrator) fail(ctx context.Context, id int64, cause error, metadata map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	logger := o.logger.With("workflow_id", id)

	state, err := o.workflows.GetCurrentState(ctx, id)
	if err != nil {
		logger.ErrorContext(ctx, "could not load workflow to mark it failed", "cause", cause, "error", err)
		return
	}
	if state.IsTerminal() {
		logger.WarnContext(ctx, "workflow already terminal, not marking failed", "state", state, "cause", cause)
		return
	}

	md := domain.MergeMetadata(metadata, map[string]any{"error": cause.Error()})
	if err := o.workflows.Transition(ctx, id, domain.StateFailed, md); err != nil {
		logger.ErrorContext(ctx, "failed to mark workflow failed", "cause", cause, "error", err)
		return
	}
	logger.WarnContext(ctx, "workflow failed", "error", cause)
}

// deliver queues the JSON of reply for destination. Delivery problems are
// logged; the workflow outcome stands.
func (o *Orchestrator) deliver(ctx context.Context, logger *slog.Logger, destination string, reply any) uuid.UUID {
	if o.queue == nil || strings.TrimSpace(destination) == "" {
		return uuid.Nil
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		logger.ErrorContext(ctx, "failed to encode reply", "error", err)
		return uuid.Nil
	}
	msgID, err := o.queue.Enqueue(destination, payload)
	if err != nil {
		logger.WarnContext(ctx, "failed to queue reply", "destination", destination, "error", err)
		return uuid.Nil
	}
	return msgID
}

func (o *Orchestrator) spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// summarize turns a pipeline result into one line for the user.
func summarize(run *pipeline.PipelineResult) string {
	switch payload := run.FinalPayload.(type) {
	case pipeline.Synthesis:
		return payload.Summary
	case pipeline.MatchResult:
		if payload.Entity != nil {
			return fmt.Sprintf("Matched %s; no further guidance available.", payload.Entity.Name)
		}
	case pipeline.Extraction:
		return "Read the photo but could not match it to known equipment."
	case pipeline.Screening:
		if s := run.Stage(pipeline.StageExtract); s != nil && s.Skipped {
			return fmt.Sprintf("Photo classified as %q; not clear enough to read details.", payload.Category)
		}
	}
	return "The photo could not be analyzed."
}
