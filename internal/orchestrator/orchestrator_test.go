package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/mocks"
	"github.com/phrazzld/maintenance-orchestrator/internal/orchestrator"
	"github.com/phrazzld/maintenance-orchestrator/internal/outbound"
	"github.com/phrazzld/maintenance-orchestrator/internal/pipeline"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/phrazzld/maintenance-orchestrator/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	destination string
	payload     []byte
}

type fakeQueue struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (q *fakeQueue) Enqueue(destination string, payload []byte) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return uuid.Nil, q.err
	}
	q.sent = append(q.sent, sentMessage{destination, payload})
	return uuid.New(), nil
}

type fakeAnalyzer struct {
	result *pipeline.PipelineResult
	inputs []pipeline.Input
}

func (a *fakeAnalyzer) Run(ctx context.Context, in pipeline.Input) *pipeline.PipelineResult {
	a.inputs = append(a.inputs, in)
	return a.result
}

type harness struct {
	store    *mocks.MockWorkflowStore
	machine  *workflow.StateMachine
	gen      *mocks.MockGenerator
	queue    *fakeQueue
	analyzer *fakeAnalyzer
	orch     *orchestrator.Orchestrator
}

func newHarness(t *testing.T, opts ...orchestrator.Option) *harness {
	t.Helper()

	h := &harness{
		store: mocks.NewMockWorkflowStore(),
		gen: &mocks.MockGenerator{Result: &generation.Result{
			Text:     "Grease every 2000 hours.",
			Provider: "gemini",
			Usage:    generation.Usage{CostUSD: 0.002},
		}},
		queue:    &fakeQueue{},
		analyzer: &fakeAnalyzer{},
	}

	var err error
	h.machine, err = workflow.NewStateMachine(h.store, logger.Discard())
	require.NoError(t, err)

	handler, err := orchestrator.NewGenerationHandler(h.gen, 256)
	require.NoError(t, err)

	executor := retry.NewExecutor(retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}, logger.Discard(),
		retry.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }))

	h.orch, err = orchestrator.New(orchestrator.Deps{
		Workflows: h.machine,
		Retry:     executor,
		Handler:   handler,
		Analyzer:  h.analyzer,
		Queue:     h.queue,
	}, logger.Discard(), opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) workflow(t *testing.T, id int64) *domain.WorkflowExecution {
	t.Helper()
	wf, err := h.machine.GetWorkflow(context.Background(), id)
	require.NoError(t, err)
	return wf
}

func (h *harness) path(t *testing.T, id int64) []domain.State {
	t.Helper()
	trail, err := h.machine.GetTransitions(context.Background(), id)
	require.NoError(t, err)
	states := []domain.State{domain.StateCreated}
	for _, tr := range trail {
		states = append(states, tr.ToState)
	}
	return states
}

func TestProcessRequest_Completes(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{
		UserID:      "user_1",
		Input:       "How often should bearings be greased?",
		Destination: "chat-1",
	})
	require.NoError(t, err)

	assert.Positive(t, result.WorkflowID)
	assert.Equal(t, orchestrator.CategorySMEQuery, result.Category)
	assert.Equal(t, "Grease every 2000 hours.", result.Answer.Text)
	assert.Equal(t, 1, result.Attempts)
	assert.NotEqual(t, uuid.Nil, result.MessageID)

	wf := h.workflow(t, result.WorkflowID)
	assert.Equal(t, domain.StateCompleted, wf.CurrentState)
	assert.Equal(t, orchestrator.WorkflowSMEQuery, wf.WorkflowType)
	assert.Equal(t, "user_1", wf.EntityID)
	assert.Equal(t, "sme_query", wf.TransitionMetadata["category"])
	assert.Equal(t, "gemini", wf.TransitionMetadata["provider"])
	assert.Equal(t, false, wf.TransitionMetadata["cached"])
	assert.Equal(t, false, wf.TransitionMetadata["stale"])
	assert.Equal(t, 1, wf.TransitionMetadata["attempts"])
	assert.Equal(t, 0.002, wf.TransitionMetadata["cost"])
	assert.Equal(t, []domain.State{domain.StateCreated, domain.StateInProgress, domain.StateCompleted}, h.path(t, result.WorkflowID))

	require.Len(t, h.queue.sent, 1)
	assert.Equal(t, "chat-1", h.queue.sent[0].destination)
	var delivered orchestrator.Result
	require.NoError(t, json.Unmarshal(h.queue.sent[0].payload, &delivered))
	assert.Equal(t, result.WorkflowID, delivered.WorkflowID)
	assert.Equal(t, "Grease every 2000 hours.", delivered.Answer.Text)
}

func TestProcessRequest_NoDestinationNoDelivery(t *testing.T) {
	h := newHarness(t)

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "user_1", Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, result.MessageID)
	assert.Empty(t, h.queue.sent)
}

func TestProcessRequest_RetriesHandler(t *testing.T) {
	h := newHarness(t)
	calls := 0
	h.gen.GenerateFn = func(ctx context.Context, input string, maxOutput int) (*generation.Result, error) {
		calls++
		if calls < 3 {
			return nil, generation.ErrTransientFailure
		}
		return &generation.Result{Text: "ok", Provider: "openai"}, nil
	}

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "user_1", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, h.workflow(t, result.WorkflowID).TransitionMetadata["attempts"])
}

func TestProcessRequest_ExhaustedFailsWorkflow(t *testing.T) {
	h := newHarness(t)
	h.gen.Err = &generation.ProvidersExhaustedError{Failures: []generation.ProviderFailure{
		{Provider: "gemini", Err: generation.ErrTransientFailure},
	}}

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{
		UserID:      "user_1",
		Input:       "Pump P-101 is leaking",
		Destination: "chat-1",
	})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, retry.ErrExhaustedRetries)
	assert.ErrorIs(t, err, generation.ErrAllProvidersFailed)
	assert.Equal(t, 3, h.gen.CallCount())

	var reqErr *orchestrator.RequestError
	require.ErrorAs(t, err, &reqErr)
	wf := h.workflow(t, reqErr.WorkflowID)
	assert.Equal(t, domain.StateFailed, wf.CurrentState)
	assert.Contains(t, wf.TransitionMetadata["error"], "all providers failed")
	assert.Equal(t, "troubleshooting", wf.TransitionMetadata["category"])
	assert.Equal(t, []domain.State{domain.StateCreated, domain.StateInProgress, domain.StateFailed}, h.path(t, reqErr.WorkflowID))
	assert.Empty(t, h.queue.sent)
}

func TestProcessRequest_PermanentErrorIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.gen.Err = generation.ErrContentBlocked

	_, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "user_1", Input: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, generation.ErrContentBlocked)
	assert.NotErrorIs(t, err, retry.ErrExhaustedRetries)
	assert.Equal(t, 1, h.gen.CallCount())
}

func TestProcessRequest_EmptyInput(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "user_1", Input: "  "})
	assert.ErrorIs(t, err, orchestrator.ErrEmptyInput)
	assert.ErrorIs(t, err, domain.ErrValidation)

	active, err := h.machine.GetActive(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, active, "no workflow is created")
}

func TestProcessRequest_EmptyUser(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{Input: "hi"})
	assert.ErrorIs(t, err, domain.ErrEmptyEntityID)
}

func TestProcessRequest_TerminalWorkflowIsNotFailedAgain(t *testing.T) {
	var store *mocks.MockWorkflowStore
	handler := orchestrator.HandlerFunc(func(ctx context.Context, req orchestrator.Request, c orchestrator.Category) (*orchestrator.Answer, error) {
		// Another writer completes the workflow while the handler runs.
		store.ForceState(1, domain.StateCompleted)
		return nil, retry.Permanent(errors.New("bad request"))
	})
	h := newHarness(t, orchestrator.WithHandler(orchestrator.CategorySMEQuery, handler))
	store = h.store

	_, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "user_1", Input: "hi"})
	require.Error(t, err)

	wf := h.workflow(t, 1)
	assert.Equal(t, domain.StateCompleted, wf.CurrentState)
	assert.NotContains(t, wf.TransitionMetadata, "error")
}

func TestProcessRequest_CategoryHandler(t *testing.T) {
	var got []orchestrator.Category
	workOrders := orchestrator.HandlerFunc(func(ctx context.Context, req orchestrator.Request, c orchestrator.Category) (*orchestrator.Answer, error) {
		got = append(got, c)
		return &orchestrator.Answer{Text: "WO-1 created", Provider: "cmms"}, nil
	})
	h := newHarness(t, orchestrator.WithHandler(orchestrator.CategoryWorkOrder, workOrders))

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "u", Input: "create a work order for AHU-3"})
	require.NoError(t, err)
	assert.Equal(t, "WO-1 created", result.Answer.Text)
	assert.Equal(t, []orchestrator.Category{orchestrator.CategoryWorkOrder}, got)
	assert.Zero(t, h.gen.CallCount())

	_, err = h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "u", Input: "what is a VFD"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.gen.CallCount(), "other categories use the default handler")
}

func TestProcessRequest_CanceledDuringHandlerStillFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := orchestrator.HandlerFunc(func(ctx context.Context, req orchestrator.Request, c orchestrator.Category) (*orchestrator.Answer, error) {
		cancel()
		return nil, ctx.Err()
	})
	h := newHarness(t, orchestrator.WithHandler(orchestrator.CategorySMEQuery, handler))

	_, err := h.orch.ProcessRequest(ctx, orchestrator.Request{UserID: "u", Input: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var reqErr *orchestrator.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, domain.StateFailed, h.workflow(t, reqErr.WorkflowID).CurrentState)
}

func TestProcessRequest_QueueFullDoesNotFailRequest(t *testing.T) {
	h := newHarness(t)
	h.queue.err = outbound.ErrQueueFull

	result, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "u", Input: "hi", Destination: "chat-1"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, result.MessageID)
	assert.Equal(t, domain.StateCompleted, h.workflow(t, result.WorkflowID).CurrentState)
}

func TestAnalyzePhoto(t *testing.T) {
	h := newHarness(t)
	h.analyzer.result = &pipeline.PipelineResult{
		Stages: []pipeline.StageResult{
			{StageName: pipeline.StageScreen, Success: true, CostUnits: 0.01},
			{StageName: pipeline.StageExtract, Success: false, Error: "vision down"},
			{StageName: pipeline.StageMatch, Success: true},
			{StageName: pipeline.StageSynthesize, Success: true, CostUnits: 0.02},
		},
		TotalCost:    0.03,
		FinalPayload: pipeline.Synthesis{Summary: "Seal replacement due"},
		ContentHash:  "abc",
	}

	result, err := h.orch.AnalyzePhoto(context.Background(), orchestrator.PhotoRequest{
		UserID:      "user_1",
		Data:        []byte("jpeg"),
		MIMEType:    "image/jpeg",
		Caption:     "leak",
		Destination: "chat-9",
	})
	require.NoError(t, err)

	assert.Equal(t, "Seal replacement due", result.Summary)
	require.Len(t, h.analyzer.inputs, 1)
	assert.Equal(t, "leak", h.analyzer.inputs[0].Caption)

	wf := h.workflow(t, result.WorkflowID)
	assert.Equal(t, orchestrator.WorkflowPhotoAnalysis, wf.WorkflowType)
	assert.Equal(t, domain.StateCompleted, wf.CurrentState, "degraded runs still complete")
	assert.Equal(t, "abc", wf.TransitionMetadata["content_hash"])
	assert.Equal(t, 0.03, wf.TransitionMetadata["total_cost"])
	assert.Equal(t, []string{pipeline.StageExtract}, wf.TransitionMetadata["failed_stages"])

	require.Len(t, h.queue.sent, 1)
	assert.Equal(t, "chat-9", h.queue.sent[0].destination)
	assert.Contains(t, string(h.queue.sent[0].payload), "Seal replacement due")
}

func TestAnalyzePhoto_SkippedExtractionSummary(t *testing.T) {
	h := newHarness(t)
	screening := pipeline.Screening{Category: "other", Confidence: 0.4}
	h.analyzer.result = &pipeline.PipelineResult{
		Stages: []pipeline.StageResult{
			{StageName: pipeline.StageScreen, Success: true, Payload: screening},
			{StageName: pipeline.StageExtract, Success: true, Skipped: true, SkipReason: "confidence 0.40 below threshold 0.80"},
		},
		FinalPayload: screening,
	}

	result, err := h.orch.AnalyzePhoto(context.Background(), orchestrator.PhotoRequest{UserID: "u", Data: []byte("x")})
	require.NoError(t, err)
	assert.Contains(t, result.Summary, `"other"`)
}

func TestAnalyzePhoto_Validation(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.AnalyzePhoto(context.Background(), orchestrator.PhotoRequest{UserID: "u"})
	assert.ErrorIs(t, err, orchestrator.ErrEmptyInput)

	executor := retry.NewExecutor(retry.DefaultPolicy(), logger.Discard())
	handler, err := orchestrator.NewGenerationHandler(h.gen, 0)
	require.NoError(t, err)
	noPipeline, err := orchestrator.New(orchestrator.Deps{Workflows: h.machine, Retry: executor, Handler: handler}, logger.Discard())
	require.NoError(t, err)

	_, err = noPipeline.AnalyzePhoto(context.Background(), orchestrator.PhotoRequest{UserID: "u", Data: []byte("x")})
	assert.ErrorIs(t, err, orchestrator.ErrPhotoAnalysisDisabled)
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	h.gen.Err = generation.ErrContentBlocked

	_, err := h.orch.ProcessRequest(context.Background(), orchestrator.Request{UserID: "u", Input: "hi"})
	var reqErr *orchestrator.RequestError
	require.ErrorAs(t, err, &reqErr)

	require.NoError(t, h.orch.Retry(context.Background(), reqErr.WorkflowID))
	wf := h.workflow(t, reqErr.WorkflowID)
	assert.Equal(t, domain.StateCreated, wf.CurrentState)
	assert.Equal(t, domain.StateFailed, wf.PreviousState)
	assert.Contains(t, wf.TransitionMetadata, "retried_at")

	// Only FAILED workflows can be retried.
	err = h.orch.Retry(context.Background(), reqErr.WorkflowID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	err = h.orch.Retry(context.Background(), 999)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestNew_Validation(t *testing.T) {
	h := newHarness(t)
	handler, err := orchestrator.NewGenerationHandler(h.gen, 0)
	require.NoError(t, err)
	executor := retry.NewExecutor(retry.DefaultPolicy(), logger.Discard())

	tests := map[string]orchestrator.Deps{
		"no workflows": {Retry: executor, Handler: handler},
		"no retry":     {Workflows: h.machine, Handler: handler},
		"no handler":   {Workflows: h.machine, Retry: executor},
	}
	for name, deps := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := orchestrator.New(deps, logger.Discard())
			assert.Error(t, err)
		})
	}

	_, err = orchestrator.New(orchestrator.Deps{Workflows: h.machine, Retry: executor, Handler: handler}, nil)
	assert.Error(t, err)

	_, err = orchestrator.NewGenerationHandler(nil, 0)
	assert.Error(t, err)
}
