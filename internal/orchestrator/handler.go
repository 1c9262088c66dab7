package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
)

// Answer is what a handler produced for a request.
type Answer struct {
	Text     string  `json:"text"`
	Provider string  `json:"provider,omitempty"`
	Cached   bool    `json:"cached"`
	Stale    bool    `json:"stale"`
	Cost     float64 `json:"cost"`
}

// Handler answers requests of one category. Errors wrapped with
// retry.Permanent are not retried.
type Handler interface {
	Handle(ctx context.Context, req Request, category Category) (*Answer, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request, category Category) (*Answer, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req Request, category Category) (*Answer, error) {
	return f(ctx, req, category)
}

var instructions = map[Category]string{
	CategoryEquipmentLookup: "Identify the equipment the technician is asking about and give its key facts.",
	CategoryWorkOrder:       "Draft a work order: asset, problem, priority and the first action to take.",
	CategoryTroubleshooting: "List the most likely causes in order and a safe first check for each.",
	CategorySMEQuery:        "Answer as an experienced maintenance engineer.",
}

var requestPrompt = template.Must(template.New("request").Parse(`You are assisting a maintenance technician.
{{.Instruction}}
Keep the answer short and practical.

Technician: {{.Input}}
`))

// GenerationHandler answers every category with the language model.
type GenerationHandler struct {
	gen       generation.Generator
	maxOutput int
}

var _ Handler = (*GenerationHandler)(nil)

// NewGenerationHandler creates a GenerationHandler.
func NewGenerationHandler(gen generation.Generator, maxOutput int) (*GenerationHandler, error) {
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if maxOutput <= 0 {
		maxOutput = 1024
	}
	return &GenerationHandler{gen: gen, maxOutput: maxOutput}, nil
}

// Handle implements Handler. Blocked content and empty input are permanent.
func (h *GenerationHandler) Handle(ctx context.Context, req Request, category Category) (*Answer, error) {
	instruction, ok := instructions[category]
	if !ok {
		instruction = instructions[CategorySMEQuery]
	}

	var prompt bytes.Buffer
	if err := requestPrompt.Execute(&prompt, struct {
		Instruction string
		Input       string
	}{instruction, strings.TrimSpace(req.Input)}); err != nil {
		return nil, retry.Permanent(fmt.Errorf("render request prompt: %w", err))
	}

	res, err := h.gen.Generate(ctx, prompt.String(), h.maxOutput)
	if err != nil {
		if errors.Is(err, generation.ErrContentBlocked) || errors.Is(err, generation.ErrEmptyInput) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	return &Answer{
		Text:     res.Text,
		Provider: res.Provider,
		Cached:   res.Cached,
		Stale:    res.Stale,
		Cost:     res.Usage.CostUSD,
	}, nil
}
