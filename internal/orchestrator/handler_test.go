package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/mocks"
	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationHandler_Prompt(t *testing.T) {
	gen := &mocks.MockGenerator{Result: &generation.Result{
		Text:     "Check the seal",
		Provider: "openai",
		Cached:   true,
		Usage:    generation.Usage{CostUSD: 0},
	}}
	h, err := NewGenerationHandler(gen, 0)
	require.NoError(t, err)

	answer, err := h.Handle(context.Background(), Request{Input: "  pump leaking  "}, CategoryTroubleshooting)
	require.NoError(t, err)
	assert.Equal(t, &Answer{Text: "Check the seal", Provider: "openai", Cached: true}, answer)

	require.Len(t, gen.GenerateCalls.Inputs, 1)
	prompt := gen.GenerateCalls.Inputs[0]
	assert.Contains(t, prompt, instructions[CategoryTroubleshooting])
	assert.Contains(t, prompt, "Technician: pump leaking\n")
}

func TestGenerationHandler_UnknownCategoryUsesExpertPrompt(t *testing.T) {
	gen := &mocks.MockGenerator{}
	h, err := NewGenerationHandler(gen, 0)
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), Request{Input: "x"}, Category("unknown"))
	require.NoError(t, err)
	assert.Contains(t, gen.GenerateCalls.Inputs[0], instructions[CategorySMEQuery])
}

func TestGenerationHandler_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"blocked", generation.ErrContentBlocked, true},
		{"empty", generation.ErrEmptyInput, true},
		{"transient", generation.ErrTransientFailure, false},
		{"exhausted", &generation.ProvidersExhaustedError{}, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewGenerationHandler(&mocks.MockGenerator{Err: tt.err}, 0)
			require.NoError(t, err)

			_, err = h.Handle(context.Background(), Request{Input: "x"}, CategorySMEQuery)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.permanent, retry.IsPermanent(err))
		})
	}
}
