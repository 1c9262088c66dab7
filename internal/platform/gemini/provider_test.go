package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/phrazzld/maintenance-orchestrator/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp      *genai.GenerateContentResponse
	err       error
	lastModel string
	lastCfg   *genai.GenerateContentConfig
	lastInput string
}

func (f *fakeModels) GenerateContent(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.lastModel = model
	f.lastCfg = cfg
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.lastInput = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func testConfig() config.GeminiConfig {
	return config.GeminiConfig{
		APIKey:             "test-key",
		Model:              "gemini-test",
		InputPricePerMTok:  1.0,
		OutputPricePerMTok: 2.0,
	}
}

func textResponse(t *testing.T, texts ...string) *genai.GenerateContentResponse {
	t.Helper()
	parts := make([]*genai.Part, 0, len(texts))
	for _, text := range texts {
		parts = append(parts, &genai.Part{Text: text})
	}

	var usage genai.GenerateContentResponseUsageMetadata
	require.NoError(t, json.Unmarshal([]byte(`{"promptTokenCount":1000,"candidatesTokenCount":500}`), &usage))

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: parts},
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &usage,
	}
}

func TestNewProvider_Validation(t *testing.T) {
	_, err := NewProvider(context.Background(), logger.Discard(), config.GeminiConfig{Model: "m"})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = newProvider(nil, testConfig(), &fakeModels{})
	assert.Error(t, err)

	_, err = newProvider(logger.Discard(), config.GeminiConfig{APIKey: "k"}, &fakeModels{})
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)

	_, err = newProvider(logger.Discard(), testConfig(), nil)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestProvider_Generate(t *testing.T) {
	models := &fakeModels{resp: textResponse(t, "check the ", "drive belt")}
	p, err := newProvider(logger.Discard(), testConfig(), models)
	require.NoError(t, err)

	assert.Equal(t, "gemini", p.Name())
	assert.True(t, p.IsAvailable(context.Background()))

	out, err := p.Generate(context.Background(), "conveyor squeals", 256)
	require.NoError(t, err)
	assert.Equal(t, "check the drive belt", out.Text)
	assert.Equal(t, 1000, out.Usage.InputUnits)
	assert.Equal(t, 500, out.Usage.OutputUnits)
	assert.InDelta(t, 0.002, out.Usage.CostUSD, 1e-12)

	assert.Equal(t, "gemini-test", models.lastModel)
	assert.Equal(t, "conveyor squeals", models.lastInput)
	require.NotNil(t, models.lastCfg)
	assert.EqualValues(t, 256, models.lastCfg.MaxOutputTokens)
}

func TestProvider_GenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		models   *fakeModels
		input    string
		expected error
	}{
		{
			name:     "api error is transient",
			models:   &fakeModels{err: errors.New("503 unavailable")},
			input:    "x",
			expected: generation.ErrTransientFailure,
		},
		{
			name:     "nil response",
			models:   &fakeModels{},
			input:    "x",
			expected: generation.ErrInvalidResponse,
		},
		{
			name:     "no candidates",
			models:   &fakeModels{resp: &genai.GenerateContentResponse{}},
			input:    "x",
			expected: generation.ErrInvalidResponse,
		},
		{
			name: "safety block",
			models: &fakeModels{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			}},
			input:    "x",
			expected: generation.ErrContentBlocked,
		},
		{
			name: "empty text",
			models: &fakeModels{resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{Content: &genai.Content{}}},
			}},
			input:    "x",
			expected: generation.ErrInvalidResponse,
		},
		{
			name:     "empty input",
			models:   &fakeModels{},
			input:    "  ",
			expected: generation.ErrEmptyInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := newProvider(logger.Discard(), testConfig(), tt.models)
			require.NoError(t, err)

			_, err = p.Generate(context.Background(), tt.input, 64)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestUsageUnits_NilMetadata(t *testing.T) {
	in, out := usageUnits(nil)
	assert.Zero(t, in)
	assert.Zero(t, out)
}
