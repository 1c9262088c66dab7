package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"google.golang.org/genai"
)

// ProviderName identifies Gemini in logs, metrics and cached artifacts.
const ProviderName = "gemini"

// contentGenerator is the subset of genai.Models used by the provider.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Provider implements generation.Provider using the Gemini API.
type Provider struct {
	// logger is used for structured logging
	logger *slog.Logger

	// config contains Gemini-specific configuration
	config config.GeminiConfig

	// models makes the API calls
	models contentGenerator
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates a Gemini provider with a real genai client.
func NewProvider(ctx context.Context, logger *slog.Logger, cfg config.GeminiConfig) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %w", generation.ErrInvalidConfig, ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newProvider(logger, cfg, client.Models)
}

func newProvider(logger *slog.Logger, cfg config.GeminiConfig, models contentGenerator) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if models == nil {
		return nil, fmt.Errorf("%w: gemini client cannot be nil", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	return &Provider{
		logger: logger.With("component", "provider", "provider", ProviderName),
		config: cfg,
		models: models,
	}, nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// IsAvailable implements generation.Provider. A configured client is available;
// outages surface as transient errors from Generate.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.models != nil && p.config.APIKey != ""
}

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, input string, maxOutput int) (generation.Output, error) {
	if strings.TrimSpace(input) == "" {
		return generation.Output{}, generation.ErrEmptyInput
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: input}},
	}}
	cfg := &genai.GenerateContentConfig{}
	if maxOutput > 0 {
		cfg.MaxOutputTokens = int32(maxOutput)
	}

	p.logger.DebugContext(ctx, "calling Gemini API",
		"model", p.config.Model,
		"input_length", len(input))

	resp, err := p.models.GenerateContent(ctx, p.config.Model, contents, cfg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return generation.Output{}, fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctxErr)
		}
		p.logger.ErrorContext(ctx, "Gemini API call error", "error", err)
		// Assume transient by default; the failover manager moves on either way.
		return generation.Output{}, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	text, err := extractText(resp)
	if err != nil {
		return generation.Output{}, err
	}

	inputUnits, outputUnits := usageUnits(resp.UsageMetadata)
	return generation.Output{
		Text: text,
		Usage: generation.Usage{
			InputUnits:  inputUnits,
			OutputUnits: outputUnits,
			CostUSD: generation.CostUSD(inputUnits, outputUnits,
				p.config.InputPricePerMTok, p.config.OutputPricePerMTok),
		},
	}, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	switch {
	case resp == nil:
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	case len(resp.Candidates) == 0 || resp.Candidates[0] == nil:
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	case resp.Candidates[0].Content == nil:
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}
	return b.String(), nil
}

// usageUnits reads token counts through the metadata's JSON form, which is
// stable across client versions.
func usageUnits(meta *genai.GenerateContentResponseUsageMetadata) (int, int) {
	if meta == nil {
		return 0, 0
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return 0, 0
	}
	var counts struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	}
	if err := json.Unmarshal(raw, &counts); err != nil {
		return 0, 0
	}
	return counts.PromptTokenCount, counts.CandidatesTokenCount
}
