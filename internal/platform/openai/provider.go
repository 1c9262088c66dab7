// Package openai provides a generation.Provider backed by the OpenAI chat
// completions API (or any compatible endpoint via BaseURL).
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/maintenance-orchestrator/internal/config"
	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
	"github.com/sashabaranov/go-openai"
)

// ProviderName identifies OpenAI in logs, metrics and cached artifacts.
const ProviderName = "openai"

// ErrMissingAPIKey is returned when the provider is configured without an API key.
var ErrMissingAPIKey = errors.New("openai API key cannot be empty")

// Provider implements generation.Provider using chat completions.
type Provider struct {
	client *openai.Client
	config config.OpenAIConfig
	logger *slog.Logger
}

var _ generation.Provider = (*Provider)(nil)

// NewProvider creates an OpenAI provider.
func NewProvider(logger *slog.Logger, cfg config.OpenAIConfig) (*Provider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %w", generation.ErrInvalidConfig, ErrMissingAPIKey)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	logger.Info("initializing OpenAI provider", "model", cfg.Model)
	return &Provider{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		logger: logger.With("component", "provider", "provider", ProviderName),
	}, nil
}

// Name implements generation.Provider.
func (p *Provider) Name() string {
	return ProviderName
}

// IsAvailable implements generation.Provider.
func (p *Provider) IsAvailable(ctx context.Context) bool {
	return p.client != nil
}

// Generate implements generation.Provider.
func (p *Provider) Generate(ctx context.Context, input string, maxOutput int) (generation.Output, error) {
	if strings.TrimSpace(input) == "" {
		return generation.Output{}, generation.ErrEmptyInput
	}

	req := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
	}
	if maxOutput > 0 {
		req.MaxCompletionTokens = maxOutput
	}

	p.logger.DebugContext(ctx, "calling OpenAI API",
		"model", p.config.Model,
		"input_length", len(input))

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return generation.Output{}, p.mapError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return generation.Output{}, fmt.Errorf("%w: no choices returned", generation.ErrInvalidResponse)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return generation.Output{}, fmt.Errorf("%w: content filtered", generation.ErrContentBlocked)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return generation.Output{}, fmt.Errorf("%w: empty message content", generation.ErrInvalidResponse)
	}

	return generation.Output{
		Text: choice.Message.Content,
		Usage: generation.Usage{
			InputUnits:  resp.Usage.PromptTokens,
			OutputUnits: resp.Usage.CompletionTokens,
			CostUSD: generation.CostUSD(resp.Usage.PromptTokens, resp.Usage.CompletionTokens,
				p.config.InputPricePerMTok, p.config.OutputPricePerMTok),
		},
	}, nil
}

// mapError sorts API failures into the generation taxonomy. Rate limits and
// server errors are transient; other client errors are invalid requests.
func (p *Provider) mapError(ctx context.Context, err error) error {
	p.logger.ErrorContext(ctx, "OpenAI API call failed", "error", err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctxErr)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return fmt.Errorf("%w: status %d: %s", generation.ErrTransientFailure, status, apiErr.Message)
		}
		return fmt.Errorf("%w: status %d: %s", generation.ErrInvalidResponse, status, apiErr.Message)
	}

	return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
}
