package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/retry"
)

// WebhookSink POSTs each message as JSON to a single URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

var _ Sink = (*WebhookSink)(nil)

// webhookEnvelope is the request body. Payloads that are valid JSON are
// embedded as-is; anything else is sent as a string.
type webhookEnvelope struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
	SentAt      time.Time       `json:"sent_at"`
}

// NewWebhookSink creates a sink posting to url. A zero timeout means 10 seconds.
func NewWebhookSink(url string, timeout time.Duration) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("webhook url cannot be empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Send implements Sink. 4xx responses other than 408 and 429 are permanent.
func (s *WebhookSink) Send(ctx context.Context, destination string, payload []byte) error {
	body := payload
	if !json.Valid(body) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("encode payload: %w", err))
		}
		body = quoted
	}

	data, err := json.Marshal(webhookEnvelope{
		Destination: destination,
		Payload:     body,
		SentAt:      time.Now().UTC(),
	})
	if err != nil {
		return retry.Permanent(fmt.Errorf("encode webhook body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(fmt.Errorf("webhook rejected message with status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

// LogSink writes each message to the structured log. It is used when no
// webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "log_sink")}
}

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, destination string, payload []byte) error {
	s.logger.InfoContext(ctx, "notification",
		"destination", destination,
		"payload_size", len(payload),
		"payload", string(payload))
	return nil
}
