package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// LogSink writes events to a structured logger. It doubles as the audit
// trail when no external sink is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Deliver(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		"kind", e.Kind,
		"application_id", e.ApplicationID,
		"occurred_at", e.OccurredAt,
	}
	if e.From != "" || e.To != "" {
		attrs = append(attrs, "from", e.From, "to", e.To)
	}
	if e.ActorID != "" {
		attrs = append(attrs, "actor_id", e.ActorID, "actor_role", e.ActorRole)
	}
	if e.Notes != "" {
		attrs = append(attrs, "notes", e.Notes)
	}
	for k, v := range e.Data {
		attrs = append(attrs, k, v)
	}
	logger.InfoContext(ctx, "lifecycle_event", attrs...)
	return nil
}

// WebhookSink POSTs each event as JSON to a fixed URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Name() string { return "func" }

func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }
