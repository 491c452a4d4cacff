// Package export forwards completed exchanges to an external HTTP
// endpoint, so other systems can consume the capture stream without
// attaching to the pipeline directly.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/llmtap/internal/pipeline"
	"github.com/tjfontaine/llmtap/internal/router"
)

const defaultTimeout = 10 * time.Second

// exchangePayload is the JSON body delivered to the webhook for each
// completed exchange.
type exchangePayload struct {
	RequestID string            `json:"request_id"`
	Provider  string            `json:"provider"`
	Message   *pipeline.Message `json:"message"`
}

// WebhookConfig configures a webhook exporter.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
	Headers map[string]string
}

// Webhook is a pipeline subscriber that POSTs every completed exchange to
// a configured endpoint. Delivery failures are retried and then logged;
// they never fail the pipeline. Wrap it in router.NewQueued so a slow
// endpoint cannot stall fan-out.
type Webhook struct {
	logger  *slog.Logger
	url     string
	retries int
	headers map[string]string
	client  *http.Client
}

var _ router.Subscriber = (*Webhook)(nil)

// NewWebhook creates a webhook exporter.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		logger:  logger,
		url:     cfg.URL,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (w *Webhook) Name() string { return "webhook-export" }

// HandleEvent forwards ResponseComplete events; everything else is
// ignored.
func (w *Webhook) HandleEvent(ev pipeline.Event) error {
	complete, ok := ev.(pipeline.ResponseComplete)
	if !ok || complete.Message == nil {
		return nil
	}

	meta := ev.Meta()
	payload := exchangePayload{
		RequestID: meta.RequestID,
		Provider:  string(meta.Provider),
		Message:   complete.Message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal exchange payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if lastErr = w.deliver(body); lastErr == nil {
			return nil
		}
	}

	// The router logs handler errors at its fan-out site; logging here
	// too would duplicate the line.
	return fmt.Errorf("export exchange %s after %d attempts: %w", meta.RequestID, w.retries+1, lastErr)
}

func (w *Webhook) deliver(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
