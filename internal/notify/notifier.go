package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notifier delivers incident summaries to a response team channel. Delivery
// is fire-and-forget: failures are logged by callers and never block or fail
// an incident transition.
type Notifier interface {
	Notify(ctx context.Context, tier, summary string) error
}

// Config configures the HTTP notifier.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPNotifier posts notifications to a webhook endpoint.
type HTTPNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPNotifier creates an HTTP notifier.
func NewHTTPNotifier(cfg Config) (*HTTPNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Notify posts one notification.
func (n *HTTPNotifier) Notify(ctx context.Context, tier, summary string) error {
	body, err := json.Marshal(map[string]string{
		"tier":    tier,
		"summary": summary,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify request failed with status %s", resp.Status)
	}
	return nil
}

// NopNotifier discards notifications; used when no endpoint is configured.
type NopNotifier struct{}

// Notify does nothing.
func (NopNotifier) Notify(ctx context.Context, tier, summary string) error {
	return nil
}
