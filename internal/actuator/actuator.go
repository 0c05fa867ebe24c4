package actuator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable marks an actuator that could not be reached. The engine
// records the containment action as failed and proceeds; manual fallback
// steps remain on the incident.
var ErrUnavailable = errors.New("actuator unavailable")

// Requester hands containment-action requests to the external actuator. A
// successful request is an acknowledgement, not an execution guarantee; the
// actuator reports the outcome back through the engine later.
type Requester interface {
	RequestAction(ctx context.Context, incidentID, action string) error
}

// Config configures the HTTP actuator client.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPRequester posts action requests to the actuator endpoint.
type HTTPRequester struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPRequester creates an HTTP actuator client.
func NewHTTPRequester(cfg Config) (*HTTPRequester, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("actuator URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPRequester{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// RequestAction posts one action request.
func (r *HTTPRequester) RequestAction(ctx context.Context, incidentID, action string) error {
	body, err := json.Marshal(map[string]string{
		"incident_id": incidentID,
		"action":      action,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal action request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %s", ErrUnavailable, resp.Status)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("action request rejected with status %s", resp.Status)
	}
	return nil
}

// NopRequester acknowledges every request without delivering it; used when
// no actuator is configured.
type NopRequester struct{}

// RequestAction does nothing.
func (NopRequester) RequestAction(ctx context.Context, incidentID, action string) error {
	return nil
}
