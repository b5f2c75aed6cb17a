// Package webhook delivers dead-letter payloads back to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vietddude/deadletter/internal/core/domain"
	"github.com/vietddude/deadletter/internal/recovery"
)

// ErrNoTokenEndpoint is returned for providers without a token endpoint.
var ErrNoTokenEndpoint = errors.New("no token endpoint configured")

// delivery is the stored webhook payload.
type delivery struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Redeliverer sends a webhook payload to its target URL again.
type Redeliverer struct {
	client *http.Client
}

// NewRedeliverer creates a redeliverer with the given request timeout.
func NewRedeliverer(timeout time.Duration) *Redeliverer {
	return &Redeliverer{client: newHTTPClient(timeout)}
}

// Redeliver posts the stored body to the stored URL. A payload without a
// target is a fault, any non-2xx answer a failed delivery.
func (r *Redeliverer) Redeliver(ctx context.Context, m *domain.Message) error {
	var d delivery
	if err := json.Unmarshal(m.Payload, &d); err != nil || d.URL == "" {
		return recovery.Fault(fmt.Errorf("%w: message %s has no webhook target", recovery.ErrInvalidPayload, m.ID))
	}
	method := strings.ToUpper(d.Method)
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, d.URL, bytes.NewReader(d.Body))
	if err != nil {
		return recovery.Fault(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Redelivery-Of", m.ID)
	if m.Metadata.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", m.Metadata.CorrelationID)
	}

	return do(r.client, req)
}

// Close releases idle connections.
func (r *Redeliverer) Close() {
	r.client.CloseIdleConnections()
}

// TokenRefresher asks a per-provider endpoint to refresh stored credentials.
type TokenRefresher struct {
	endpoints map[string]string
	client    *http.Client
}

// NewTokenRefresher creates a refresher for the given provider endpoints.
func NewTokenRefresher(endpoints map[string]string, timeout time.Duration) *TokenRefresher {
	eps := make(map[string]string, len(endpoints))
	for provider, url := range endpoints {
		eps[strings.ToLower(provider)] = url
	}
	return &TokenRefresher{endpoints: eps, client: newHTTPClient(timeout)}
}

// Refresh posts the message identity to the provider's token endpoint.
func (t *TokenRefresher) Refresh(ctx context.Context, m *domain.Message) error {
	endpoint, ok := t.endpoints[strings.ToLower(m.Provider)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoTokenEndpoint, m.Provider)
	}

	body, err := json.Marshal(map[string]string{
		"provider":       m.Provider,
		"message_id":     m.ID,
		"correlation_id": m.Metadata.CorrelationID,
	})
	if err != nil {
		return recovery.Fault(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return recovery.Fault(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	return do(t.client, req)
}

// Close releases idle connections.
func (t *TokenRefresher) Close() {
	t.client.CloseIdleConnections()
}

func do(client *http.Client, req *http.Request) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
}
