// ABOUTME: Push delivery providers keyed by platform
// ABOUTME: Unconfigured platforms fall back to a logging-only provider

package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// perEndpointTimeout bounds each push call.
const perEndpointTimeout = 2 * time.Second

// Provider delivers one notification payload to one endpoint.
type Provider interface {
	Name() string
	Send(ctx context.Context, endpoint string, payload []byte) error
}

// LoggerProvider logs deliveries instead of sending them. It is the
// default for unconfigured platforms and for local development.
type LoggerProvider struct {
	logger *slog.Logger
}

// NewLoggerProvider creates a logging-only provider.
func NewLoggerProvider(logger *slog.Logger) *LoggerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggerProvider{logger: logger.With("component", "push")}
}

// Name returns "logger".
func (p *LoggerProvider) Name() string { return "logger" }

// Send logs the delivery.
func (p *LoggerProvider) Send(ctx context.Context, endpoint string, payload []byte) error {
	p.logger.Info("push delivery (logger provider)", "endpoint", endpoint, "bytes", len(payload))
	return nil
}

// WebPushProvider POSTs the payload to the subscription endpoint, the
// delivery shape browsers expect from a web-push relay.
type WebPushProvider struct {
	client *http.Client
}

// NewWebPushProvider creates a web-push provider with a bounded client.
func NewWebPushProvider(client *http.Client) *WebPushProvider {
	if client == nil {
		client = &http.Client{Timeout: perEndpointTimeout}
	}
	return &WebPushProvider{client: client}
}

// Name returns "webpush".
func (p *WebPushProvider) Name() string { return "webpush" }

// Send POSTs the payload to the endpoint.
func (p *WebPushProvider) Send(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to push endpoint: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// Registry selects a provider per platform, falling back to the logger.
type Registry struct {
	providers map[string]Provider
	fallback  Provider
}

// NewRegistry creates a registry with the given fallback (a LoggerProvider
// when nil).
func NewRegistry(fallback Provider) *Registry {
	if fallback == nil {
		fallback = NewLoggerProvider(nil)
	}
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  fallback,
	}
}

// Register binds a platform to a provider.
func (r *Registry) Register(platform string, provider Provider) {
	r.providers[platform] = provider
}

// For returns the provider for a platform.
func (r *Registry) For(platform string) Provider {
	if p, ok := r.providers[platform]; ok {
		return p
	}
	return r.fallback
}
