// Package provider defines the port for remote reasoning providers.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
)

// Request is one completion call against a provider model.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider's answer to a Request.
type Completion struct {
	Content   string
	Model     string
	Usage     agent.Usage
	Truncated bool // stopped on the output token limit
}

// Provider is implemented by every reasoning provider variant.
type Provider interface {
	// Name returns the configured provider name (e.g. "anthropic", "local").
	Name() string
	// Complete performs one completion. Errors wrap domain.ErrProviderTimeout
	// or domain.ErrProviderRejected; caller cancellation returns ctx.Err().
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Health reports whether the provider endpoint is reachable and authorized.
	Health(ctx context.Context) error
}

// Options configures a provider instance.
type Options struct {
	Name       string
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Client returns the configured HTTP client or a default one.
func (o *Options) Client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

// StatusError is a non-2xx answer from a provider. It unwraps to
// domain.ErrProviderRejected.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, body)
}

func (e *StatusError) Unwrap() error { return domain.ErrProviderRejected }

// Retryable reports whether repeating the same request may succeed.
// Malformed, unauthorized and unknown-model requests never will.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return false
	}
	return true
}
