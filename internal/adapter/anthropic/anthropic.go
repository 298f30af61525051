// Package anthropic implements the provider port over the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Strob0t/argus/internal/adapter/providerhttp"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/port/provider"
)

const (
	// Kind is the registry name of this provider variant.
	Kind = "anthropic"

	apiVersion       = "2023-06-01"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultMaxTokens = 4096
)

func init() {
	provider.Register(Kind, func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

// Client talks to the Anthropic Messages API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new Anthropic client.
func New(opts provider.Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	name := opts.Name
	if name == "" {
		name = Kind
	}
	return &Client{name: name, baseURL: base, apiKey: opts.APIKey, httpClient: opts.Client()}
}

// Name returns the configured provider name.
func (c *Client) Name() string { return c.name }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one user message and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	body := messagesRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
		Messages:    []message{{Role: "user", Content: req.Prompt}},
	}

	var resp messagesResponse
	if err := providerhttp.Do(ctx, c.httpClient, c.name, http.MethodPost, c.baseURL+"/v1/messages", c.headers(), body, &resp); err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 && resp.StopReason != "max_tokens" {
		return nil, fmt.Errorf("%s: %w: response has no text content", c.name, domain.ErrProviderRejected)
	}

	return &provider.Completion{
		Content:   b.String(),
		Model:     resp.Model,
		Usage:     agent.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		Truncated: resp.StopReason == "max_tokens",
	}, nil
}

// Health lists models to verify reachability and credentials.
func (c *Client) Health(ctx context.Context) error {
	return providerhttp.Do(ctx, c.httpClient, c.name, http.MethodGet, c.baseURL+"/v1/models", c.headers(), nil, nil)
}

func (c *Client) headers() map[string]string {
	h := map[string]string{"anthropic-version": apiVersion}
	if c.apiKey != "" {
		h["x-api-key"] = c.apiKey
	}
	return h
}
