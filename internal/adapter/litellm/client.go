// Package litellm implements the provider port over the OpenAI-compatible
// chat completions API. It serves OpenAI itself, LiteLLM proxies and local
// runtimes such as Ollama.
package litellm

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

// Kind is the registry name of this provider variant.
const Kind = "litellm"

const defaultBaseURL = "http://localhost:4000"

func init() {
	provider.Register(Kind, func(opts provider.Options) (provider.Provider, error) {
		return NewClient(opts), nil
	})
}

// Client talks to an OpenAI-compatible endpoint.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new chat completions client.
func NewClient(opts provider.Options) *Client {
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

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends a system + user message pair and returns the first choice.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	msgs := make([]chatMessage, 0, 2)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var resp chatResponse
	if err := providerhttp.Do(ctx, c.httpClient, c.name, http.MethodPost, c.baseURL+"/chat/completions", c.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: %w: no choices returned", c.name, domain.ErrProviderRejected)
	}

	choice := resp.Choices[0]
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &provider.Completion{
		Content:   choice.Message.Content,
		Model:     model,
		Usage:     agent.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
		Truncated: choice.FinishReason == "length",
	}, nil
}

// Health lists models to verify reachability and credentials.
func (c *Client) Health(ctx context.Context) error {
	return providerhttp.Do(ctx, c.httpClient, c.name, http.MethodGet, c.baseURL+"/models", c.headers(), nil, nil)
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.apiKey}
}
