// Package gemini implements the provider port over the Gemini generateContent API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Strob0t/argus/internal/adapter/providerhttp"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/domain/agent"
	"github.com/Strob0t/argus/internal/port/provider"
)

// Kind is the registry name of this provider variant.
const Kind = "gemini"

const defaultBaseURL = "https://generativelanguage.googleapis.com"

func init() {
	provider.Register(Kind, func(opts provider.Options) (provider.Provider, error) {
		return New(opts), nil
	})
}

// Client talks to the Gemini API.
type Client struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new Gemini client.
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

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Complete sends one user turn and returns the first candidate's text.
func (c *Client) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	body := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(req.Model))
	var resp generateResponse
	if err := providerhttp.Do(ctx, c.httpClient, c.name, http.MethodPost, endpoint, c.headers(), body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("%s: %w: no candidates returned", c.name, domain.ErrProviderRejected)
	}

	cand := resp.Candidates[0]
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		b.WriteString(p.Text)
	}
	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}

	return &provider.Completion{
		Content: b.String(),
		Model:   model,
		Usage: agent.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
		Truncated: cand.FinishReason == "MAX_TOKENS",
	}, nil
}

// Health lists models to verify reachability and credentials.
func (c *Client) Health(ctx context.Context) error {
	return providerhttp.Do(ctx, c.httpClient, c.name, http.MethodGet, c.baseURL+"/v1beta/models", c.headers(), nil, nil)
}

func (c *Client) headers() map[string]string {
	if c.apiKey == "" {
		return nil
	}
	return map[string]string{"x-goog-api-key": c.apiKey}
}
