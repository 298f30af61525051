package gemini_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/argus/internal/adapter/gemini"
	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/port/provider"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-pro:generateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "g-key" {
			t.Fatalf("unexpected api key header: %q", r.Header.Get("x-goog-api-key"))
		}

		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			GenerationConfig struct {
				MaxOutputTokens int `json:"maxOutputTokens"`
			} `json:"generationConfig"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Contents[0].Parts[0].Text != "Review this" || body.SystemInstruction == nil {
			t.Fatalf("unexpected body %+v", body)
		}
		if body.GenerationConfig.MaxOutputTokens != 256 {
			t.Fatalf("expected 256 max tokens, got %d", body.GenerationConfig.MaxOutputTokens)
		}

		_, _ = w.Write([]byte(`{
			"candidates": [{"content":{"parts":[{"text":"DECISION: approve"}]},"finishReason":"STOP"}],
			"usageMetadata": {"promptTokenCount": 5, "candidatesTokenCount": 3}
		}`))
	}))
	defer srv.Close()

	c := gemini.New(provider.Options{BaseURL: srv.URL, APIKey: "g-key"})
	got, err := c.Complete(context.Background(), provider.Request{
		Model: "gemini-pro", System: "You review code.", Prompt: "Review this", MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Content != "DECISION: approve" || got.Model != "gemini-pro" {
		t.Fatalf("unexpected completion %+v", got)
	}
	if got.Usage.Total() != 8 {
		t.Fatalf("expected 8 tokens, got %d", got.Usage.Total())
	}
}

func TestCompleteNoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	_, err := gemini.New(provider.Options{BaseURL: srv.URL}).Complete(context.Background(), provider.Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, domain.ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
}

func TestCompleteTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [{"content":{"parts":[{"text":"cut"}]},"finishReason":"MAX_TOKENS"}]}`))
	}))
	defer srv.Close()

	got, err := gemini.New(provider.Options{BaseURL: srv.URL}).Complete(context.Background(), provider.Request{Model: "m", Prompt: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Truncated {
		t.Fatal("expected truncated completion")
	}
}

func TestHealthServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := gemini.New(provider.Options{BaseURL: srv.URL}).Health(context.Background())
	var se *provider.StatusError
	if !errors.As(err, &se) || !se.Retryable() {
		t.Fatalf("expected retryable status error, got %v", err)
	}
}
