// Package providerhttp holds the JSON-over-HTTP plumbing shared by the
// provider adapters: request encoding, status mapping and error kinds.
package providerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/argus/internal/domain"
	"github.com/Strob0t/argus/internal/port/provider"
)

// maxBody bounds how much of a response body is read.
const maxBody = 8 << 20

// Do sends a request with an optional JSON body and decodes a 2xx JSON answer
// into out (when non-nil). Non-2xx answers become *provider.StatusError;
// transport failures are classified into provider timeout or rejection.
func Do(ctx context.Context, client *http.Client, name, method, url string, headers map[string]string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s marshal request: %w", name, err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s create request: %w", name, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Classify(ctx, name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Classify(ctx, name, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.StatusError{
			Provider:   name,
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode response: %w: %w", name, domain.ErrProviderRejected, err)
	}
	return nil
}

// Classify maps a transport error onto the error kinds. Caller cancellation
// is returned as is so it never counts as a provider failure.
func Classify(ctx context.Context, name string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s request: %w", name, context.Canceled)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s request: %w: %w", name, domain.ErrProviderTimeout, err)
	}
	return fmt.Errorf("%s request: %w: %w", name, domain.ErrProviderRejected, err)
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
