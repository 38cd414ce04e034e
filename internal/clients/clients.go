// Package clients holds the plumbing shared by the outbound API clients:
// circuit breaking, error classification and JSON request helpers.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned by every client whose credentials are missing.
var ErrNotConfigured = errors.New("client not configured")

// maxBody bounds how much of an upstream response is read.
const maxBody = 8 << 20

// APIError is a non-2xx upstream response.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: upstream returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err is a transient upstream or network failure.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Transport errors and deadline hits.
	return true
}

// NewBreaker returns a circuit breaker that opens after five consecutive
// upstream failures and probes again after 30s. Caller errors (4xx other
// than 429) never count against the upstream.
func NewBreaker(name string, logger *zap.SugaredLogger) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var apiErr *APIError
			return errors.As(err, &apiErr) && !apiErr.Temporary()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("Circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Do sends req through cb and returns the response body. Non-2xx answers
// become *APIError.
func Do(cb *gobreaker.CircuitBreaker[[]byte], httpClient *http.Client, service string, req *http.Request) ([]byte, error) {
	return cb.Execute(func() ([]byte, error) {
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: request failed: %w", service, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
		if err != nil {
			return nil, fmt.Errorf("%s: read response: %w", service, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			snippet := string(body)
			if len(snippet) > 512 {
				snippet = snippet[:512]
			}
			return nil, &APIError{Service: service, StatusCode: resp.StatusCode, Body: snippet}
		}
		return body, nil
	})
}

// NewJSONRequest builds a request with a JSON-encoded body (or none when
// payload is nil).
func NewJSONRequest(ctx context.Context, method, url string, payload interface{}) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
