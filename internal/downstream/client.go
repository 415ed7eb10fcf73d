// Package downstream is the HTTP client for the comment scanning service
// that worker executors call.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxResponseBytes = 1 << 20

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("downstream: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether err is worth retrying: transport failures and
// 5xx responses are, 4xx responses are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError || statusErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// Credentials are sent as HTTP basic auth.
type Credentials struct {
	Username string
	Password string
}

// Client talks to the scanning service at a base URL.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client. A non-positive timeout uses 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Scan posts a scan request for the account identified by creds.Username and
// returns the raw response body.
func (c *Client) Scan(ctx context.Context, creds Credentials, payload any) (json.RawMessage, error) {
	endpoint, err := url.JoinPath(c.baseURL, "scan", creds.Username)
	if err != nil {
		return nil, fmt.Errorf("downstream: build scan url: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("downstream: marshal scan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("downstream: create scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(creds.Username, creds.Password)

	return c.do(req)
}

// Ping issues a GET against an arbitrary endpoint.
func (c *Client) Ping(ctx context.Context, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("downstream: create ping request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downstream: %s request failed: %w", req.Method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("downstream: read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		return quoted, nil
	}
	return body, nil
}
