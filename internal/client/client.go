// ABOUTME: Core HTTP plumbing for the broker client: request helper and errors.
// ABOUTME: Normalizes transport, status, and decode failures into error values.

package client

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
)

// FetchTimeout bounds every broker RPC issued by the worker.
const FetchTimeout = 5 * time.Second

// DeregisterTimeout bounds the best-effort deregister during shutdown.
const DeregisterTimeout = 3 * time.Second

// ErrNotRegistered indicates the broker no longer knows this agent. The
// worker reacts by re-registering; this is the broker-restart recovery
// signal.
var ErrNotRegistered = errors.New("agent not registered")

// ErrUnavailable indicates the broker could not be reached in time.
var ErrUnavailable = errors.New("broker unavailable")

// APIError is a structured error decoded from a broker {error: ...} reply.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client is a synchronous HTTP client for the broker API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the broker at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: FetchTimeout,
		},
	}
}

// do issues one request and decodes the JSON reply into out (when non-nil).
// Timeouts and connection failures come back wrapped in ErrUnavailable;
// non-2xx statuses come back as *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
		var decoded struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &decoded) == nil && decoded.Error != "" {
			apiErr.Message = decoded.Error
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

// statusCode extracts the HTTP status from an error returned by do, or 0.
func statusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
