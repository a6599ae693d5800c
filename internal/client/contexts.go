// ABOUTME: Shared context store RPCs: set, get, list, and delete keys.
// ABOUTME: Values are opaque strings; callers serialize structured data themselves.

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ContextEntry mirrors one context key in broker replies.
type ContextEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	SetBy     string    `json:"setBy"`
	SetByName string    `json:"setByName"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextSummary mirrors one listing entry of GET /context.
type ContextSummary struct {
	Key       string    `json:"key"`
	SetBy     string    `json:"setBy"`
	Timestamp time.Time `json:"timestamp"`
}

// SetContext writes a key in the shared store.
func (c *Client) SetContext(ctx context.Context, key, value, setBy string) error {
	body := map[string]string{
		"key":   key,
		"value": value,
		"setBy": setBy,
	}
	if err := c.do(ctx, http.MethodPost, "/context", body, nil); err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	return nil
}

// GetContext fetches one key.
func (c *Client) GetContext(ctx context.Context, key string) (*ContextEntry, error) {
	var out ContextEntry
	if err := c.do(ctx, http.MethodGet, "/context/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return &out, nil
}

// ListContexts returns a summary of every key.
func (c *Client) ListContexts(ctx context.Context) ([]ContextSummary, error) {
	var out struct {
		Contexts []ContextSummary `json:"contexts"`
	}
	if err := c.do(ctx, http.MethodGet, "/context", nil, &out); err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	return out.Contexts, nil
}

// DeleteContext removes a key. Idempotent.
func (c *Client) DeleteContext(ctx context.Context, key string) error {
	if err := c.do(ctx, http.MethodDelete, "/context/"+url.PathEscape(key), nil, nil); err != nil {
		return fmt.Errorf("delete context: %w", err)
	}
	return nil
}
