// ABOUTME: Message RPCs: send, broadcast, read, ack, and clear.
// ABOUTME: Read never acknowledges; Ack is the explicit read transition.

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Message mirrors one queued message in broker replies.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// ReadResult is the decoded reply of GET /messages/{id}.
type ReadResult struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"hasMore"`
}

// Send delivers content to a single recipient and returns the broker-generated
// message id.
func (c *Client) Send(ctx context.Context, from, to, content, msgType string) (string, error) {
	body := map[string]string{
		"from":    from,
		"to":      to,
		"content": content,
		"type":    msgType,
	}
	var out struct {
		MessageID string `json:"messageId"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/send", body, &out); err != nil {
		return "", fmt.Errorf("send: %w", err)
	}
	return out.MessageID, nil
}

// Broadcast delivers content to every registered agent except the sender and
// returns the recipient count.
func (c *Client) Broadcast(ctx context.Context, from, content, msgType string) (int, error) {
	body := map[string]string{
		"from":    from,
		"content": content,
		"type":    msgType,
	}
	var out struct {
		SentTo int `json:"sentTo"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/broadcast", body, &out); err != nil {
		return 0, fmt.Errorf("broadcast: %w", err)
	}
	return out.SentTo, nil
}

// Read returns a snapshot of the agent's queue without acknowledging anything.
func (c *Client) Read(ctx context.Context, id string, unreadOnly bool, limit int) (*ReadResult, error) {
	query := url.Values{}
	if unreadOnly {
		query.Set("unread", "true")
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/messages/" + url.PathEscape(id)
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out ReadResult
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return &out, nil
}

// Ack marks the given message ids as read and returns the number of actual
// transitions.
func (c *Client) Ack(ctx context.Context, id string, messageIDs []string) (int, error) {
	body := map[string][]string{"ids": messageIDs}
	var out struct {
		Acked int `json:"acked"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(id)+"/ack", body, &out); err != nil {
		return 0, fmt.Errorf("ack: %w", err)
	}
	return out.Acked, nil
}

// ClearMessages truncates the agent's queue and returns how many messages
// were removed.
func (c *Client) ClearMessages(ctx context.Context, id string) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, &out); err != nil {
		return 0, fmt.Errorf("clear messages: %w", err)
	}
	return out.Cleared, nil
}
