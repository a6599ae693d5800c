// ABOUTME: Agent lifecycle RPCs: register, heartbeat, deregister, list, status.
// ABOUTME: Heartbeat surfaces ErrNotRegistered so the worker can re-register.

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// AgentInfo mirrors one registered agent in broker replies.
type AgentInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Project      string    `json:"project"`
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// RegisterResult is the decoded reply of POST /agents/register.
type RegisterResult struct {
	OK          bool   `json:"ok"`
	AgentID     string `json:"agentId"`
	TotalAgents int    `json:"totalAgents"`
}

// StatusAgent is one agent entry in a broker status reply.
type StatusAgent struct {
	AgentInfo
	UnreadMessages int `json:"unreadMessages"`
}

// StatusResult is the decoded reply of GET /status.
type StatusResult struct {
	Broker           string        `json:"broker"`
	Uptime           string        `json:"uptime"`
	Agents           []StatusAgent `json:"agents"`
	TotalAgents      int           `json:"totalAgents"`
	TotalContextKeys int           `json:"totalContextKeys"`
}

// Health checks the broker liveness endpoint (GET /health). It only reports
// reachability; use Status for state.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("health: %w", err)
	}
	return nil
}

// Register announces this agent to the broker. Re-registering an existing id
// refreshes metadata and preserves the queue.
func (c *Client) Register(ctx context.Context, id, name, project, path string) (*RegisterResult, error) {
	body := map[string]string{
		"agentId": id,
		"name":    name,
		"project": project,
		"path":    path,
	}
	var out RegisterResult
	if err := c.do(ctx, http.MethodPost, "/agents/register", body, &out); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return &out, nil
}

// Heartbeat refreshes the agent's lastSeen on the broker. A 404 reply is
// returned as ErrNotRegistered.
func (c *Client) Heartbeat(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodPost, "/agents/"+url.PathEscape(id)+"/heartbeat", nil, nil)
	if statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("heartbeat: %w", ErrNotRegistered)
	}
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// Deregister removes the agent from the broker. Idempotent on the broker
// side; callers bound it with DeregisterTimeout during shutdown.
func (c *Client) Deregister(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("deregister: %w", err)
	}
	return nil
}

// ListAgents returns every agent registered on the broker.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	var out struct {
		Agents []AgentInfo `json:"agents"`
	}
	if err := c.do(ctx, http.MethodGet, "/agents", nil, &out); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return out.Agents, nil
}

// Status returns the broker status snapshot.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var out StatusResult
	if err := c.do(ctx, http.MethodGet, "/status", nil, &out); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return &out, nil
}
