// ABOUTME: Named tool operations exposed to the host coding agent.
// ABOUTME: Thin JSON-argument wrappers over the worker's broker client.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/skvil/piertotum/internal/worker"
)

// maxToolReadLimit caps how many messages a single read_messages call returns.
const maxToolReadLimit = 50

// Tool is one named operation available to the host.
type Tool struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry holds the tool set for one worker.
type Registry struct {
	worker *worker.Worker
	tools  map[string]Tool
}

// NewRegistry builds the full tool set over the given worker.
func NewRegistry(w *worker.Worker) *Registry {
	r := &Registry{
		worker: w,
		tools:  make(map[string]Tool),
	}
	r.registerAll()
	return r
}

// List returns every tool sorted by name.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs a named tool with raw JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return tool.Run(ctx, args)
}

func (r *Registry) register(t Tool) {
	r.tools[t.Name] = t
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func (r *Registry) registerAll() {
	w := r.worker

	r.register(Tool{
		Name:        "send_message",
		Description: "Send a message to another agent by id",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				To      string `json:"to"`
				Content string `json:"content"`
				Type    string `json:"type"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			id, err := w.Client().Send(ctx, w.ID(), in.To, in.Content, in.Type)
			if err != nil {
				return nil, err
			}
			return map[string]string{"messageId": id}, nil
		},
	})

	r.register(Tool{
		Name:        "broadcast",
		Description: "Broadcast a message to every other agent",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Content string `json:"content"`
				Type    string `json:"type"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			sent, err := w.Client().Broadcast(ctx, w.ID(), in.Content, in.Type)
			if err != nil {
				return nil, err
			}
			return map[string]int{"sentTo": sent}, nil
		},
	})

	r.register(Tool{
		Name:        "read_messages",
		Description: "Read this agent's queue without acknowledging",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Unread bool `json:"unread"`
				Limit  int  `json:"limit"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			if in.Limit <= 0 || in.Limit > maxToolReadLimit {
				in.Limit = maxToolReadLimit
			}
			return w.Client().Read(ctx, w.ID(), in.Unread, in.Limit)
		},
	})

	r.register(Tool{
		Name:        "ack_messages",
		Description: "Acknowledge processed message ids",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				IDs []string `json:"ids"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			acked, err := w.Client().Ack(ctx, w.ID(), in.IDs)
			if err != nil {
				return nil, err
			}
			return map[string]int{"acked": acked}, nil
		},
	})

	r.register(Tool{
		Name:        "clear_messages",
		Description: "Drop every message in this agent's queue",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			cleared, err := w.Client().ClearMessages(ctx, w.ID())
			if err != nil {
				return nil, err
			}
			return map[string]int{"cleared": cleared}, nil
		},
	})

	r.register(Tool{
		Name:        "set_context",
		Description: "Write a key in the shared context store",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			if err := w.Client().SetContext(ctx, in.Key, in.Value, w.ID()); err != nil {
				return nil, err
			}
			return map[string]string{"key": in.Key}, nil
		},
	})

	r.register(Tool{
		Name:        "get_context",
		Description: "Fetch one shared context key",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Key string `json:"key"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			return w.Client().GetContext(ctx, in.Key)
		},
	})

	r.register(Tool{
		Name:        "list_contexts",
		Description: "List every shared context key",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return w.Client().ListContexts(ctx)
		},
	})

	r.register(Tool{
		Name:        "delete_context",
		Description: "Remove a shared context key",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Key string `json:"key"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			if err := w.Client().DeleteContext(ctx, in.Key); err != nil {
				return nil, err
			}
			return map[string]bool{"ok": true}, nil
		},
	})

	r.register(Tool{
		Name:        "list_agents",
		Description: "List agents registered on the broker",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return w.Client().ListAgents(ctx)
		},
	})

	r.register(Tool{
		Name:        "broker_status",
		Description: "Broker status summary with unread counts",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			return w.Client().Status(ctx)
		},
	})

	r.register(Tool{
		Name:        "autonomous",
		Description: "Enable or disable the autonomous processing loop",
		Run: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct {
				Enabled bool `json:"enabled"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return nil, err
			}
			w.SetAutonomous(ctx, in.Enabled)
			enabled, reason := w.Autonomous()
			return map[string]any{"enabled": enabled, "disableReason": reason}, nil
		},
	})
}
