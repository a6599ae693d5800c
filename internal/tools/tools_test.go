// ABOUTME: Tests for the tool registry over a worker and real broker.
// ABOUTME: Verifies dispatch, argument decoding, and per-tool results.

package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skvil/piertotum/internal/broker"
	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/config"
	"github.com/skvil/piertotum/internal/sampling"
	"github.com/skvil/piertotum/internal/worker"
)

func newRegistry(t *testing.T) (*Registry, *client.Client) {
	t.Helper()

	cfg := config.Default()
	cfg.Console.Disabled = true
	b := broker.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	c := client.New(srv.URL)
	ctx := context.Background()
	_, err := c.Register(ctx, "me", "Me", "", "")
	require.NoError(t, err)
	_, err = c.Register(ctx, "peer", "Peer", "", "")
	require.NoError(t, err)

	wcfg := &config.WorkerConfig{
		BrokerURL:      srv.URL,
		AgentID:        "me",
		AgentName:      "Me",
		PollIntervalMS: 10000,
	}
	w := worker.New(wcfg, c, sampling.NewAnthropicSampler(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewRegistry(w), c
}

func TestUnknownTool(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Execute(context.Background(), "nope", nil)
	assert.Error(t, err)
}

func TestListIsSortedAndComplete(t *testing.T) {
	r, _ := newRegistry(t)
	list := r.List()
	require.NotEmpty(t, list)

	names := make([]string, len(list))
	for i, tool := range list {
		names[i] = tool.Name
	}
	assert.Contains(t, names, "send_message")
	assert.Contains(t, names, "autonomous")
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestSendAndReadTools(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "send_message", json.RawMessage(`{"to":"peer","content":"hi","type":"text"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, out.(map[string]string)["messageId"])

	res, err := c.Read(ctx, "peer", true, 10)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "me", res.Messages[0].From)

	// read_messages reads our own queue.
	_, err = c.Send(ctx, "peer", "me", "pong", "text")
	require.NoError(t, err)

	out, err = r.Execute(ctx, "read_messages", json.RawMessage(`{"unread":true}`))
	require.NoError(t, err)
	readRes := out.(*client.ReadResult)
	require.Len(t, readRes.Messages, 1)
	assert.Equal(t, "pong", readRes.Messages[0].Content)
}

func TestAckTool(t *testing.T) {
	r, c := newRegistry(t)
	ctx := context.Background()

	id, err := c.Send(ctx, "peer", "me", "task", "text")
	require.NoError(t, err)

	out, err := r.Execute(ctx, "ack_messages", json.RawMessage(`{"ids":["`+id+`"]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, out.(map[string]int)["acked"])
}

func TestContextTools(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	_, err := r.Execute(ctx, "set_context", json.RawMessage(`{"key":"k","value":"v"}`))
	require.NoError(t, err)

	out, err := r.Execute(ctx, "get_context", json.RawMessage(`{"key":"k"}`))
	require.NoError(t, err)
	entry := out.(*client.ContextEntry)
	assert.Equal(t, "v", entry.Value)
	assert.Equal(t, "me", entry.SetBy)

	out, err = r.Execute(ctx, "list_contexts", nil)
	require.NoError(t, err)
	assert.Len(t, out.([]client.ContextSummary), 1)

	_, err = r.Execute(ctx, "delete_context", json.RawMessage(`{"key":"k"}`))
	require.NoError(t, err)
}

func TestAutonomousTool(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "autonomous", json.RawMessage(`{"enabled":true}`))
	require.NoError(t, err)
	state := out.(map[string]any)
	assert.Equal(t, true, state["enabled"])

	out, err = r.Execute(ctx, "autonomous", json.RawMessage(`{"enabled":false}`))
	require.NoError(t, err)
	state = out.(map[string]any)
	assert.Equal(t, false, state["enabled"])
}

func TestBadToolArguments(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Execute(context.Background(), "send_message", json.RawMessage(`{`))
	assert.Error(t, err)
}
