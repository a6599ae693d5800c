// ABOUTME: Tests for the broker RPC client against a real broker handler.
// ABOUTME: Also covers error normalization: timeouts, 404s, and bad JSON.

package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skvil/piertotum/internal/broker"
	"github.com/skvil/piertotum/internal/config"
)

// newBrokerServer spins up a real broker HTTP surface for wire-compat tests.
func newBrokerServer(t *testing.T) *Client {
	t.Helper()

	cfg := config.Default()
	cfg.Console.Disabled = true
	b := broker.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestRegisterHeartbeatDeregister(t *testing.T) {
	c := newBrokerServer(t)
	ctx := context.Background()

	res, err := c.Register(ctx, "w1", "Worker One", "proj", "/src")
	require.NoError(t, err)
	assert.Equal(t, 1, res.TotalAgents)

	require.NoError(t, c.Heartbeat(ctx, "w1"))

	require.NoError(t, c.Deregister(ctx, "w1"))
	assert.ErrorIs(t, c.Heartbeat(ctx, "w1"), ErrNotRegistered)
}

func TestBrokerRestartRecovery(t *testing.T) {
	// Scenario: worker registered, broker loses state, heartbeat fails with
	// ErrNotRegistered, worker re-registers, sends work again.
	cfg := config.Default()
	cfg.Console.Disabled = true
	b := broker.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.Register(ctx, "w", "W", "", "")
	require.NoError(t, err)
	require.NoError(t, c.Heartbeat(ctx, "w"))

	// Simulate broker restart by clearing its state.
	b.Engine().Deregister("w")

	err = c.Heartbeat(ctx, "w")
	assert.ErrorIs(t, err, ErrNotRegistered)

	_, err = c.Register(ctx, "w", "W", "", "")
	require.NoError(t, err)

	_, err = c.Send(ctx, "broker", "w", "welcome back", "text")
	require.NoError(t, err)

	res, err := c.Read(ctx, "w", true, 10)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "welcome back", res.Messages[0].Content)
}

func TestSendReadAck(t *testing.T) {
	c := newBrokerServer(t)
	ctx := context.Background()

	_, err := c.Register(ctx, "a", "A", "", "")
	require.NoError(t, err)
	_, err = c.Register(ctx, "b", "B", "", "")
	require.NoError(t, err)

	id, err := c.Send(ctx, "a", "b", "hello", "code")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	res, err := c.Read(ctx, "b", true, 10)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello", res.Messages[0].Content)
	assert.Equal(t, "code", res.Messages[0].Type)
	assert.Equal(t, "A", res.Messages[0].FromName)
	assert.False(t, res.Messages[0].Read)

	acked, err := c.Ack(ctx, "b", []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, acked)

	res, err = c.Read(ctx, "b", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestBroadcastAndClear(t *testing.T) {
	c := newBrokerServer(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Register(ctx, id, id, "", "")
		require.NoError(t, err)
	}

	sent, err := c.Broadcast(ctx, "a", "hi", "text")
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	cleared, err := c.ClearMessages(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}

func TestContextRoundTrip(t *testing.T) {
	c := newBrokerServer(t)
	ctx := context.Background()

	_, err := c.Register(ctx, "a", "Agent A", "", "")
	require.NoError(t, err)

	require.NoError(t, c.SetContext(ctx, "k", "v1", "a"))
	require.NoError(t, c.SetContext(ctx, "k", "v2", "a"))

	entry, err := c.GetContext(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", entry.Value)
	assert.Equal(t, "Agent A", entry.SetByName)

	list, err := c.ListContexts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.DeleteContext(ctx, "k"))
	_, err = c.GetContext(ctx, "k")
	assert.Error(t, err)
}

func TestStatusRPC(t *testing.T) {
	c := newBrokerServer(t)
	ctx := context.Background()

	_, err := c.Register(ctx, "a", "A", "", "")
	require.NoError(t, err)

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "skvil-piertotum", st.Broker)
	assert.Equal(t, 1, st.TotalAgents)
}

func TestHealth(t *testing.T) {
	c := newBrokerServer(t)
	assert.NoError(t, c.Health(context.Background()))

	down := New("http://127.0.0.1:1")
	assert.ErrorIs(t, down.Health(context.Background()), ErrUnavailable)
}

func TestUnreachableBrokerNormalized(t *testing.T) {
	c := New("http://127.0.0.1:1") // nothing listens here
	ctx := context.Background()

	_, err := c.Register(ctx, "w", "W", "", "")
	assert.ErrorIs(t, err, ErrUnavailable)

	err = c.Heartbeat(ctx, "w")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrNotRegistered)
}

func TestNonJSONReplyNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.Register(context.Background(), "w", "W", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding response")
}

func TestErrorBodySurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"quota exceeded: agent limit reached (100)"}`))
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL)
	_, err := c.Register(context.Background(), "w", "W", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent limit reached")
}
