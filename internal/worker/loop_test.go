// ABOUTME: Tests for the autonomous processing pass against a real broker.
// ABOUTME: Covers poison messages, capability loss, RESET, and single-flight.

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skvil/piertotum/internal/broker"
	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/config"
)

// fakeSampler is a scriptable Sampler for loop tests.
type fakeSampler struct {
	mu        sync.Mutex
	supported bool
	reply     string
	err       error
	delay     time.Duration
	calls     int
}

func (f *fakeSampler) Supported() bool {
	return f.supported
}

func (f *fakeSampler) Sample(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeSampler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type loopFixture struct {
	broker  *broker.Broker
	client  *client.Client
	sampler *fakeSampler
	worker  *Worker
}

// newLoopFixture stands up a real broker, registers the worker agent and a
// peer sender, and returns a worker with autonomous mode armed.
func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()

	cfg := config.Default()
	cfg.Console.Disabled = true
	b := broker.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(srv.Close)

	c := client.New(srv.URL)
	ctx := context.Background()

	wcfg := &config.WorkerConfig{
		BrokerURL:      srv.URL,
		AgentID:        "worker-1",
		AgentName:      "SP-worker-1",
		ProjectName:    "test",
		PollIntervalMS: 10000,
	}

	_, err := c.Register(ctx, wcfg.AgentID, wcfg.AgentName, wcfg.ProjectName, "")
	require.NoError(t, err)
	_, err = c.Register(ctx, "peer", "Peer", "test", "")
	require.NoError(t, err)

	sampler := &fakeSampler{supported: true, reply: "done"}
	w := New(wcfg, c, sampler, slog.New(slog.NewTextHandler(io.Discard, nil)))
	w.enabled = true

	return &loopFixture{broker: b, client: c, sampler: sampler, worker: w}
}

func (f *loopFixture) sendToWorker(t *testing.T, content, msgType string) string {
	t.Helper()
	id, err := f.client.Send(context.Background(), "peer", "worker-1", content, msgType)
	require.NoError(t, err)
	return id
}

func (f *loopFixture) peerInbox(t *testing.T) []client.Message {
	t.Helper()
	res, err := f.client.Read(context.Background(), "peer", true, 50)
	require.NoError(t, err)
	return res.Messages
}

func (f *loopFixture) workerStatus(t *testing.T) string {
	t.Helper()
	entry, err := f.client.GetContext(context.Background(), "worker-1-status")
	require.NoError(t, err)
	return entry.Value
}

func TestProcessOnceRepliesAndAcks(t *testing.T) {
	f := newLoopFixture(t)
	f.sendToWorker(t, "please summarize the build failure", "text")

	f.worker.processOnce(context.Background())

	inbox := f.peerInbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "done", inbox[0].Content)
	assert.Equal(t, "worker-1", inbox[0].From)
	assert.Equal(t, "SP-worker-1", inbox[0].FromName)

	// The processed message was ACKed.
	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	assert.Equal(t, "idle", f.workerStatus(t))
}

func TestPoisonMessageAckedWithErrorReply(t *testing.T) {
	f := newLoopFixture(t)
	f.sampler.err = errors.New("model blew up")
	f.sendToWorker(t, "haunted payload", "text")

	f.worker.processOnce(context.Background())

	inbox := f.peerInbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "ERROR: model blew up", inbox[0].Content)

	// ACK-on-error: the message must not come back on the next pass.
	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	enabled, _ := f.worker.Autonomous()
	assert.True(t, enabled)
	assert.Equal(t, "idle", f.workerStatus(t))
}

func TestCapabilityErrorDisablesWithoutReply(t *testing.T) {
	f := newLoopFixture(t)
	f.sampler.err = errors.New("rpc failed: -32601 Method not found")
	f.sendToWorker(t, "work item", "text")

	f.worker.processOnce(context.Background())

	assert.Empty(t, f.peerInbox(t), "no failure reply when the capability is gone")

	enabled, reason := f.worker.Autonomous()
	assert.False(t, enabled)
	assert.Contains(t, reason, "-32601")

	// The message stays unread for a future re-enabled pass.
	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)
}

func TestCapabilityErrorStopsMidBatch(t *testing.T) {
	f := newLoopFixture(t)
	f.sampler.err = errors.New("host does not support sampling")
	f.sendToWorker(t, "first", "text")
	f.sendToWorker(t, "second", "text")

	f.worker.processOnce(context.Background())

	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 2, "both messages remain unread")
}

func TestUnsupportedProbeDisablesLoop(t *testing.T) {
	f := newLoopFixture(t)
	f.sampler.supported = false
	f.sendToWorker(t, "never processed", "text")

	f.worker.processOnce(context.Background())

	enabled, reason := f.worker.Autonomous()
	assert.False(t, enabled)
	assert.Equal(t, capabilityMissingReason, reason)
	assert.Zero(t, f.sampler.callCount())
}

func TestResetMessage(t *testing.T) {
	f := newLoopFixture(t)
	f.sendToWorker(t, "RESET: drop everything", "text")

	f.worker.processOnce(context.Background())

	inbox := f.peerInbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "RESET ACK | nenhuma tarefa ativa no momento", inbox[0].Content)
	assert.Zero(t, f.sampler.callCount(), "RESET must not reach the sampler")

	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)

	assert.Equal(t, "idle", f.workerStatus(t))
}

func TestResetFromBrokerGetsNoReply(t *testing.T) {
	f := newLoopFixture(t)
	_, err := f.client.Send(context.Background(), "broker", "worker-1", "RESET now", "text")
	require.NoError(t, err)

	f.worker.processOnce(context.Background())

	assert.Empty(t, f.peerInbox(t))

	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages, "RESET from the operator is still ACKed")
}

func TestReplyTypePreservedExceptConfig(t *testing.T) {
	f := newLoopFixture(t)
	f.sendToWorker(t, "code question", "code")
	f.worker.processOnce(context.Background())

	inbox := f.peerInbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "code", inbox[0].Type)

	_, err := f.client.Ack(context.Background(), "peer", []string{inbox[0].ID})
	require.NoError(t, err)

	f.sendToWorker(t, "config question", "config")
	f.worker.processOnce(context.Background())

	inbox = f.peerInbox(t)
	require.Len(t, inbox, 1)
	assert.Equal(t, "text", inbox[0].Type, "config replies downgrade to text")
}

func TestBrokerMessageSampledButNotReplied(t *testing.T) {
	f := newLoopFixture(t)
	_, err := f.client.Send(context.Background(), "broker", "worker-1", "operator instruction", "text")
	require.NoError(t, err)

	f.worker.processOnce(context.Background())

	assert.Equal(t, 1, f.sampler.callCount())
	assert.Empty(t, f.peerInbox(t))

	res, err := f.client.Read(context.Background(), "worker-1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestSingleFlight(t *testing.T) {
	f := newLoopFixture(t)
	f.sampler.delay = 300 * time.Millisecond
	f.sendToWorker(t, "slow job", "text")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.worker.processOnce(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.sampler.callCount(), "concurrent ticks must not both process")
}

func TestDisabledLoopSkipsProcessing(t *testing.T) {
	f := newLoopFixture(t)
	f.worker.enabled = false
	f.sendToWorker(t, "ignored", "text")

	f.worker.processOnce(context.Background())

	assert.Zero(t, f.sampler.callCount())
}
