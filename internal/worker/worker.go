// ABOUTME: Worker sidecar lifecycle: registration, heartbeat, and graceful drain.
// ABOUTME: Heartbeat auto-re-registers after broker restarts; shutdown waits for in-flight work.

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/config"
	"github.com/skvil/piertotum/internal/sampling"
)

// HeartbeatPeriod is the cadence of lastSeen refreshes toward the broker.
const HeartbeatPeriod = 30 * time.Second

// ShutdownDrain is how long shutdown waits for an in-flight processing pass.
const ShutdownDrain = 10 * time.Second

// Worker embeds the broker client, the autonomous loop, and the lifecycle
// tickers for one coding-agent instance.
type Worker struct {
	cfg     *config.WorkerConfig
	client  *client.Client
	sampler sampling.Sampler
	logger  *slog.Logger

	mu            sync.Mutex
	enabled       bool
	processing    bool
	disableReason string
	pollStop      chan struct{}

	heartbeatStop chan struct{}

	// inflight tracks the active processing pass for shutdown drain.
	inflight sync.WaitGroup
}

// New creates a worker. The sampler may be any host-provided implementation;
// the standalone binary wires the Anthropic-backed one.
func New(cfg *config.WorkerConfig, c *client.Client, sampler sampling.Sampler, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:     cfg,
		client:  c,
		sampler: sampler,
		logger:  logger.With("component", "worker"),
	}
}

// ID returns the sanitized agent id.
func (w *Worker) ID() string {
	return w.cfg.AgentID
}

// Client exposes the underlying RPC client (used by the tool surface).
func (w *Worker) Client() *client.Client {
	return w.client
}

// Start registers the agent and launches the heartbeat ticker, plus the
// autonomous loop when configured. Registration failure is a warning, not a
// fatal error: tool calls will surface broker errors naturally.
func (w *Worker) Start(ctx context.Context) {
	if _, err := w.client.Register(ctx, w.cfg.AgentID, w.cfg.AgentName, w.cfg.ProjectName, w.cfg.ProjectPath); err != nil {
		w.logger.Warn("initial registration failed", "error", err)
	} else {
		w.logger.Info("registered", "agent_id", w.cfg.AgentID, "name", w.cfg.AgentName)
	}

	w.heartbeatStop = make(chan struct{})
	go w.heartbeatLoop(ctx)

	if w.cfg.AutoProcess {
		w.SetAutonomous(ctx, true)
	}
}

// heartbeatLoop refreshes lastSeen every HeartbeatPeriod. A not-registered
// reply triggers an automatic re-register: the worker is the authoritative
// source of truth for its own registration.
func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.beat(ctx)
		case <-w.heartbeatStop:
			return
		}
	}
}

// beat performs one heartbeat, re-registering when the broker lost us.
func (w *Worker) beat(ctx context.Context) {
	err := w.client.Heartbeat(ctx, w.cfg.AgentID)
	if err == nil {
		return
	}

	if errors.Is(err, client.ErrNotRegistered) {
		w.logger.Info("broker lost registration, re-registering", "agent_id", w.cfg.AgentID)
		if _, regErr := w.client.Register(ctx, w.cfg.AgentID, w.cfg.AgentName, w.cfg.ProjectName, w.cfg.ProjectPath); regErr != nil {
			w.logger.Warn("re-registration failed", "error", regErr)
		}
		return
	}

	w.logger.Debug("heartbeat failed", "error", err)
}

// SetAutonomous toggles the autonomous processing loop. Enabling clears any
// previous disable reason and starts the poll ticker; disabling stops it.
func (w *Worker) SetAutonomous(ctx context.Context, enabled bool) {
	w.mu.Lock()
	if enabled == w.enabled {
		w.mu.Unlock()
		return
	}

	if enabled {
		w.enabled = true
		w.disableReason = ""
		w.pollStop = make(chan struct{})
		stop := w.pollStop
		w.mu.Unlock()

		go w.pollLoop(ctx, stop)
		w.logger.Info("autonomous mode enabled", "poll_interval", w.cfg.PollInterval())
		return
	}

	w.disableLocked("disabled by operator")
	w.mu.Unlock()
}

// Autonomous reports the loop state and, when disabled, the reason.
func (w *Worker) Autonomous() (bool, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled, w.disableReason
}

// disableLocked flips enabled off and stops the poll ticker. Must be called
// with mu held.
func (w *Worker) disableLocked(reason string) {
	w.enabled = false
	w.disableReason = reason
	if w.pollStop != nil {
		close(w.pollStop)
		w.pollStop = nil
	}
	w.logger.Warn("autonomous mode disabled", "reason", reason)
}

// pollLoop drives processing passes at the configured cadence.
func (w *Worker) pollLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.processOnce(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop performs graceful shutdown: stop tickers, drain the in-flight pass,
// publish offline status, and deregister. Every broker call is best-effort.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.enabled {
		w.disableLocked("worker shutting down")
	}
	w.mu.Unlock()

	if w.heartbeatStop != nil {
		close(w.heartbeatStop)
		w.heartbeatStop = nil
	}

	if !w.waitForDrain(ShutdownDrain) {
		w.logger.Warn("shutdown drain timed out, abandoning in-flight processing")
	}

	statusCtx, cancel := context.WithTimeout(context.Background(), client.FetchTimeout)
	if err := w.client.SetContext(statusCtx, w.cfg.AgentID+"-status", "offline", w.cfg.AgentID); err != nil {
		w.logger.Debug("offline status publish failed", "error", err)
	}
	cancel()

	deregCtx, cancel := context.WithTimeout(context.Background(), client.DeregisterTimeout)
	if err := w.client.Deregister(deregCtx, w.cfg.AgentID); err != nil {
		w.logger.Debug("deregister failed", "error", err)
	}
	cancel()

	w.logger.Info("worker stopped", "agent_id", w.cfg.AgentID)
}

// waitForDrain blocks until the in-flight pass finishes or the timeout
// elapses. Returns false on timeout.
func (w *Worker) waitForDrain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
