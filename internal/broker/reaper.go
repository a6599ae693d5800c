// ABOUTME: Periodic background task that evicts agents with stale heartbeats.
// ABOUTME: The reaper is the only time-based eviction mechanism in the broker.

package broker

import (
	"log/slog"
	"time"
)

// ReaperPeriod is how often the reaper scans for stale agents.
const ReaperPeriod = 30 * time.Second

// Reaper periodically calls Engine.Reap until stopped.
type Reaper struct {
	engine *Engine
	period time.Duration
	logger *slog.Logger
	done   chan struct{}
}

// NewReaper creates a reaper over the given engine. A non-positive period
// falls back to ReaperPeriod.
func NewReaper(engine *Engine, period time.Duration, logger *slog.Logger) *Reaper {
	if period <= 0 {
		period = ReaperPeriod
	}
	return &Reaper{
		engine: engine,
		period: period,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the background scan loop.
func (r *Reaper) Start() {
	go r.run()
}

func (r *Reaper) run() {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, id := range r.engine.Reap() {
				r.logger.Info("reaped stale agent", "agent_id", id)
			}
		case <-r.done:
			return
		}
	}
}

// Stop terminates the scan loop. Safe to call once.
func (r *Reaper) Stop() {
	close(r.done)
}
