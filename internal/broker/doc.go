// Package broker implements the piertotum coordination server.
//
// # Overview
//
// The broker holds all shared state in memory: registered agents, one
// bounded FIFO message queue per agent, and a shared key-value context
// store. State is intentionally not persisted; a broker restart loses every
// registration, and workers recover by re-registering when their next
// heartbeat returns not-found.
//
// # Engine
//
// The Engine owns the three mappings behind a single coarse lock:
//
//	engine := broker.NewEngine(logger)
//
// Key operations:
//
//   - Register / Heartbeat / Deregister: agent lifecycle
//   - Send / Broadcast / Read / Ack / ClearMessages: message queues
//   - SetContext / GetContext / ListContexts / DeleteContext: shared store
//   - Status / Reap: observability and stale-agent eviction
//
// Read never mutates read flags; acknowledgement is a separate explicit Ack.
// That separation is what gives the system at-most-once-delivery-per-ACK
// semantics.
//
// # Broker
//
// Broker wires the engine to its HTTP JSON surface, the background reaper,
// and the operator console, and manages listener setup (plain TCP or a
// Tailscale tsnet node) plus graceful shutdown.
package broker
