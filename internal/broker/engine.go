// ABOUTME: In-memory state engine for agents, message queues, and shared context.
// ABOUTME: Owns all broker invariants: quotas, FIFO bounds, and read/ack semantics.

package broker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// BrokerSender is the reserved sender id for operator-originated messages.
// Messages from this id bypass the sender-registration check.
const BrokerSender = "broker"

// Quotas enforced by the engine.
const (
	MaxAgents             = 100
	MaxMessagesPerAgent   = 200
	MaxContextKeys        = 1000
	MaxContextValueSize   = 100 * 1024
	MaxMessageContentSize = 512 * 1024

	// StaleAgentThreshold is how long an agent may go without a heartbeat
	// before the reaper evicts it. Three missed 30s heartbeats.
	StaleAgentThreshold = 90 * time.Second

	// DefaultReadLimit applies when a Read call does not specify a limit.
	DefaultReadLimit = 50
)

// ErrInvalidArgument is returned when a required field is missing or malformed.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrAgentNotFound is returned when the referenced agent is not registered.
var ErrAgentNotFound = errors.New("agent not found")

// ErrContextNotFound is returned when the requested context key does not exist.
var ErrContextNotFound = errors.New("context key not found")

// ErrQuotaExceeded is returned when a registration or context write would
// exceed MaxAgents or MaxContextKeys.
var ErrQuotaExceeded = errors.New("quota exceeded")

// ErrPayloadTooLarge is returned when content or a context value exceeds its
// size bound.
var ErrPayloadTooLarge = errors.New("payload too large")

// Message type constants. Unknown types are coerced to MessageTypeText.
const (
	MessageTypeText     = "text"
	MessageTypeCode     = "code"
	MessageTypeSchema   = "schema"
	MessageTypeEndpoint = "endpoint"
	MessageTypeConfig   = "config"
)

// NormalizeMessageType coerces unknown message types to text.
func NormalizeMessageType(t string) string {
	switch t {
	case MessageTypeText, MessageTypeCode, MessageTypeSchema, MessageTypeEndpoint, MessageTypeConfig:
		return t
	default:
		return MessageTypeText
	}
}

// Agent is a registered coding-agent instance.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Project      string    `json:"project"`
	Path         string    `json:"path"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Message is a single queued message for one recipient.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	FromName  string    `json:"fromName"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// ContextEntry is one key in the shared context store.
type ContextEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	SetBy     string    `json:"setBy"`
	SetByName string    `json:"setByName"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextSummary is the listing form of a context entry (no value payload).
type ContextSummary struct {
	Key       string    `json:"key"`
	SetBy     string    `json:"setBy"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusAgent is one agent entry in a Status snapshot.
type StatusAgent struct {
	Agent
	UnreadMessages int `json:"unreadMessages"`
}

// Status is a point-in-time snapshot of the broker.
type Status struct {
	Uptime           time.Duration `json:"-"`
	Agents           []StatusAgent `json:"agents"`
	TotalAgents      int           `json:"totalAgents"`
	TotalContextKeys int           `json:"totalContextKeys"`
}

// Engine holds all broker state behind a single coarse lock. Every operation
// is atomic with respect to every other; returned slices and structs are
// stable copies.
type Engine struct {
	mu       sync.Mutex
	agents   map[string]*Agent
	queues   map[string][]*Message
	contexts map[string]*ContextEntry

	startedAt time.Time
	logger    *slog.Logger

	// now is the clock; overridable in tests and by the reaper harness.
	now func() time.Time
}

// NewEngine creates an empty state engine.
func NewEngine(logger *slog.Logger) *Engine {
	e := &Engine{
		agents:   make(map[string]*Agent),
		queues:   make(map[string][]*Message),
		contexts: make(map[string]*ContextEntry),
		logger:   logger,
		now:      time.Now,
	}
	e.startedAt = e.now()
	return e
}

// Register creates or refreshes an agent. Re-registering an existing id
// overwrites metadata and refreshes lastSeen while preserving its queue;
// this is the recovery path after a broker restart. Returns the total
// number of registered agents.
func (e *Engine) Register(id, name, project, path string) (int, error) {
	if id == "" || name == "" {
		return 0, fmt.Errorf("%w: agentId and name are required", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if existing, ok := e.agents[id]; ok {
		existing.Name = name
		existing.Project = project
		existing.Path = path
		existing.LastSeen = now
		return len(e.agents), nil
	}

	if len(e.agents) >= MaxAgents {
		return 0, fmt.Errorf("%w: agent limit reached (%d)", ErrQuotaExceeded, MaxAgents)
	}

	e.agents[id] = &Agent{
		ID:           id,
		Name:         name,
		Project:      project,
		Path:         path,
		RegisteredAt: now,
		LastSeen:     now,
	}
	e.queues[id] = nil

	e.logger.Info("agent registered", "agent_id", id, "name", name, "total_agents", len(e.agents))
	return len(e.agents), nil
}

// Heartbeat refreshes an agent's lastSeen. Returns ErrAgentNotFound for
// unknown ids; the worker uses that signal to re-register.
func (e *Engine) Heartbeat(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	agent, ok := e.agents[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	agent.LastSeen = e.now()
	return nil
}

// Deregister removes an agent and its queue. Idempotent.
func (e *Engine) Deregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.agents[id]; ok {
		delete(e.agents, id)
		delete(e.queues, id)
		e.logger.Info("agent deregistered", "agent_id", id, "total_agents", len(e.agents))
	}
}

// Send enqueues a message from one agent (or the broker) to another.
// Returns the generated message id. Queue overflow silently drops the
// oldest messages.
func (e *Engine) Send(from, to, content, msgType string) (string, error) {
	if from == "" || to == "" || content == "" {
		return "", fmt.Errorf("%w: from, to and content are required", ErrInvalidArgument)
	}
	if len(content) > MaxMessageContentSize {
		return "", fmt.Errorf("%w: content exceeds %d bytes", ErrPayloadTooLarge, MaxMessageContentSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fromName, err := e.resolveSenderLocked(from)
	if err != nil {
		return "", err
	}
	if _, ok := e.agents[to]; !ok {
		return "", fmt.Errorf("%w: recipient %s", ErrAgentNotFound, to)
	}

	msg := &Message{
		ID:        e.generateMessageIDLocked(),
		From:      from,
		FromName:  fromName,
		Content:   content,
		Type:      NormalizeMessageType(msgType),
		Timestamp: e.now(),
	}
	dropped := e.enqueueLocked(to, msg)
	if dropped > 0 {
		e.logger.Debug("queue overflow", "agent_id", to, "dropped", dropped)
	}
	return msg.ID, nil
}

// Broadcast enqueues an independent message to every registered agent except
// the sender. Returns the number of recipients actually enqueued.
func (e *Engine) Broadcast(from, content, msgType string) (int, error) {
	if from == "" || content == "" {
		return 0, fmt.Errorf("%w: from and content are required", ErrInvalidArgument)
	}
	if len(content) > MaxMessageContentSize {
		return 0, fmt.Errorf("%w: content exceeds %d bytes", ErrPayloadTooLarge, MaxMessageContentSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	fromName, err := e.resolveSenderLocked(from)
	if err != nil {
		return 0, err
	}

	normalized := NormalizeMessageType(msgType)
	now := e.now()
	sent := 0
	for id := range e.agents {
		if id == from {
			continue
		}
		e.enqueueLocked(id, &Message{
			ID:        e.generateMessageIDLocked(),
			From:      from,
			FromName:  fromName,
			Content:   content,
			Type:      normalized,
			Timestamp: now,
		})
		sent++
	}
	return sent, nil
}

// Read returns a snapshot of an agent's queue, optionally filtered to unread
// messages, capped at limit. It never mutates read flags; acknowledgement is
// a separate explicit Ack. hasMore reports whether the filtered queue held
// more than limit messages.
func (e *Engine) Read(id string, unreadOnly bool, limit int) ([]Message, bool, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.agents[id]; !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	var filtered []Message
	for _, msg := range e.queues[id] {
		if unreadOnly && msg.Read {
			continue
		}
		filtered = append(filtered, *msg)
	}

	hasMore := len(filtered) > limit
	if hasMore {
		filtered = filtered[:limit]
	}
	return filtered, hasMore, nil
}

// Ack marks the given message ids as read in an agent's queue. Unknown ids
// are ignored. Returns the number of messages that actually transitioned
// from unread to read.
func (e *Engine) Ack(id string, messageIDs []string) (int, error) {
	if len(messageIDs) == 0 {
		return 0, fmt.Errorf("%w: message ids are required", ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.agents[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	wanted := make(map[string]bool, len(messageIDs))
	for _, msgID := range messageIDs {
		wanted[msgID] = true
	}

	acked := 0
	for _, msg := range e.queues[id] {
		if wanted[msg.ID] && !msg.Read {
			msg.Read = true
			acked++
		}
	}
	return acked, nil
}

// ClearMessages truncates an agent's queue and returns how many messages
// were removed.
func (e *Engine) ClearMessages(id string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.agents[id]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	cleared := len(e.queues[id])
	e.queues[id] = nil
	return cleared, nil
}

// SetContext writes a key in the shared context store. setByName is resolved
// from the registered agents at write time and falls back to the raw setBy
// string for unknown writers.
func (e *Engine) SetContext(key, value, setBy string) error {
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidArgument)
	}
	if len(value) > MaxContextValueSize {
		return fmt.Errorf("%w: value exceeds %d bytes", ErrPayloadTooLarge, MaxContextValueSize)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.contexts[key]; !exists && len(e.contexts) >= MaxContextKeys {
		return fmt.Errorf("%w: context key limit reached (%d)", ErrQuotaExceeded, MaxContextKeys)
	}

	setByName := setBy
	if agent, ok := e.agents[setBy]; ok {
		setByName = agent.Name
	}

	e.contexts[key] = &ContextEntry{
		Key:       key,
		Value:     value,
		SetBy:     setBy,
		SetByName: setByName,
		Timestamp: e.now(),
	}
	return nil
}

// GetContext returns a copy of the entry for key.
func (e *Engine) GetContext(key string) (ContextEntry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.contexts[key]
	if !ok {
		return ContextEntry{}, fmt.Errorf("%w: %s", ErrContextNotFound, key)
	}
	return *entry, nil
}

// ListContexts returns a summary of every context key.
func (e *Engine) ListContexts() []ContextSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ContextSummary, 0, len(e.contexts))
	for _, entry := range e.contexts {
		out = append(out, ContextSummary{
			Key:       entry.Key,
			SetBy:     entry.SetBy,
			Timestamp: entry.Timestamp,
		})
	}
	return out
}

// DeleteContext removes a key. Idempotent.
func (e *Engine) DeleteContext(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.contexts, key)
}

// ListAgents returns a copy of every registered agent.
func (e *Engine) ListAgents() []Agent {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Agent, 0, len(e.agents))
	for _, agent := range e.agents {
		out = append(out, *agent)
	}
	return out
}

// Status returns a snapshot including per-agent unread counts.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	agents := make([]StatusAgent, 0, len(e.agents))
	for id, agent := range e.agents {
		unread := 0
		for _, msg := range e.queues[id] {
			if !msg.Read {
				unread++
			}
		}
		agents = append(agents, StatusAgent{Agent: *agent, UnreadMessages: unread})
	}

	return Status{
		Uptime:           e.now().Sub(e.startedAt),
		Agents:           agents,
		TotalAgents:      len(e.agents),
		TotalContextKeys: len(e.contexts),
	}
}

// Reap deregisters every agent whose lastSeen is older than
// StaleAgentThreshold and returns the evicted ids.
func (e *Engine) Reap() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var evicted []string
	for id, agent := range e.agents {
		if now.Sub(agent.LastSeen) > StaleAgentThreshold {
			delete(e.agents, id)
			delete(e.queues, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// resolveSenderLocked validates the sender and returns its display name.
// The reserved broker sender bypasses the registration check. Must be
// called with mu held.
func (e *Engine) resolveSenderLocked(from string) (string, error) {
	if from == BrokerSender {
		return "Operador", nil
	}
	agent, ok := e.agents[from]
	if !ok {
		return "", fmt.Errorf("%w: sender %s is not registered", ErrInvalidArgument, from)
	}
	return agent.Name, nil
}

// enqueueLocked appends a message and enforces the queue bound, dropping
// oldest first. Returns the number of dropped messages. Must be called with
// mu held.
func (e *Engine) enqueueLocked(to string, msg *Message) int {
	queue := append(e.queues[to], msg)
	dropped := 0
	if len(queue) > MaxMessagesPerAgent {
		dropped = len(queue) - MaxMessagesPerAgent
		queue = append([]*Message(nil), queue[dropped:]...)
	}
	e.queues[to] = queue
	return dropped
}

// generateMessageIDLocked builds a timestamp-plus-random-suffix id. Must be
// called with mu held so ids observe the engine clock.
func (e *Engine) generateMessageIDLocked() string {
	return fmt.Sprintf("%d-%s", e.now().UnixNano(), uuid.NewString()[:8])
}
