// ABOUTME: Autonomous processing pass: poll, sample, reply, ack.
// ABOUTME: Single-flight guarded; ACK-on-error prevents poison-message loops.

package worker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/skvil/piertotum/internal/broker"
	"github.com/skvil/piertotum/internal/client"
	"github.com/skvil/piertotum/internal/sampling"
)

// sampleMaxTokens caps the host sampling output per message.
const sampleMaxTokens = 8192

// readBatchLimit bounds how many unread messages one pass processes.
const readBatchLimit = 10

// statusTaskPreviewLen bounds the task excerpt in the busy status.
const statusTaskPreviewLen = 60

// capabilityMissingReason is recorded when the host never advertised sampling.
const capabilityMissingReason = "client did not advertise sampling capability"

var resetPattern = regexp.MustCompile(`^RESET[\s:]`)

// capabilityErrorHints are the substrings that mark a sampling failure as
// capability-missing rather than transient.
var capabilityErrorHints = []string{
	"-32601",
	"Method not found",
	"does not support sampling",
}

// isCapabilityError reports whether a sampling failure means the capability
// itself is gone.
func isCapabilityError(err error) bool {
	msg := err.Error()
	for _, hint := range capabilityErrorHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// processOnce runs one autonomous pass. The processing guard is taken
// synchronously before the first suspension point so a concurrent tick bails
// cleanly; that ordering is the entire re-entrancy story.
func (w *Worker) processOnce(ctx context.Context) {
	w.mu.Lock()
	if w.processing || !w.enabled {
		w.mu.Unlock()
		return
	}
	w.processing = true
	w.inflight.Add(1)
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.processing = false
		w.mu.Unlock()
		w.inflight.Done()
	}()

	if !w.sampler.Supported() {
		w.mu.Lock()
		w.disableLocked(capabilityMissingReason)
		w.mu.Unlock()
		return
	}

	res, err := w.client.Read(ctx, w.cfg.AgentID, true, readBatchLimit)
	if err != nil {
		// Transient broker trouble; the next tick retries.
		w.logger.Debug("poll read failed", "error", err)
		return
	}

	for _, msg := range res.Messages {
		if !w.handleMessage(ctx, msg) {
			// Capability vanished mid-batch: remaining messages stay unread
			// and are visible to the next pass once re-enabled.
			return
		}
	}
}

// handleMessage processes one message end to end. Returns false when the
// loop must stop because the sampling capability disappeared.
func (w *Worker) handleMessage(ctx context.Context, msg client.Message) bool {
	if resetPattern.MatchString(msg.Content) {
		w.setStatus(ctx, "idle")
		w.reply(ctx, msg.From, "RESET ACK | nenhuma tarefa ativa no momento", broker.MessageTypeText)
		w.ack(ctx, msg.ID)
		return true
	}

	w.setStatus(ctx, fmt.Sprintf("busy | task: %s | início: %s",
		taskPreview(msg.Content), time.Now().Format("15:04:05")))

	text, err := w.sampler.Sample(ctx, buildPrompt(msg), samplingSystemPrompt, sampleMaxTokens)
	switch {
	case err == nil:
		w.reply(ctx, msg.From, text, replyType(msg.Type))

	case isCapabilityError(err):
		// The capability is gone; any reply would also fail. No ACK either:
		// the message stays unread for a future re-enabled pass.
		w.mu.Lock()
		w.disableLocked(err.Error())
		w.mu.Unlock()
		return false

	case errors.Is(err, sampling.ErrNonTextResult):
		w.reply(ctx, msg.From, "RESPOSTA INDISPONÍVEL | tipo de conteúdo não suportado", broker.MessageTypeText)

	default:
		w.reply(ctx, msg.From, "ERROR: "+err.Error(), broker.MessageTypeText)
	}

	w.setStatus(ctx, "idle")
	w.ack(ctx, msg.ID)
	return true
}

// reply sends a response to the original sender unless the sender is the
// operator or this worker itself (self-replies would loop through the
// autonomous processor).
func (w *Worker) reply(ctx context.Context, to, content, msgType string) {
	if to == broker.BrokerSender || to == w.cfg.AgentID {
		return
	}
	if _, err := w.client.Send(ctx, w.cfg.AgentID, to, content, msgType); err != nil {
		w.logger.Debug("reply failed", "to", to, "error", err)
	}
}

// ack acknowledges one message; failures are logged and retried implicitly
// on the next pass (the message simply stays unread).
func (w *Worker) ack(ctx context.Context, messageID string) {
	if _, err := w.client.Ack(ctx, w.cfg.AgentID, []string{messageID}); err != nil {
		w.logger.Debug("ack failed", "message_id", messageID, "error", err)
	}
}

// setStatus publishes the worker's processing state to the shared context.
// Best-effort: status is advisory.
func (w *Worker) setStatus(ctx context.Context, status string) {
	if err := w.client.SetContext(ctx, w.cfg.AgentID+"-status", status, w.cfg.AgentID); err != nil {
		w.logger.Debug("status publish failed", "error", err)
	}
}

// replyType preserves the incoming type except that config is downgraded to
// text on the way back.
func replyType(incoming string) string {
	if incoming == broker.MessageTypeConfig {
		return broker.MessageTypeText
	}
	return broker.NormalizeMessageType(incoming)
}

// taskPreview truncates message content for the busy status line.
func taskPreview(content string) string {
	runes := []rune(content)
	if len(runes) <= statusTaskPreviewLen {
		return content
	}
	return string(runes[:statusTaskPreviewLen])
}
