// ABOUTME: Sampler interface abstracting the host coding-agent's LLM capability.
// ABOUTME: The worker only depends on this interface, never on a concrete SDK.

package sampling

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by providers that cannot sample. Its message
// carries the "does not support sampling" hint the worker's capability
// detection matches on.
var ErrUnsupported = errors.New("client does not support sampling")

// ErrNonTextResult indicates the model produced no text payload.
var ErrNonTextResult = errors.New("sampling returned a non-text payload")

// Sampler delegates a (prompt, system, maxTokens) completion to the host
// coding-agent runtime.
type Sampler interface {
	// Sample computes a completion. Implementations must honor ctx
	// cancellation and return plain text.
	Sample(ctx context.Context, prompt, system string, maxTokens int) (string, error)

	// Supported reports whether the host advertises the sampling capability.
	Supported() bool
}
