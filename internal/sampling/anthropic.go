// ABOUTME: Anthropic-backed Sampler for the standalone worker binary.
// ABOUTME: Wraps the Messages API; absent API key means sampling unsupported.

package sampling

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOptions configures the Anthropic sampler (model id and API key).
type AnthropicOptions struct {
	Model  anthropic.Model
	APIKey string
}

// AnthropicSampler implements Sampler over the Anthropic Messages API.
type AnthropicSampler struct {
	client *anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicSampler creates a sampler using the official client. Without
// an API key the sampler reports Supported() == false and every Sample call
// fails with ErrUnsupported.
func NewAnthropicSampler(optFns ...func(o *AnthropicOptions)) *AnthropicSampler {
	opts := AnthropicOptions{
		Model: anthropic.ModelClaude3_5Sonnet20241022,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicSampler{
		client: &client,
		opts:   opts,
	}
}

// Supported reports whether an API key was configured.
func (s *AnthropicSampler) Supported() bool {
	return s.opts.APIKey != ""
}

// Sample sends one user message with the given system prompt and returns the
// concatenated text blocks of the reply.
func (s *AnthropicSampler) Sample(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	if !s.Supported() {
		return "", ErrUnsupported
	}

	params := anthropic.MessageNewParams{
		Model:     s.opts.Model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrNonTextResult
	}
	return sb.String(), nil
}
