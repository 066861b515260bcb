// Package llmchat adapts any [llm.Provider] into a fallback [backend.Backend].
package llmchat

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/provider/llm"
)

var _ backend.Backend = (*Backend)(nil)

// Backend sends prompts to an llm.Provider. Replies are always
// [backend.ModeFallback].
type Backend struct {
	provider    llm.Provider
	temperature float64
	maxTokens   int
}

// Option configures a Backend.
type Option func(*Backend)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(b *Backend) { b.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(b *Backend) { b.maxTokens = n }
}

// New wraps p.
func New(p llm.Provider, opts ...Option) *Backend {
	b := &Backend{provider: p}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements [backend.Backend].
func (b *Backend) Name() string { return "llm/" + b.provider.Model() }

// Ask implements [backend.Backend].
func (b *Backend) Ask(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	resp, err := b.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: p.SystemWithContext(),
		Messages:     []llm.Message{{Role: "user", Content: p.Utterance}},
		Temperature:  b.temperature,
		MaxTokens:    b.maxTokens,
	})
	if err != nil {
		return backend.Reply{}, fmt.Errorf("llmchat: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return backend.Reply{}, fmt.Errorf("llmchat: %w", backend.ErrEmptyReply)
	}
	return backend.Reply{Text: resp.Content, Mode: backend.ModeFallback}, nil
}
