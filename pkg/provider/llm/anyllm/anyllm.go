// Package anyllm lets hosted and local chat models stand in as fallback
// backends through github.com/mozilla-ai/any-llm-go.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
//	fallback := llmchat.New(p)
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/iopet/pkg/provider/llm"
)

// Names lists the providers [New] accepts. Without an API key option each
// one reads its usual environment variable (OPENAI_API_KEY, ...).
var Names = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// ErrNoChoices is returned when the model answers without a message.
var ErrNoChoices = errors.New("anyllm: response has no choices")

var _ llm.Provider = (*Provider)(nil)

// Provider is one model on one any-llm-go backend.
type Provider struct {
	client anyllmlib.Provider
	vendor string
	model  string
}

// New returns a Provider for model on the named backend. The name is
// matched case-insensitively against [Names].
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	vendor := strings.ToLower(strings.TrimSpace(name))
	if vendor == "" {
		return nil, errors.New("anyllm: provider name is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s: model is required", vendor)
	}
	client, err := open(vendor, opts)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", vendor, err)
	}
	return &Provider{client: client, vendor: vendor, model: model}, nil
}

func open(vendor string, opts []anyllmlib.Option) (anyllmlib.Provider, error) {
	switch vendor {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	}
	return nil, fmt.Errorf("unknown provider (have %s)", strings.Join(Names, ", "))
}

// Model implements [llm.Provider]. The result reads "vendor/model".
func (p *Provider) Model() string { return p.vendor + "/" + p.model }

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: completion: %w", p.vendor, err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}
	if resp.Usage != nil {
		slog.Debug("anyllm: completion",
			"model", p.Model(),
			"prompt_tokens", resp.Usage.PromptTokens,
			"completion_tokens", resp.Usage.CompletionTokens,
		)
	}
	return &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}, nil
}

// params maps req onto the any-llm-go request. Zero temperature and token
// limits are left unset so the vendor defaults apply.
func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	out := anyllmlib.CompletionParams{Model: p.model}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	if t := req.Temperature; t != 0 {
		out.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		out.MaxTokens = &n
	}
	return out
}
