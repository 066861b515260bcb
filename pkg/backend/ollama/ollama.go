// Package ollama provides a fallback chat backend backed by a local Ollama
// server's native /api/chat endpoint.
//
// Example usage:
//
//	b := ollama.New("", ollama.WithModel("qwen2.5:1.5b"))
//	reply, err := b.Ask(ctx, backend.Prompt{System: sys, Utterance: "hi"})
//
// Replies are always [backend.ModeFallback] and never carry an action.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/iopet/pkg/backend"
)

const (
	// DefaultBaseURL is the default base URL for a locally running Ollama instance.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is a small model that answers quickly on a laptop.
	DefaultModel = "qwen2.5:1.5b"

	DefaultTemperature = 0.7
	DefaultNumPredict  = 100
)

var _ backend.Backend = (*Backend)(nil)

// Backend implements [backend.Backend] using a local Ollama server.
// Backend is safe for concurrent use.
type Backend struct {
	baseURL     string
	model       string
	temperature float64
	numPredict  int
	httpClient  *http.Client
}

// Option is a functional option for Backend.
type Option func(*Backend)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(b *Backend) {
		if model != "" {
			b.model = model
		}
	}
}

// WithTemperature overrides [DefaultTemperature].
func WithTemperature(t float64) Option {
	return func(b *Backend) { b.temperature = t }
}

// WithNumPredict caps the number of generated tokens. Non-positive values are
// ignored.
func WithNumPredict(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.numPredict = n
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Backend) { b.httpClient = c }
}

// New constructs a Backend. An empty baseURL selects [DefaultBaseURL].
func New(baseURL string, opts ...Option) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	b := &Backend{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       DefaultModel,
		temperature: DefaultTemperature,
		numPredict:  DefaultNumPredict,
		httpClient:  &http.Client{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements [backend.Backend].
func (b *Backend) Name() string { return "ollama/" + b.model }

// Model returns the configured model name.
func (b *Backend) Model() string { return b.model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type chatRequest struct {
	Model    string      `json:"model"`
	Messages []message   `json:"messages"`
	Stream   bool        `json:"stream"`
	Options  chatOptions `json:"options"`
}

type chatResponse struct {
	Message message `json:"message"`
}

// Ask implements [backend.Backend]. The system instruction (with context) and
// the utterance are sent as separate system and user messages.
func (b *Backend) Ask(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: b.model,
		Messages: []message{
			{Role: "system", Content: p.SystemWithContext()},
			{Role: "user", Content: p.Utterance},
		},
		Options: chatOptions{Temperature: b.temperature, NumPredict: b.numPredict},
	})
	if err != nil {
		return backend.Reply{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(reqBody))
	if err != nil {
		return backend.Reply{}, fmt.Errorf("ollama: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return backend.Reply{}, fmt.Errorf("ollama: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return backend.Reply{}, &backend.StatusError{
			Backend:    "ollama",
			Op:         "chat",
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return backend.Reply{}, fmt.Errorf("ollama: decode response: %w", err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return backend.Reply{}, fmt.Errorf("ollama: chat: %w", backend.ErrEmptyReply)
	}
	return backend.Reply{Text: out.Message.Content, Mode: backend.ModeFallback}, nil
}
