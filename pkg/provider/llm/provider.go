// Package llm defines the chat model interface used for fallback backends.
//
// The pet only needs one blocking completion per turn (see
// pkg/backend/llmchat). Implementations must be safe for concurrent use.
package llm

import "context"

// Message is one conversation entry. Role is "system", "user" or
// "assistant".
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single prompt.
type CompletionRequest struct {
	// SystemPrompt, when set, is sent before Messages with the system role.
	SystemPrompt string

	Messages []Message

	// Temperature and MaxTokens use the model defaults when zero.
	Temperature float64
	MaxTokens   int
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Content string
}

// Provider is a chat model.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model names the model, e.g. "openai/gpt-4o-mini".
	Model() string
}
