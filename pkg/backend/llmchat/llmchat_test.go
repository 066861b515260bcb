package llmchat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/backend/llmchat"
	"github.com/MrWong99/iopet/pkg/provider/llm"
	llmmock "github.com/MrWong99/iopet/pkg/provider/llm/mock"
)

func TestAsk(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		ModelName:        "openai/gpt-4o-mini",
		CompleteResponse: &llm.CompletionResponse{Content: "sure"},
	}
	b := llmchat.New(p, llmchat.WithTemperature(0.7), llmchat.WithMaxTokens(100))

	reply, err := b.Ask(context.Background(), backend.Prompt{System: "sys", Context: "using Code", Utterance: "hi"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Text != "sure" || reply.Mode != backend.ModeFallback || reply.Action != nil {
		t.Errorf("reply = %+v", reply)
	}
	if b.Name() != "llm/openai/gpt-4o-mini" {
		t.Errorf("Name = %q", b.Name())
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "sys\nCurrent status: using Code" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("Messages = %+v", req.Messages)
	}
	if req.Temperature != 0.7 || req.MaxTokens != 100 {
		t.Errorf("Temperature/MaxTokens = %v/%d", req.Temperature, req.MaxTokens)
	}
}

func TestAsk_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *llmmock.Provider
		want error
	}{
		{"provider error", &llmmock.Provider{CompleteErr: errors.New("boom")}, nil},
		{"nil response", &llmmock.Provider{}, backend.ErrEmptyReply},
		{"blank content", &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " \n"}}, backend.ErrEmptyReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := llmchat.New(tt.p).Ask(context.Background(), backend.Prompt{Utterance: "hi"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
