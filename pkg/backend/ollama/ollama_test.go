package ollama_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/backend/ollama"
)

type capturedRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Options struct {
		Temperature float64 `json:"temperature"`
		NumPredict  int     `json:"num_predict"`
	} `json:"options"`
}

// mockChatServer serves /api/chat with a fixed answer and records the last
// request.
func mockChatServer(t *testing.T, status int, body string, got *capturedRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: got %q, want /api/chat", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk_WireFormat(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := mockChatServer(t, http.StatusOK, `{"message":{"role":"assistant","content":"hello there"}}`, &got)

	b := ollama.New(srv.URL)
	reply, err := b.Ask(context.Background(), backend.Prompt{System: "sys", Context: "using Code", Utterance: "hi"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply.Text != "hello there" || reply.Mode != backend.ModeFallback || reply.Action != nil {
		t.Errorf("reply = %+v", reply)
	}

	if got.Model != ollama.DefaultModel {
		t.Errorf("model = %q, want %q", got.Model, ollama.DefaultModel)
	}
	if got.Stream {
		t.Error("stream must be false")
	}
	if got.Options.Temperature != ollama.DefaultTemperature || got.Options.NumPredict != ollama.DefaultNumPredict {
		t.Errorf("options = %+v", got.Options)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "sys\nCurrent status: using Code" {
		t.Errorf("system message = %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" || got.Messages[1].Content != "hi" {
		t.Errorf("user message = %+v", got.Messages[1])
	}
}

func TestAsk_Options(t *testing.T) {
	t.Parallel()

	var got capturedRequest
	srv := mockChatServer(t, http.StatusOK, `{"message":{"content":"x"}}`, &got)

	b := ollama.New(srv.URL, ollama.WithModel("llama3"), ollama.WithTemperature(0.1), ollama.WithNumPredict(42))
	if _, err := b.Ask(context.Background(), backend.Prompt{Utterance: "hi"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got.Model != "llama3" || got.Options.Temperature != 0.1 || got.Options.NumPredict != 42 {
		t.Errorf("request = %+v", got)
	}
	if b.Name() != "ollama/llama3" {
		t.Errorf("Name = %q", b.Name())
	}
}

func TestAsk_EmptyContent(t *testing.T) {
	t.Parallel()

	srv := mockChatServer(t, http.StatusOK, `{"message":{"content":""}}`, nil)
	_, err := ollama.New(srv.URL).Ask(context.Background(), backend.Prompt{Utterance: "hi"})
	if !errors.Is(err, backend.ErrEmptyReply) {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
}

func TestAsk_ServerError(t *testing.T) {
	t.Parallel()

	srv := mockChatServer(t, http.StatusInternalServerError, `model not found`, nil)
	_, err := ollama.New(srv.URL).Ask(context.Background(), backend.Prompt{Utterance: "hi"})
	var se *backend.StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Body != "model not found" {
		t.Errorf("StatusError = %+v", se)
	}
}
