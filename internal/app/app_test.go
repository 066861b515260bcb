package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/iopet/internal/app"
	"github.com/MrWong99/iopet/internal/config"
	"github.com/MrWong99/iopet/internal/observe"
	"github.com/MrWong99/iopet/internal/pet"
	"github.com/MrWong99/iopet/pkg/audio"
	audiomock "github.com/MrWong99/iopet/pkg/audio/mock"
	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/history"
	"github.com/MrWong99/iopet/pkg/provider/stt"
	sttmock "github.com/MrWong99/iopet/pkg/provider/stt/mock"
	"github.com/MrWong99/iopet/pkg/provider/tts"
	ttsmock "github.com/MrWong99/iopet/pkg/provider/tts/mock"
)

func agentServer(t *testing.T, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var chats atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat":
			chats.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{"response": reply, "mode": "chat"})
		case "/context":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "app": "Firefox"})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &chats
}

type fixture struct {
	cfg   *config.Config
	reg   *config.Registry
	store *history.FileStore
	sink  *audiomock.Sink
	level *slog.LevelVar
}

func newFixture(t *testing.T, agentURL string) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Agent.BaseURL = agentURL
	cfg.Agent.PollInterval = time.Hour
	cfg.Providers.Fallbacks = []config.ProviderEntry{{Name: "ollama", BaseURL: "http://127.0.0.1:1", Model: "qwen2.5:1.5b", Timeout: time.Second}}
	cfg.Providers.STT = config.ProviderEntry{Name: "mock"}
	cfg.Providers.TTS = []config.ProviderEntry{{Name: "mock"}}
	cfg.Voice.DisableCues = true

	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: "hello"}, nil
	})
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{Clip: audio.Clip{Data: []byte{1, 0, 2, 0}, Format: audio.Mono16k}}, nil
	})

	return &fixture{
		cfg:   cfg,
		reg:   reg,
		store: history.NewFileStore(filepath.Join(t.TempDir(), "chat_history.json")),
		sink:  &audiomock.Sink{},
		level: new(slog.LevelVar),
	}
}

func (f *fixture) build(t *testing.T, extra ...app.Option) *app.App {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts := append([]app.Option{
		app.WithHistoryStore(f.store),
		app.WithAudio(&audiomock.Source{}, f.sink),
		app.WithMetrics(m),
		app.WithLevel(f.level),
	}, extra...)
	a, err := app.New(context.Background(), f.cfg, f.reg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_Wiring(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	a := newFixture(t, srv.URL).build(t)

	want := []string{"agent", "ollama/qwen2.5:1.5b"}
	if got := a.Dispatcher().Backends(); !slices.Equal(got, want) {
		t.Errorf("Backends() = %v, want %v", got, want)
	}
	if !a.Voice().Available() {
		t.Error("voice input unavailable, want available")
	}
	if !a.Voice().CanSpeak() {
		t.Error("voice output unavailable, want available")
	}
	if !a.Controller().VoiceOutput() {
		t.Error("VoiceOutput() = false, want true when not muted")
	}
}

func TestNew_Fallbacks(t *testing.T) {
	tests := []struct {
		name         string
		fallbacks    []config.ProviderEntry
		wantBackends []string
		wantErr      bool
	}{
		{
			name:         "unregistered fallback is skipped",
			fallbacks:    []config.ProviderEntry{{Name: "nope"}},
			wantBackends: []string{"agent"},
		},
		{
			name:      "factory error aborts",
			fallbacks: []config.ProviderEntry{{Name: "broken"}},
			wantErr:   true,
		},
		{
			name: "ordered chain",
			fallbacks: []config.ProviderEntry{
				{Name: "ollama", Model: "llama3"},
				{Name: "ollama", Model: "qwen2.5:1.5b"},
			},
			wantBackends: []string{"agent", "ollama/llama3", "ollama/qwen2.5:1.5b"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := agentServer(t, "Hi!")
			f := newFixture(t, srv.URL)
			f.cfg.Providers.Fallbacks = tt.fallbacks
			f.reg.RegisterBackend("broken", func(config.ProviderEntry) (backend.Backend, error) {
				return nil, errors.New("boom")
			})

			a, err := app.New(context.Background(), f.cfg, f.reg, app.WithHistoryStore(f.store), app.WithAudio(nil, nil))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer a.Shutdown(context.Background())
			if got := a.Dispatcher().Backends(); !slices.Equal(got, tt.wantBackends) {
				t.Errorf("Backends() = %v, want %v", got, tt.wantBackends)
			}
		})
	}
}

func TestNew_VoiceDisabled(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	f := newFixture(t, srv.URL)
	f.cfg.Voice.DisableInput = true
	f.cfg.Voice.Mute = true
	a := f.build(t)

	if a.Controller().VoiceInput() {
		t.Error("VoiceInput() = true with input disabled")
	}
	if a.Controller().VoiceOutput() {
		t.Error("VoiceOutput() = true while muted")
	}
}

// elevenLabsServer answers every stream-input connection with one PCM chunk
// and records the dialed request URI.
func elevenLabsServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var dialed atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dialed.Store(r.URL.RequestURI())
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) == nil && msg["text"] == "" {
				break
			}
		}
		final, _ := json.Marshal(map[string]any{"audio": "AQACAA==", "isFinal": true})
		_ = conn.Write(r.Context(), websocket.MessageText, final)
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv, &dialed
}

func TestNew_ElevenLabsVoiceByLanguage(t *testing.T) {
	agent, _ := agentServer(t, "Hi!")
	el, dialed := elevenLabsServer(t)

	f := newFixture(t, agent.URL)
	f.cfg.Voice.Language = "zh-CN"
	f.cfg.Providers.TTS = []config.ProviderEntry{{
		Name:    "elevenlabs",
		APIKey:  "xi-test",
		BaseURL: "ws" + strings.TrimPrefix(el.URL, "http"),
		Options: map[string]any{"voices": map[string]any{"zh": "xiaoxiao-id", "en": "rachel-id"}},
	}}
	if err := config.Validate(f.cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	a := f.build(t)

	if err := a.Voice().Speak(context.Background(), "你好"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := "/v1/text-to-speech/xiaoxiao-id/stream-input?model_id=eleven_flash_v2_5"
	if got, _ := dialed.Load().(string); got != want {
		t.Errorf("dialed %q, want %q", got, want)
	}
	if n := len(f.sink.Clips()); n != 1 {
		t.Errorf("played %d clips, want 1", n)
	}
}

func TestRun_FrontendDrivesTurn(t *testing.T) {
	srv, chats := agentServer(t, "Hi! I'm Io.")
	f := newFixture(t, srv.URL)
	f.cfg.Voice.Mute = true
	a := f.build(t)

	var got pet.Event
	front := func(ctx context.Context) error {
		c := a.Controller()
		if err := c.Submit("hello"); err != nil {
			return err
		}
		for {
			select {
			case ev := <-c.Events():
				if ev.Kind == pet.EventReply {
					got = ev
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return errors.New("no reply")
			}
		}
	}

	if err := a.Run(context.Background(), front); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Text != "[Chat] Hi! I'm Io." {
		t.Errorf("reply = %q, want %q", got.Text, "[Chat] Hi! I'm Io.")
	}
	if chats.Load() != 1 {
		t.Errorf("agent /chat calls = %d, want 1", chats.Load())
	}

	turns, err := f.store.Load(context.Background())
	if err != nil {
		t.Fatalf("store.Load: %v", err)
	}
	if len(turns) != 1 || turns[0].User != "hello" || turns[0].AI != "Hi! I'm Io." {
		t.Errorf("stored turns = %+v", turns)
	}
}

func TestRun_ContextCanceled(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	a := newFixture(t, srv.URL).build(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_ListenError(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	f := newFixture(t, srv.URL)
	f.cfg.Server.ListenAddr = "not-an-address"
	a := f.build(t)

	err := a.Run(context.Background(), func(context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected listen error, got nil")
	}
}

func TestHandler(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	a := newFixture(t, srv.URL).build(t)

	hs := httptest.NewServer(a.Handler())
	defer hs.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(hs.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(hs.URL + "/statusz")
	if err != nil {
		t.Fatalf("GET /statusz: %v", err)
	}
	defer resp.Body.Close()
	var snap app.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != "idle" || snap.Busy || snap.Pending {
		t.Errorf("snapshot = %+v, want idle", snap)
	}
	if len(snap.Backends) != 2 {
		t.Errorf("snapshot backends = %v", snap.Backends)
	}
}

func TestHandler_AgentDownIsDegraded(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	srv.Close()
	a := newFixture(t, srv.URL).build(t)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

func TestReload(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	f := newFixture(t, srv.URL)
	a := f.build(t)

	updated := *f.cfg
	updated.Server.LogLevel = config.LogDebug
	updated.Voice.Mute = true
	updated.Persona.SystemPrompt = "You are a fox."
	a.Reload(f.cfg, &updated)

	if f.level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", f.level.Level())
	}
	if a.Controller().VoiceOutput() {
		t.Error("VoiceOutput() = true after mute reload")
	}
	if got := a.Dispatcher().SystemPrompt(); got != "You are a fox." {
		t.Errorf("SystemPrompt() = %q", got)
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	srv, _ := agentServer(t, "Hi!")
	a := newFixture(t, srv.URL).build(t)
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := app.SlogLevel(tt.in); got != tt.want {
			t.Errorf("SlogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
