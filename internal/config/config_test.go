package config_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/iopet/internal/config"
	"github.com/MrWong99/iopet/pkg/backend"
	backendmock "github.com/MrWong99/iopet/pkg/backend/mock"
	"github.com/MrWong99/iopet/pkg/history"
	"github.com/MrWong99/iopet/pkg/provider/llm"
	llmmock "github.com/MrWong99/iopet/pkg/provider/llm/mock"
	"github.com/MrWong99/iopet/pkg/provider/stt"
	sttmock "github.com/MrWong99/iopet/pkg/provider/stt/mock"
	"github.com/MrWong99/iopet/pkg/provider/tts"
	ttsmock "github.com/MrWong99/iopet/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: "127.0.0.1:9464"
  log_level: debug
  log_file: /tmp/iopet.log

agent:
  base_url: http://agent.local:8000
  timeout: 90s
  execute_timeout: 2m
  context_timeout: 500ms
  poll_interval: 5s
  circuit_breaker:
    max_failures: 3
    reset_timeout: 1m

providers:
  fallbacks:
    - name: ollama
      base_url: http://localhost:11434
      model: qwen2.5:1.5b
      timeout: 20s
      options:
        temperature: 0.5
        num_predict: 80
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
  stt:
    name: whisper
    base_url: http://localhost:8080
  tts:
    - name: elevenlabs
      api_key: el-test
      model: eleven_flash_v2_5
    - name: command
      model: espeak-ng

voice:
  language: en
  silence_threshold: 0.02
  silence_duration: 2s
  max_duration: 20s
  mute: true
  recorder:
    command: parecord
    args: ["--raw", "--rate={rate}", "--channels={channels}", "--format=s16le"]
  voices:
    en: custom-en

history:
  path: /tmp/history.json
  max_turns: 50
  record_unreachable: false

persona:
  system_prompt: You are a cat.
`

func mustLoad(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	cfg := mustLoad(t, sampleYAML)

	if cfg.Server.ListenAddr != "127.0.0.1:9464" {
		t.Errorf("listen_addr: got %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogDebug)
	}
	if cfg.Agent.BaseURL != "http://agent.local:8000" {
		t.Errorf("agent.base_url: got %q", cfg.Agent.BaseURL)
	}
	if cfg.Agent.Timeout != 90*time.Second || cfg.Agent.ExecuteTimeout != 2*time.Minute {
		t.Errorf("agent timeouts: got %v/%v", cfg.Agent.Timeout, cfg.Agent.ExecuteTimeout)
	}
	if cfg.Agent.ContextTimeout != 500*time.Millisecond || cfg.Agent.PollInterval != 5*time.Second {
		t.Errorf("agent context: got %v/%v", cfg.Agent.ContextTimeout, cfg.Agent.PollInterval)
	}
	if cfg.Agent.CircuitBreaker.MaxFailures != 3 || cfg.Agent.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("circuit_breaker: got %+v", cfg.Agent.CircuitBreaker)
	}
	if n := len(cfg.Providers.Fallbacks); n != 2 {
		t.Fatalf("fallbacks: got %d, want 2", n)
	}
	if got := cfg.Providers.Fallbacks[0].Timeout; got != 20*time.Second {
		t.Errorf("fallbacks[0].timeout: got %v", got)
	}
	if got := cfg.Providers.Fallbacks[1].Timeout; got != config.DefaultFallbackTime {
		t.Errorf("fallbacks[1].timeout: got %v, want default %v", got, config.DefaultFallbackTime)
	}
	if cfg.Providers.STT.Name != "whisper" {
		t.Errorf("stt.name: got %q", cfg.Providers.STT.Name)
	}
	if n := len(cfg.Providers.TTS); n != 2 || cfg.Providers.TTS[0].Name != "elevenlabs" {
		t.Errorf("tts: got %+v", cfg.Providers.TTS)
	}
	if cfg.Voice.Language != "en" || !cfg.Voice.Mute || cfg.Voice.SilenceThreshold != 0.02 {
		t.Errorf("voice: got %+v", cfg.Voice)
	}
	if cfg.Voice.Recorder.Command != "parecord" || len(cfg.Voice.Recorder.Args) != 4 {
		t.Errorf("voice.recorder: got %+v", cfg.Voice.Recorder)
	}
	if cfg.Voice.Player.Command != "aplay" {
		t.Errorf("voice.player default: got %q", cfg.Voice.Player.Command)
	}
	if cfg.History.MaxTurns != 50 || cfg.History.RecordsUnreachable() {
		t.Errorf("history: got %+v", cfg.History)
	}
	if cfg.Persona.SystemPrompt != "You are a cat." {
		t.Errorf("persona.system_prompt: got %q", cfg.Persona.SystemPrompt)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	cfg := mustLoad(t, "")

	if cfg.Agent.BaseURL != config.DefaultAgentURL {
		t.Errorf("agent.base_url: got %q, want %q", cfg.Agent.BaseURL, config.DefaultAgentURL)
	}
	if cfg.Agent.Timeout != 120*time.Second || cfg.Agent.ExecuteTimeout != 120*time.Second {
		t.Errorf("agent timeouts: got %v/%v", cfg.Agent.Timeout, cfg.Agent.ExecuteTimeout)
	}
	if cfg.Agent.ContextTimeout != time.Second || cfg.Agent.PollInterval != 3*time.Second {
		t.Errorf("agent context: got %v/%v", cfg.Agent.ContextTimeout, cfg.Agent.PollInterval)
	}
	if cfg.Agent.CircuitBreaker.MaxFailures != 0 {
		t.Error("circuit breaker should be disabled by default")
	}
	want := config.ProviderEntry{Name: "ollama", BaseURL: "http://localhost:11434", Model: "qwen2.5:1.5b", Timeout: 30 * time.Second}
	if len(cfg.Providers.Fallbacks) != 1 {
		t.Fatalf("fallbacks: got %+v", cfg.Providers.Fallbacks)
	}
	got := cfg.Providers.Fallbacks[0]
	if got.Name != want.Name || got.BaseURL != want.BaseURL || got.Model != want.Model || got.Timeout != want.Timeout {
		t.Errorf("fallbacks[0]: got %+v, want %+v", got, want)
	}
	if cfg.Providers.STT.Name != "whisper-native" || cfg.Providers.STT.Model != config.DefaultWhisperModel {
		t.Errorf("stt: got %+v", cfg.Providers.STT)
	}
	if len(cfg.Providers.TTS) != 1 || cfg.Providers.TTS[0].Name != "command" {
		t.Errorf("tts: got %+v", cfg.Providers.TTS)
	}
	if cfg.Voice.Language != "zh" {
		t.Errorf("voice.language: got %q", cfg.Voice.Language)
	}
	if cfg.History.Path != history.DefaultPath || cfg.History.MaxTurns != 100 || !cfg.History.RecordsUnreachable() {
		t.Errorf("history: got %+v", cfg.History)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFile != config.DefaultLogFile {
		t.Errorf("server: got %+v", cfg.Server)
	}
}

func TestLoadFromReader_PostgresSkipsFilePath(t *testing.T) {
	cfg := mustLoad(t, "history:\n  postgres_dsn: postgres://localhost/iopet\n")
	if cfg.History.Path != "" {
		t.Errorf("history.path: got %q, want empty", cfg.History.Path)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("npcs: []\n"))
	if err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestDefault(t *testing.T) {
	if err := config.Validate(config.Default()); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"relative agent url", "agent:\n  base_url: localhost:8000\n", "agent.base_url"},
		{"ftp agent url", "agent:\n  base_url: ftp://host\n", "agent.base_url"},
		{"negative timeout", "agent:\n  timeout: -1s\n", "agent.timeout"},
		{"negative breaker", "agent:\n  circuit_breaker:\n    max_failures: -1\n", "max_failures"},
		{"fallback without name", "providers:\n  fallbacks:\n    - model: x\n", "providers.fallbacks[0].name"},
		{"tts without name", "providers:\n  tts:\n    - model: x\n", "providers.tts[0].name"},
		{"threshold too high", "voice:\n  silence_threshold: 1.5\n", "voice.silence_threshold"},
		{"negative playback rate", "voice:\n  playback_rate: -1\n", "voice.playback_rate"},
		{"negative max turns", "history:\n  max_turns: -5\n", "history.max_turns"},
		{"elevenlabs without voice", "providers:\n  tts:\n    - name: elevenlabs\n      api_key: k\n", "providers.tts[0]: elevenlabs needs a voice ID"},
		{"elevenlabs voice for other language", "voice:\n  language: zh\nproviders:\n  tts:\n    - name: elevenlabs\n      options:\n        voices:\n          en: rachel-id\n", "language \"zh\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.History.MaxTurns = -1
	cfg.Voice.SilenceThreshold = -0.1

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"server.log_level", "history.max_turns", "voice.silence_threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	for _, kind := range []string{"fallback", "stt", "tts"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("no known providers for kind %q", kind)
		}
	}
	// Unknown names only warn.
	cfg := mustLoad(t, "providers:\n  stt:\n    name: my-custom-stt\n")
	if cfg.Providers.STT.Name != "my-custom-stt" {
		t.Errorf("stt.name: got %q", cfg.Providers.STT.Name)
	}
}

func TestValidate_ElevenLabsVoices(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"own map", "voice:\n  language: zh-CN\nproviders:\n  tts:\n    - name: elevenlabs\n      options:\n        voices:\n          zh: xiaoxiao-id\n"},
		{"own fallback", "voice:\n  language: de\nproviders:\n  tts:\n    - name: elevenlabs\n      options:\n        fallback_voice: narrator-id\n"},
		{"shared map", "voice:\n  language: en\n  voices:\n    en: rachel-id\nproviders:\n  tts:\n    - name: elevenlabs\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := config.LoadFromReader(strings.NewReader(tt.yaml)); err != nil {
				t.Errorf("LoadFromReader: %v", err)
			}
		})
	}
}

// ── ProviderEntry options ─────────────────────────────────────────────────────

func TestProviderEntry_Options(t *testing.T) {
	cfg := mustLoad(t, `
providers:
  tts:
    - name: command
      options:
        language: de
        rate: 150
        volume: "0.8"
        ratio: 1.5
        args: ["--stdout", "-v", "{language}"]
        voices:
          zh: xiaoxiao-id
          en: 3
`)
	e := cfg.Providers.TTS[0]

	if got := e.OptString("language"); got != "de" {
		t.Errorf("OptString(language) = %q", got)
	}
	if got := e.OptString("rate"); got != "" {
		t.Errorf("OptString(rate) = %q, want empty for a number", got)
	}
	if got, ok := e.OptInt("rate"); !ok || got != 150 {
		t.Errorf("OptInt(rate) = %d, %v", got, ok)
	}
	if got, ok := e.OptFloat("volume"); !ok || got != 0.8 {
		t.Errorf("OptFloat(volume) = %v, %v", got, ok)
	}
	if got, ok := e.OptFloat("ratio"); !ok || got != 1.5 {
		t.Errorf("OptFloat(ratio) = %v, %v", got, ok)
	}
	if _, ok := e.OptFloat("missing"); ok {
		t.Error("OptFloat(missing) reported set")
	}
	if got := e.OptStrings("args"); len(got) != 3 || got[2] != "{language}" {
		t.Errorf("OptStrings(args) = %q", got)
	}
	if got := e.OptStringMap("voices"); len(got) != 1 || got["zh"] != "xiaoxiao-id" {
		t.Errorf("OptStringMap(voices) = %v, want only the string entry", got)
	}
	var empty config.ProviderEntry
	if empty.OptString("x") != "" || empty.OptStrings("x") != nil || empty.OptStringMap("x") != nil {
		t.Error("nil options should yield zero values")
	}
}

// ── Registry ──────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	if _, err := reg.CreateBackend(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateBackend: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateTTS(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	reg := config.NewRegistry()
	wantBackend := &backendmock.Backend{BackendName: "stub"}
	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantTTS := &ttsmock.Provider{}

	var gotEntry config.ProviderEntry
	reg.RegisterBackend("stub", func(e config.ProviderEntry) (backend.Backend, error) {
		gotEntry = e
		return wantBackend, nil
	})
	reg.RegisterLLM("stub", func(config.ProviderEntry) (llm.Provider, error) { return wantLLM, nil })
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m1"}
	if got, err := reg.CreateBackend(entry); err != nil || got != wantBackend {
		t.Errorf("CreateBackend = %v, %v", got, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("CreateLLM = %v, %v", got, err)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("CreateTTS = %v, %v", got, err)
	}

	names := reg.Names()
	for _, kind := range []string{"backend", "llm", "stt", "tts"} {
		if len(names[kind]) != 1 || names[kind][0] != "stub" {
			t.Errorf("Names()[%q] = %v", kind, names[kind])
		}
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := config.NewRegistry()
	for _, n := range []string{"whisper", "openai", "whisper-native"} {
		reg.RegisterSTT(n, func(config.ProviderEntry) (stt.Provider, error) { return nil, nil })
	}
	got := strings.Join(reg.Names()["stt"], ",")
	if want := "openai,whisper,whisper-native"; got != want {
		t.Errorf("Names()[stt] = %q, want %q", got, want)
	}
}
