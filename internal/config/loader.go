package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/iopet/pkg/history"
	"github.com/MrWong99/iopet/pkg/provider/tts"
	"gopkg.in/yaml.v3"
)

// Built-in defaults applied by [ApplyDefaults].
const (
	DefaultAgentURL       = "http://localhost:8000"
	DefaultOllamaURL      = "http://localhost:11434"
	DefaultOllamaModel    = "qwen2.5:1.5b"
	DefaultChatTimeout    = 120 * time.Second
	DefaultExecuteTimeout = 120 * time.Second
	DefaultContextTimeout = time.Second
	DefaultPollInterval   = 3 * time.Second
	DefaultFallbackTime   = 30 * time.Second
	DefaultBreakerReset   = 30 * time.Second
	DefaultLogFile        = "iopet.log"
	DefaultLanguage       = "zh"
	DefaultWhisperModel   = "models/ggml-base.bin"
	DefaultOfflineTTS     = "espeak-ng"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"fallback": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":      {"whisper", "whisper-native", "openai"},
	"tts":      {"elevenlabs", "command"},
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is [Load], except that a missing file yields [Default].
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("config file not found, using built-in defaults", "path", path)
		return Default(), nil
	}
	return cfg, err
}

// LoadFromReader decodes a YAML config from r, fills in defaults and
// validates the result. An empty document yields [Default].
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every unset field of cfg with its built-in default.
// Voice thresholds are left at zero; the voice pipeline supplies their
// defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.LogFile, DefaultLogFile)

	a := &cfg.Agent
	setDefault(&a.BaseURL, DefaultAgentURL)
	setDefault(&a.Timeout, DefaultChatTimeout)
	setDefault(&a.ExecuteTimeout, DefaultExecuteTimeout)
	setDefault(&a.ContextTimeout, DefaultContextTimeout)
	setDefault(&a.PollInterval, DefaultPollInterval)
	setDefault(&a.CircuitBreaker.ResetTimeout, DefaultBreakerReset)

	p := &cfg.Providers
	if len(p.Fallbacks) == 0 {
		p.Fallbacks = []ProviderEntry{{Name: "ollama", BaseURL: DefaultOllamaURL, Model: DefaultOllamaModel}}
	}
	for i := range p.Fallbacks {
		setDefault(&p.Fallbacks[i].Timeout, DefaultFallbackTime)
	}
	if p.STT.Name == "" {
		p.STT.Name = "whisper-native"
		setDefault(&p.STT.Model, DefaultWhisperModel)
	}
	if len(p.TTS) == 0 {
		p.TTS = []ProviderEntry{{Name: "command", Model: DefaultOfflineTTS}}
	}

	v := &cfg.Voice
	setDefault(&v.Language, DefaultLanguage)
	setDefault(&v.Recorder.Command, "arecord")
	setDefault(&v.Player.Command, "aplay")

	h := &cfg.History
	if h.PostgresDSN == "" {
		setDefault(&h.Path, history.DefaultPath)
	}
	setDefault(&h.MaxTurns, history.DefaultMaxTurns)
	if h.RecordUnreachable == nil {
		on := true
		h.RecordUnreachable = &on
	}
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent
	if cfg.Agent.BaseURL != "" {
		if u, err := url.Parse(cfg.Agent.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("agent.base_url %q must be an absolute http(s) URL", cfg.Agent.BaseURL))
		}
	}
	for name, d := range map[string]time.Duration{
		"agent.timeout":                       cfg.Agent.Timeout,
		"agent.execute_timeout":               cfg.Agent.ExecuteTimeout,
		"agent.context_timeout":               cfg.Agent.ContextTimeout,
		"agent.poll_interval":                 cfg.Agent.PollInterval,
		"agent.circuit_breaker.reset_timeout": cfg.Agent.CircuitBreaker.ResetTimeout,
		"voice.silence_duration":              cfg.Voice.SilenceDuration,
		"voice.max_duration":                  cfg.Voice.MaxDuration,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s %v must not be negative", name, d))
		}
	}
	if cfg.Agent.CircuitBreaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("agent.circuit_breaker.max_failures %d must not be negative", cfg.Agent.CircuitBreaker.MaxFailures))
	}

	// Providers
	for i, e := range cfg.Providers.Fallbacks {
		prefix := fmt.Sprintf("providers.fallbacks[%d]", i)
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", prefix, e.Timeout))
		}
		validateProviderName("fallback", e.Name)
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, e := range cfg.Providers.TTS {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.tts[%d].name is required", i))
		}
		validateProviderName("tts", e.Name)
		if e.Name == "elevenlabs" && !elevenLabsVoiceResolves(e, cfg.Voice) {
			errs = append(errs, fmt.Errorf("providers.tts[%d]: elevenlabs needs a voice ID for language %q; set options.voices or options.fallback_voice", i, cfg.Voice.Language))
		}
	}

	// Voice
	if t := cfg.Voice.SilenceThreshold; t < 0 || t >= 1 {
		errs = append(errs, fmt.Errorf("voice.silence_threshold %.3f is out of range [0, 1)", t))
	}
	if cfg.Voice.PlaybackRate < 0 {
		errs = append(errs, fmt.Errorf("voice.playback_rate %d must not be negative", cfg.Voice.PlaybackRate))
	}
	if cfg.Voice.MaxDuration > 0 && cfg.Voice.SilenceDuration > cfg.Voice.MaxDuration {
		slog.Warn("voice.silence_duration exceeds voice.max_duration; recordings will only stop manually or at the cap",
			"silence_duration", cfg.Voice.SilenceDuration,
			"max_duration", cfg.Voice.MaxDuration,
		)
	}

	// History
	if cfg.History.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("history.max_turns %d must not be negative", cfg.History.MaxTurns))
	}
	if cfg.History.PostgresDSN != "" && cfg.History.Path != "" {
		slog.Warn("history.postgres_dsn is set; history.path is ignored", "path", cfg.History.Path)
	}

	return errors.Join(errs...)
}

// elevenLabsVoiceResolves reports whether an elevenlabs entry ends up with a
// voice ID for the configured language, from its own options or from the
// shared voice map.
func elevenLabsVoiceResolves(e ProviderEntry, v VoiceConfig) bool {
	own := tts.NewVoiceMap(e.OptStringMap("voices"), e.OptString("fallback_voice"))
	if own.Lookup(v.Language).ID != "" {
		return true
	}
	return tts.NewVoiceMap(v.Voices, v.FallbackVoice).Lookup(v.Language).ID != ""
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
