package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/iopet/internal/config"
	"github.com/MrWong99/iopet/pkg/audio"
	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/backend/llmchat"
	"github.com/MrWong99/iopet/pkg/backend/ollama"
	"github.com/MrWong99/iopet/pkg/provider/llm"
	"github.com/MrWong99/iopet/pkg/provider/llm/anyllm"
	"github.com/MrWong99/iopet/pkg/provider/stt"
	oaistt "github.com/MrWong99/iopet/pkg/provider/stt/openai"
	"github.com/MrWong99/iopet/pkg/provider/stt/whisper"
	"github.com/MrWong99/iopet/pkg/provider/tts"
	ttscmd "github.com/MrWong99/iopet/pkg/provider/tts/command"
	"github.com/MrWong99/iopet/pkg/provider/tts/elevenlabs"
)

// defaultWhisperURL is where whisper-server listens unless told otherwise.
const defaultWhisperURL = "http://localhost:8080"

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Fallback chat backends ────────────────────────────────────────────────

	// ollama is a local server; it speaks the /api/chat wire format directly.
	reg.RegisterBackend("ollama", func(entry config.ProviderEntry) (backend.Backend, error) {
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = ollama.DefaultBaseURL
		}
		var opts []ollama.Option
		if entry.Model != "" {
			opts = append(opts, ollama.WithModel(entry.Model))
		}
		if t, ok := entry.OptFloat("temperature"); ok {
			opts = append(opts, ollama.WithTemperature(t))
		}
		if n, ok := entry.OptInt("num_predict"); ok {
			opts = append(opts, ollama.WithNumPredict(n))
		}
		return ollama.New(baseURL, opts...), nil
	})

	// Everything else any-llm-go speaks: optional APIKey + optional BaseURL.
	// ollama is left to the dedicated backend above.
	for _, providerName := range anyllm.Names {
		if providerName == "ollama" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = defaultWhisperURL
		}
		return whisper.New(baseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.OptString("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaistt.WithTimeout(entry.Timeout))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.OptString("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		if voices, fallback := entry.OptStringMap("voices"), entry.OptString("fallback_voice"); len(voices) > 0 || fallback != "" {
			opts = append(opts, elevenlabs.WithVoices(voices, fallback))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	// command runs an offline synthesizer; Model names the binary.
	reg.RegisterTTS("command", func(entry config.ProviderEntry) (tts.Provider, error) {
		bin := entry.Model
		if bin == "" {
			bin = config.DefaultOfflineTTS
		}
		var opts []ttscmd.Option
		if rate, ok := entry.OptInt("rate"); ok {
			opts = append(opts, ttscmd.WithRate(rate))
		}
		if lang := entry.OptString("language"); lang != "" {
			opts = append(opts, ttscmd.WithDefaultLanguage(lang))
		}
		return ttscmd.New(bin, entry.OptStrings("args"), opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildFallback creates the chat backend for entry. Dedicated backends take
// precedence; generic LLM providers are wrapped with llmchat.
func buildFallback(reg *config.Registry, entry config.ProviderEntry) (backend.Backend, error) {
	b, err := reg.CreateBackend(entry)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		return b, err
	}
	p, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, err
	}
	var opts []llmchat.Option
	if t, ok := entry.OptFloat("temperature"); ok {
		opts = append(opts, llmchat.WithTemperature(t))
	}
	if n, ok := entry.OptInt("max_tokens"); ok {
		opts = append(opts, llmchat.WithMaxTokens(n))
	}
	return llmchat.New(p, opts...), nil
}

// buildTranscriber creates the STT provider. An empty name or an
// unregistered provider disables voice input.
func buildTranscriber(reg *config.Registry, entry config.ProviderEntry) (stt.Provider, error) {
	if entry.Name == "" {
		return nil, nil
	}
	p, err := reg.CreateSTT(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not registered, skipping", "kind", "stt", "name", entry.Name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", entry.Name)
	return p, nil
}

// buildSynthesizers creates the TTS providers in order. A provider whose
// program is missing is skipped, leaving the rest of the chain.
func buildSynthesizers(reg *config.Registry, entries []config.ProviderEntry) ([]namedSynth, error) {
	var out []namedSynth
	for _, entry := range entries {
		p, err := reg.CreateTTS(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not registered, skipping", "kind", "tts", "name", entry.Name)
			continue
		case errors.Is(err, audio.ErrUnavailable):
			slog.Warn("synthesizer unavailable, skipping", "name", entry.Name, "err", err)
			continue
		case err != nil:
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		}
		slog.Info("provider created", "kind", "tts", "name", entry.Name)
		out = append(out, namedSynth{name: entry.Name, provider: p, timeout: entry.Timeout})
	}
	return out, nil
}

type namedSynth struct {
	name     string
	provider tts.Provider
	timeout  time.Duration
}

// closeIfCloser closes v when it holds resources, such as a loaded whisper
// model.
func closeIfCloser(v any) func() error {
	if c, ok := v.(io.Closer); ok {
		return c.Close
	}
	return nil
}
