// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/iopet/pkg/audio"
	"github.com/MrWong99/iopet/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using the whisper.cpp Go bindings.
//
// The model is loaded on the first call to Transcribe rather than at
// construction, so start-up stays fast and a missing model only disables
// transcription. A failed load is retried on the next call.
type NativeProvider struct {
	modelPath string
	language  string

	// load is whisperlib.New; tests replace it.
	load func(path string) (whisperlib.Model, error)

	mu    sync.Mutex
	model whisperlib.Model
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when Transcribe is called with
// an empty tag. Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative creates a NativeProvider for the model file at modelPath. The
// file is not opened until the first transcription.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &NativeProvider{
		modelPath: modelPath,
		language:  defaultLanguage,
		load:      whisperlib.New,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Loaded reports whether the model is resident.
func (p *NativeProvider) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model != nil
}

// Close releases the whisper model if it was loaded.
func (p *NativeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// Transcribe runs whisper.cpp inference on clip. Each call creates its own
// context from the shared model; contexts are not thread-safe but the model
// is.
func (p *NativeProvider) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if clip.Empty() {
		return "", nil
	}
	model, err := p.ensureModel()
	if err != nil {
		return "", err
	}
	if language == "" {
		language = p.language
	}

	if clip.Format != audio.Mono16k {
		clip = audio.Convert(clip, audio.Mono16k)
	}
	samples := audio.ToFloat32Mono(clip.Data, clip.Format.Channels)

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return trimText(strings.Join(parts, " ")), nil
}

func (p *NativeProvider) ensureModel() (whisperlib.Model, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model, nil
	}
	slog.Info("whisper: loading model", "path", p.modelPath)
	model, err := p.load(p.modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load %q: %w", stt.ErrModelUnavailable, p.modelPath, err)
	}
	p.model = model
	return model, nil
}

// trimText strips the padding whisper puts around segments and drops the
// bracketed non-speech markers it emits for silent input.
func trimText(s string) string {
	s = strings.TrimSpace(s)
	switch s {
	case "[BLANK_AUDIO]", "(silence)", "[silence]":
		return ""
	}
	return s
}
