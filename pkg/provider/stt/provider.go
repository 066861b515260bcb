// Package stt defines the Provider interface for Speech-to-Text backends.
//
// The pet records one utterance at a time and hands the complete clip to a
// Provider, so the contract is a single batch call rather than a streaming
// session. Implementations wrap a local whisper.cpp server, the whisper.cpp
// CGO bindings, or the OpenAI transcription API.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/iopet/pkg/audio"
)

// ErrModelUnavailable is returned when a local model could not be loaded.
// Providers that load lazily return it on every call until a load succeeds.
var ErrModelUnavailable = errors.New("stt: model unavailable")

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts a recorded utterance into text. language is a
	// BCP-47 tag such as "en" or "zh"; an empty string lets the provider
	// auto-detect when it can.
	//
	// A clip that contains no speech may yield an empty string and a nil
	// error.
	Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error)
}
