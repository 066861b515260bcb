// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A Provider turns one reply into one playable [audio.Clip]. The pet speaks
// short, complete replies, so the contract is a single call rather than a
// text stream. Network providers (ElevenLabs) and offline ones (a local
// command such as espeak-ng) implement the same interface so they can be
// chained as primary and fallback.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"strings"

	"github.com/MrWong99/iopet/pkg/audio"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text with the given voice. The returned clip carries
	// its own format; callers convert it to whatever their sink expects.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.Clip, error)
}

// VoiceProfile selects a voice for synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Language is the BCP-47 tag of the text being spoken (e.g., "zh", "en").
	// Offline providers that have no voice catalogue pick a voice from it.
	Language string
}

// VoiceMap resolves a language tag to a voice.
type VoiceMap struct {
	// Voices maps a language tag or its primary subtag to a voice ID.
	Voices map[string]string

	// Fallback is used for languages missing from Voices. It may be empty.
	Fallback string
}

// NewVoiceMap returns a VoiceMap over voices with keys folded to lower case.
// Voice IDs are provider-specific, so there are no built-in entries: a
// lookup that matches nothing yields an empty ID, which offline providers
// replace with the language tag.
func NewVoiceMap(voices map[string]string, fallback string) VoiceMap {
	m := make(map[string]string, len(voices))
	for k, v := range voices {
		m[strings.ToLower(strings.ReplaceAll(k, "_", "-"))] = v
	}
	return VoiceMap{Voices: m, Fallback: fallback}
}

// Lookup returns the voice for language. An exact tag match ("zh-tw") wins
// over the primary subtag ("zh").
func (m VoiceMap) Lookup(language string) VoiceProfile {
	lang := strings.ToLower(strings.ReplaceAll(language, "_", "-"))
	if id, ok := m.Voices[lang]; ok {
		return VoiceProfile{ID: id, Language: language}
	}
	if primary, _, found := strings.Cut(lang, "-"); found {
		if id, ok := m.Voices[primary]; ok {
			return VoiceProfile{ID: id, Language: language}
		}
	}
	return VoiceProfile{ID: m.Fallback, Language: language}
}
