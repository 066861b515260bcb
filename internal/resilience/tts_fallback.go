package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/iopet/pkg/audio"
	"github.com/MrWong99/iopet/pkg/provider/tts"
)

// errEmptyAudio marks a synthesizer that returned no samples for non-blank
// text, which counts as a failed attempt.
var errEmptyAudio = errors.New("synthesizer returned no audio")

// TTSFallback implements [tts.Provider] by trying an ordered [Chain] of
// synthesizers, typically a network voice first and an offline one second.
type TTSFallback struct {
	chain *Chain[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates an empty [TTSFallback].
func NewTTSFallback(cfg ChainConfig) *TTSFallback {
	return &TTSFallback{chain: NewChain[tts.Provider](cfg)}
}

// Add appends a synthesizer. timeout bounds each attempt; zero leaves it to
// the caller's context.
func (f *TTSFallback) Add(name string, p tts.Provider, timeout time.Duration) {
	f.chain.Add(name, p, timeout)
}

// Len returns the number of registered synthesizers.
func (f *TTSFallback) Len() int { return f.chain.Len() }

// Names returns the synthesizer names in attempt order.
func (f *TTSFallback) Names() []string { return f.chain.Names() }

// Synthesize returns the clip of the first synthesizer that succeeds.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	clip, _, err := Run(ctx, f.chain, func(ctx context.Context, p tts.Provider) (audio.Clip, error) {
		c, err := p.Synthesize(ctx, text, voice)
		if err != nil {
			return audio.Clip{}, err
		}
		if c.Empty() {
			return audio.Clip{}, errEmptyAudio
		}
		return c, nil
	})
	return clip, err
}
