// Package command provides an offline TTS provider that runs a local
// speech synthesizer such as espeak-ng and reads a WAV file from its
// stdout.
//
// Argument templates may contain the placeholders {voice}, {language} and
// {rate}. The text to speak is written to the command's stdin.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/iopet/pkg/audio"
	"github.com/MrWong99/iopet/pkg/provider/tts"
)

// EspeakArgs is the default argument template for espeak-ng.
var EspeakArgs = []string{"--stdin", "--stdout", "-v", "{language}", "-s", "{rate}"}

// DefaultRate is the speaking rate in words per minute.
const DefaultRate = 180

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*Provider)

// WithRate sets the speaking rate substituted for {rate}.
func WithRate(wpm int) Option {
	return func(p *Provider) { p.rate = wpm }
}

// WithDefaultLanguage sets the language substituted for {language} when the
// voice profile carries none.
func WithDefaultLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements tts.Provider by running an external command.
type Provider struct {
	path     string
	args     []string
	rate     int
	language string
}

// New resolves bin on PATH. A nil args uses [EspeakArgs]. The returned error
// wraps [audio.ErrUnavailable] when bin is not installed.
func New(bin string, args []string, opts ...Option) (*Provider, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", audio.ErrUnavailable, bin, err)
	}
	if args == nil {
		args = EspeakArgs
	}
	p := &Provider{path: path, args: args, rate: DefaultRate, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize runs the command and decodes the WAV it writes to stdout.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{Format: audio.Mono16k}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.path, p.expand(voice)...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return audio.Clip{}, fmt.Errorf("tts command: run: %w: %s", err, msg)
		}
		return audio.Clip{}, fmt.Errorf("tts command: run: %w", err)
	}

	clip, err := audio.DecodeWAV(stdout.Bytes())
	if err != nil {
		return audio.Clip{}, fmt.Errorf("tts command: decode output: %w", err)
	}
	return clip, nil
}

func (p *Provider) expand(voice tts.VoiceProfile) []string {
	lang := voice.Language
	if lang == "" {
		lang = p.language
	}
	id := voice.ID
	if id == "" {
		id = lang
	}
	r := strings.NewReplacer(
		"{voice}", id,
		"{language}", lang,
		"{rate}", strconv.Itoa(p.rate),
	)
	out := make([]string, len(p.args))
	for i, a := range p.args {
		out[i] = r.Replace(a)
	}
	return out
}
