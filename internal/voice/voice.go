// Package voice is the pet's speech front end: it records one utterance from
// the microphone, turns it into text, and speaks replies.
//
// A [Pipeline] is assembled from optional parts. Without a capture source or
// transcriber it reports [Pipeline.Available] as false; without a synthesizer
// or playback sink [Pipeline.CanSpeak] is false. Callers check these flags and
// disable the matching affordance instead of handling errors later.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/iopet/internal/observe"
	"github.com/MrWong99/iopet/pkg/audio"
	"github.com/MrWong99/iopet/pkg/provider/stt"
	"github.com/MrWong99/iopet/pkg/provider/tts"
)

// Defaults for [Config].
const (
	DefaultSilenceThreshold = 0.01
	DefaultSilenceDuration  = 1500 * time.Millisecond
	DefaultMaxDuration      = 30 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultSpeakTimeout     = 60 * time.Second
	DefaultLanguage         = "zh"
)

var (
	// ErrUnavailable is returned when the pipeline lacks the parts needed
	// for an operation.
	ErrUnavailable = errors.New("voice: unavailable")

	// ErrRecording is returned by [Pipeline.Record] while another recording
	// is in progress.
	ErrRecording = errors.New("voice: already recording")
)

// Config holds the recording and speech settings.
type Config struct {
	// Format is the capture format. Zero selects 16 kHz mono.
	Format audio.Format

	// SilenceThreshold is the mean absolute amplitude, normalised to [0,1],
	// below which a frame counts as silence.
	SilenceThreshold float64

	// SilenceDuration ends a recording after this much continuous silence.
	SilenceDuration time.Duration

	// MaxDuration ends a recording once more audio than this was captured.
	MaxDuration time.Duration

	// PollInterval is how often the manual stop flag is checked.
	PollInterval time.Duration

	// Language is the BCP-47 tag used for transcription and voice
	// selection. "auto" lets the transcriber detect it.
	Language string

	// SpeakTimeout bounds each [Pipeline.SpeakAsync] call.
	SpeakTimeout time.Duration

	// PlaybackFormat, when set, is the format clips are converted to before
	// they reach the sink.
	PlaybackFormat audio.Format

	// DisableCues turns the start, stop and error tones off.
	DisableCues bool
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate <= 0 || c.Format.Channels <= 0 {
		c.Format = audio.Mono16k
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = DefaultSpeakTimeout
	}
	return c
}

// transcriptionLanguage maps "auto" to the empty tag providers use for
// detection.
func (c Config) transcriptionLanguage() string {
	if strings.EqualFold(c.Language, "auto") {
		return ""
	}
	return c.Language
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithSource sets the capture device.
func WithSource(s audio.Source) Option { return func(p *Pipeline) { p.source = s } }

// WithSink sets the playback device used for cues and speech.
func WithSink(s audio.Sink) Option { return func(p *Pipeline) { p.sink = s } }

// WithTranscriber sets the speech-to-text provider.
func WithTranscriber(t stt.Provider) Option { return func(p *Pipeline) { p.stt = t } }

// WithSynthesizer sets the text-to-speech provider, usually a
// resilience.TTSFallback with a network and an offline entry.
func WithSynthesizer(t tts.Provider) Option { return func(p *Pipeline) { p.tts = t } }

// WithVoices sets the language to voice map. Defaults to
// tts.NewVoiceMap(nil, "").
func WithVoices(m tts.VoiceMap) Option { return func(p *Pipeline) { p.voices = m } }

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// Pipeline records, transcribes and speaks. It is safe for concurrent use;
// at most one recording runs at a time and spoken replies are played one
// after another.
type Pipeline struct {
	cfg     Config
	source  audio.Source
	sink    audio.Sink
	stt     stt.Provider
	tts     tts.Provider
	voices  tts.VoiceMap
	metrics *observe.Metrics

	stop      atomic.Bool
	recording atomic.Bool

	speakMu sync.Mutex
	wg      sync.WaitGroup
}

// New returns a Pipeline with the given settings and parts.
func New(cfg Config, opts ...Option) *Pipeline {
	p := &Pipeline{cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(p)
	}
	if p.voices.Voices == nil {
		p.voices = tts.NewVoiceMap(nil, "")
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Config returns the effective settings.
func (p *Pipeline) Config() Config { return p.cfg }

// Available reports whether voice input works: a capture source and a
// transcriber are both present.
func (p *Pipeline) Available() bool {
	return p != nil && p.source != nil && p.stt != nil
}

// CanSpeak reports whether voice output works: a synthesizer and a playback
// sink are both present.
func (p *Pipeline) CanSpeak() bool {
	return p != nil && p.tts != nil && p.sink != nil
}

// Recording reports whether a recording is in progress.
func (p *Pipeline) Recording() bool { return p.recording.Load() }

// ArmRecording discards any stop requested since the last recording ended.
// Call it before handing [Pipeline.Listen] or [Pipeline.Record] to a worker,
// so that a [Pipeline.StopRecording] racing the worker's start still counts.
func (p *Pipeline) ArmRecording() { p.stop.Store(false) }

// StopRecording asks the running recording to finish, or the next one if it
// has not started yet. The capture loop notices within one poll interval.
func (p *Pipeline) StopRecording() { p.stop.Store(true) }

// Wait blocks until every [Pipeline.SpeakAsync] call has finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

// Listen records one utterance and transcribes it. Any failure yields "".
func (p *Pipeline) Listen(ctx context.Context) string {
	rec, err := p.Record(ctx)
	if err != nil {
		slog.Debug("voice: recording failed", "err", err)
		return ""
	}
	return p.Transcribe(ctx, rec)
}

// Transcribe converts rec to text. It never fails: empty audio, audio that
// never rose above the silence threshold, a missing transcriber and
// transcriber errors all yield "".
func (p *Pipeline) Transcribe(ctx context.Context, rec Recording) string {
	if rec.Clip.Empty() || !rec.Speech || p.stt == nil {
		return ""
	}
	start := time.Now()
	text, err := p.stt.Transcribe(ctx, rec.Clip, p.cfg.transcriptionLanguage())
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "stt", "stt")
		observe.Logger(ctx).Warn("voice: transcription failed", "err", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// Speak synthesises text in the configured language and plays it. It blocks
// until playback ends.
func (p *Pipeline) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !p.CanSpeak() {
		return ErrUnavailable
	}

	start := time.Now()
	clip, err := p.tts.Synthesize(ctx, text, p.voices.Lookup(p.cfg.Language))
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.metrics.RecordProviderError(ctx, "tts", "tts")
		return err
	}

	p.speakMu.Lock()
	defer p.speakMu.Unlock()
	return p.play(ctx, clip)
}

// SpeakAsync speaks text on a background goroutine bounded by the configured
// speak timeout. It returns immediately; failures are only logged.
func (p *Pipeline) SpeakAsync(text string) {
	if !p.CanSpeak() || strings.TrimSpace(text) == "" {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SpeakTimeout)
		defer cancel()
		if err := p.Speak(ctx, text); err != nil {
			slog.Warn("voice: speak failed", "err", err)
		}
	}()
}

func (p *Pipeline) play(ctx context.Context, clip audio.Clip) error {
	if pf := p.cfg.PlaybackFormat; pf.SampleRate > 0 && pf.Channels > 0 {
		clip = audio.Convert(clip, pf)
	}
	return p.sink.Play(ctx, clip)
}
