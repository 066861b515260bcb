package voice

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/iopet/pkg/audio"
)

// StopReason says why a recording ended.
type StopReason string

const (
	StopManual      StopReason = "manual"
	StopSilence     StopReason = "silence"
	StopMaxDuration StopReason = "max_duration"
	StopEnded       StopReason = "ended"
	StopCanceled    StopReason = "canceled"
	StopError       StopReason = "error"
)

// Recording is one captured utterance.
type Recording struct {
	Clip   audio.Clip
	Reason StopReason

	// Speech is true when at least one frame rose above the silence
	// threshold.
	Speech bool
}

// Cue tones. All are played at volume 0.3 with a 10 ms fade.
var (
	startCue = audio.Tone{Frequency: 600, Duration: 100 * time.Millisecond, Volume: 0.3, Fade: 10 * time.Millisecond}
	stopCue  = audio.Tone{Frequency: 400, Duration: 150 * time.Millisecond, Volume: 0.3, Fade: 10 * time.Millisecond}
	errorCue = audio.Tone{Frequency: 300, Duration: 300 * time.Millisecond, Volume: 0.3, Fade: 10 * time.Millisecond}
)

// Record captures one utterance. It ends on the first of: a call to
// [Pipeline.StopRecording], continuous silence for the configured silence
// duration (counted from the first frame, speech is not required), more
// captured audio than the maximum duration, the end of the capture stream or
// ctx being done.
//
// A start cue plays before capture and a stop cue after it. Capture failures
// play the error cue and are returned with whatever audio was collected.
func (p *Pipeline) Record(ctx context.Context) (Recording, error) {
	if p.source == nil {
		return Recording{}, ErrUnavailable
	}
	if !p.recording.CompareAndSwap(false, true) {
		return Recording{}, ErrRecording
	}
	defer p.recording.Store(false)
	defer p.stop.Store(false)

	p.cue(ctx, startCue)

	f := p.cfg.Format
	stream, err := p.source.Open(ctx, f)
	if err != nil {
		p.cue(ctx, errorCue)
		return Recording{Clip: audio.Clip{Format: f}, Reason: StopError}, fmt.Errorf("voice: open capture: %w", err)
	}
	defer func() {
		stream.Close()
		audio.Drain(stream.Frames())
	}()

	var (
		buf      bytes.Buffer
		silence  time.Duration
		speech   bool
		reason   StopReason
		maxBytes = f.Bytes(p.cfg.MaxDuration)
		frames   = stream.Frames()
	)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			reason = StopCanceled
			break loop
		case <-ticker.C:
			if p.stop.Load() {
				reason = StopManual
				break loop
			}
		case fr, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					reason = StopCanceled
					break loop
				}
				if err := stream.Err(); err != nil {
					p.cue(ctx, errorCue)
					rec := Recording{Clip: audio.Clip{Data: buf.Bytes(), Format: f}, Reason: StopError, Speech: speech}
					return rec, fmt.Errorf("voice: capture: %w", err)
				}
				reason = StopEnded
				break loop
			}
			buf.Write(fr.Data)
			if audio.MeanAbs(fr.Data) < p.cfg.SilenceThreshold {
				silence += f.Duration(len(fr.Data))
			} else {
				silence = 0
				speech = true
			}
			switch {
			case p.stop.Load():
				reason = StopManual
			case silence >= p.cfg.SilenceDuration:
				reason = StopSilence
			case buf.Len() > maxBytes:
				reason = StopMaxDuration
			default:
				continue
			}
			break loop
		}
	}

	rec := Recording{Clip: audio.Clip{Data: buf.Bytes(), Format: f}, Reason: reason, Speech: speech}
	if reason == StopCanceled {
		return rec, fmt.Errorf("voice: record: %w", ctx.Err())
	}
	p.cue(ctx, stopCue)
	slog.Debug("voice: recording finished", "reason", reason, "duration", rec.Clip.Duration(), "speech", speech)
	return rec, nil
}

// cue plays t synchronously. Playback errors are logged and otherwise
// ignored; a pet without speakers still works.
func (p *Pipeline) cue(ctx context.Context, t audio.Tone) {
	if p.cfg.DisableCues || p.sink == nil {
		return
	}
	f := p.cfg.PlaybackFormat
	if f.SampleRate <= 0 || f.Channels <= 0 {
		f = p.cfg.Format
	}
	if err := p.sink.Play(ctx, t.Render(f)); err != nil {
		slog.Debug("voice: cue playback failed", "frequency", t.Frequency, "err", err)
	}
}
