// Package audio holds the PCM plumbing shared by the voice pipeline: formats,
// capture and playback device contracts, and helpers for energy measurement,
// WAV framing, tone generation and format conversion.
//
// All PCM in this package is signed 16-bit little-endian, interleaved when
// there is more than one channel.
package audio

import "time"

// BytesPerSample is the size of one 16-bit PCM sample.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Mono16k is the capture format used for speech recognition.
var Mono16k = Format{SampleRate: 16000, Channels: 1}

// FrameSize returns the number of bytes per sample frame (all channels).
func (f Format) FrameSize() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return ch * BytesPerSample
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	frames := n / f.FrameSize()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Bytes returns the number of PCM bytes covering d.
func (f Format) Bytes(d time.Duration) int {
	frames := int(int64(d) * int64(f.SampleRate) / int64(time.Second))
	return frames * f.FrameSize()
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string { return formatString(f.SampleRate, f.Channels) }

// Frame is one chunk of captured PCM.
type Frame struct {
	Data []byte

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Clip is a complete piece of PCM audio with its format, such as a
// synthesized utterance or a recorded question.
type Clip struct {
	Data   []byte
	Format Format
}

// Duration returns the playback length of the clip.
func (c Clip) Duration() time.Duration { return c.Format.Duration(len(c.Data)) }

// Empty reports whether the clip carries no samples.
func (c Clip) Empty() bool { return len(c.Data) < BytesPerSample }
