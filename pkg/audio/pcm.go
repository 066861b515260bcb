package audio

import (
	"math"
	"time"
)

// MeanAbs returns the mean absolute sample amplitude of pcm normalised to
// [0, 1]. It is the energy measure used for silence detection.
func MeanAbs(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		sum += math.Abs(float64(sampleAt(pcm, i)))
	}
	return sum / float64(n) / 32768.0
}

// RMS returns the root-mean-square amplitude of pcm in 16-bit units.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sampleAt(pcm, i))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// ToFloat32Mono converts interleaved 16-bit PCM to float32 samples in
// [-1, 1], averaging channels when there is more than one. A trailing partial
// frame is ignored.
func ToFloat32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (BytesPerSample * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += float32(sampleAt(pcm, i*channels+ch)) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Tone describes a short sine cue.
type Tone struct {
	Frequency float64
	Duration  time.Duration

	// Volume scales the amplitude, 0 to 1.
	Volume float64

	// Fade is the length of the linear fade-in and fade-out.
	Fade time.Duration
}

// Render synthesises the tone as PCM in format f. Every channel carries the
// same signal.
func (t Tone) Render(f Format) Clip {
	if f.SampleRate <= 0 {
		return Clip{Format: f}
	}
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	frames := int(int64(t.Duration) * int64(f.SampleRate) / int64(time.Second))
	fade := int(int64(t.Fade) * int64(f.SampleRate) / int64(time.Second))
	if fade*2 > frames {
		fade = frames / 2
	}

	out := make([]byte, frames*ch*BytesPerSample)
	for i := range frames {
		gain := t.Volume
		switch {
		case fade > 0 && i < fade:
			gain *= float64(i) / float64(fade)
		case fade > 0 && i >= frames-fade:
			gain *= float64(frames-1-i) / float64(fade)
		}
		v := gain * math.Sin(2*math.Pi*t.Frequency*float64(i)/float64(f.SampleRate))
		s := clamp16(int32(v * 32767))
		for c := range ch {
			putSample(out, i*ch+c, s)
		}
	}
	return Clip{Data: out, Format: Format{SampleRate: f.SampleRate, Channels: ch}}
}
