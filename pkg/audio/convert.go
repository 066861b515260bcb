package audio

import (
	"fmt"
	"log/slog"
)

// Convert returns c in the target format. A clip already in the target
// format is returned unchanged. Resampling happens before channel
// conversion so that stereo sources headed for mono output are resampled once
// per frame rather than per channel pair.
//
// Clips with an odd byte count are truncated to the last whole sample.
func Convert(c Clip, target Format) Clip {
	if len(c.Data)%BytesPerSample != 0 {
		slog.Warn("audio convert: odd byte count in PCM data, truncating", "bytes", len(c.Data), "format", c.Format)
		c.Data = c.Data[:len(c.Data)-1]
	}
	if c.Format == target || target.SampleRate <= 0 || target.Channels <= 0 {
		return c
	}

	pcm := c.Data
	if c.Format.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, c.Format.Channels, c.Format.SampleRate, target.SampleRate)
	}

	switch {
	case c.Format.Channels == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case c.Format.Channels == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
	case c.Format.Channels != target.Channels:
		slog.Warn("audio convert: unsupported channel conversion", "from", c.Format, "to", target)
		return Clip{Data: pcm, Format: Format{SampleRate: target.SampleRate, Channels: c.Format.Channels}}
	}

	return Clip{Data: pcm, Format: target}
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(sampleAt(pcm, i*2))
		r := int32(sampleAt(pcm, i*2+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate using linear interpolation. Invalid rates or equal
// rates return the input unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 {
		channels = 1
	}
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (channels * BytesPerSample)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*channels*BytesPerSample)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = idx
		}
		for ch := range channels {
			s0 := float64(sampleAt(pcm, idx*channels+ch))
			s1 := float64(sampleAt(pcm, next*channels+ch))
			putSample(out, i*channels+ch, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// sampleAt returns the n-th int16 sample of pcm.
func sampleAt(pcm []byte, n int) int16 {
	return int16(uint16(pcm[n*2]) | uint16(pcm[n*2+1])<<8)
}

// putSample stores s as the n-th int16 sample of pcm.
func putSample(pcm []byte, n int, s int16) {
	pcm[n*2] = byte(s)
	pcm[n*2+1] = byte(uint16(s) >> 8)
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	default:
		return int16(v)
	}
}

// formatString returns e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
