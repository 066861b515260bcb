package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNotWAV is returned by [DecodeWAV] for input that is not a RIFF/WAVE
// stream with 16-bit PCM data.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV stream")

const bitsPerSample = 16

// EncodeWAV wraps c in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(c Clip) []byte {
	ch := c.Format.Channels
	if ch <= 0 {
		ch = 1
	}
	byteRate := c.Format.SampleRate * ch * bitsPerSample / 8
	blockAlign := ch * bitsPerSample / 8
	dataSize := len(c.Data)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(ch))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(c.Format.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], c.Data)
	return buf
}

// DecodeWAV parses a RIFF/WAVE stream carrying 16-bit PCM. Unknown chunks
// are skipped. A data chunk whose declared size exceeds the input (as written
// by tools streaming to a pipe) is read to the end of the input.
func DecodeWAV(data []byte) (Clip, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return Clip{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
		pos     = 12
	)
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return Clip{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			if tag := binary.LittleEndian.Uint16(data[body : body+2]); tag != 1 && tag != 0xFFFE {
				return Clip{}, fmt.Errorf("%w: format tag %d", ErrNotWAV, tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != bitsPerSample {
				return Clip{}, fmt.Errorf("%w: %d bits per sample", ErrNotWAV, bits)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return Clip{}, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			end := body + size
			if size == 0 || end > len(data) || end < body {
				end = len(data)
			}
			pcm := data[body:end]
			pcm = pcm[:len(pcm)-len(pcm)%BytesPerSample]
			return Clip{Data: bytes.Clone(pcm), Format: f}, nil
		}

		next := body + size + size%2
		if next <= pos || size < 0 {
			break
		}
		pos = next
	}
	return Clip{}, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
