package audio

import (
	"context"
	"errors"
)

// ErrUnavailable is returned by device constructors when the backing tool or
// hardware is missing on this machine.
var ErrUnavailable = errors.New("audio: device unavailable")

// Source opens capture streams, e.g. a microphone.
type Source interface {
	// Open starts capturing in format f. Capture runs until the stream is
	// closed or ctx is cancelled.
	Open(ctx context.Context, f Format) (Stream, error)
}

// Stream is an open capture stream.
//
// Frames is closed when capture ends for any reason; Err then reports why, or
// nil after a regular Close.
type Stream interface {
	Frames() <-chan Frame
	Err() error
	Close() error
}

// Sink plays audio, e.g. through the default speaker.
type Sink interface {
	// Play blocks until c has been played or ctx is cancelled.
	Play(ctx context.Context, c Clip) error
}
