// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for unit tests.
//
// All mocks are safe for concurrent use and record every call.
//
// Typical usage:
//
//	src := &mock.Source{Frames: []audio.Frame{{Data: speech}, {Data: silence}}}
//	sink := &mock.Sink{}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/iopet/pkg/audio"
)

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)

// Source is a mock [audio.Source]. Each Open returns a stream that emits
// Frames in order, one every Interval, and then either ends or, when Hold is
// set, stays open until closed.
type Source struct {
	mu sync.Mutex

	// Frames are emitted by every stream opened from this source.
	Frames []audio.Frame

	// Interval is the delay before each frame. Zero emits as fast as the
	// consumer reads.
	Interval time.Duration

	// Hold keeps the stream open after the last frame until Close.
	Hold bool

	// StreamErr is reported by Stream.Err after the frames are exhausted.
	StreamErr error

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the format of each Open call.
	OpenCalls []audio.Format
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	s.mu.Lock()
	s.OpenCalls = append(s.OpenCalls, f)
	frames, interval, hold, streamErr, openErr := s.Frames, s.Interval, s.Hold, s.StreamErr, s.OpenErr
	s.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}

	st := &Stream{ch: make(chan audio.Frame), done: make(chan struct{})}
	go st.run(ctx, frames, interval, hold, streamErr)
	return st, nil
}

// Opens returns the number of Open calls.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// Stream is the [audio.Stream] returned by [Source.Open].
type Stream struct {
	ch   chan audio.Frame
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

func (st *Stream) run(ctx context.Context, frames []audio.Frame, interval time.Duration, hold bool, streamErr error) {
	defer close(st.ch)
	for _, fr := range frames {
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-st.done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case st.ch <- fr:
		case <-st.done:
			return
		case <-ctx.Done():
			return
		}
	}
	if hold {
		select {
		case <-st.done:
		case <-ctx.Done():
		}
		return
	}
	st.mu.Lock()
	st.err = streamErr
	st.mu.Unlock()
}

// Frames implements [audio.Stream].
func (st *Stream) Frames() <-chan audio.Frame { return st.ch }

// Err implements [audio.Stream].
func (st *Stream) Err() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

// Close implements [audio.Stream].
func (st *Stream) Close() error {
	st.once.Do(func() { close(st.done) })
	return nil
}

// Sink is a mock [audio.Sink] that records every played clip.
type Sink struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by Play.
	PlayErr error

	// Played records every clip passed to Play, including failed ones.
	Played []audio.Clip
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, c audio.Clip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Played = append(s.Played, c)
	return s.PlayErr
}

// Clips returns a snapshot of the played clips.
func (s *Sink) Clips() []audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.Clip, len(s.Played))
	copy(out, s.Played)
	return out
}
