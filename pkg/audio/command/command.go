// Package command implements [audio.Source] and [audio.Sink] on top of
// external command-line tools that stream raw PCM over stdin/stdout, such as
// ALSA's arecord/aplay or SoX.
//
// Argument templates may contain the placeholders {rate} and {channels},
// which are replaced with the stream format before each invocation.
//
//	rec, err := command.NewRecorder("arecord", nil)
//	stream, err := rec.Open(ctx, audio.Mono16k)
//	for f := range stream.Frames() { … }
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/iopet/pkg/audio"
)

var (
	_ audio.Source = (*Recorder)(nil)
	_ audio.Sink   = (*Player)(nil)
)

// Default argument templates for the ALSA tools.
var (
	ArecordArgs = []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	AplayArgs   = []string{"-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
)

// chunkDuration is the amount of audio delivered per frame.
const chunkDuration = 100 * time.Millisecond

// expand substitutes the format placeholders in args.
func expand(args []string, f audio.Format) []string {
	r := strings.NewReplacer(
		"{rate}", strconv.Itoa(f.SampleRate),
		"{channels}", strconv.Itoa(f.Channels),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// resolve finds bin on PATH and returns its full path.
func resolve(bin string) (string, error) {
	path, err := exec.LookPath(bin)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", audio.ErrUnavailable, bin, err)
	}
	return path, nil
}

// Recorder captures audio by running a command that writes raw PCM to
// stdout.
type Recorder struct {
	path string
	args []string
}

// NewRecorder resolves bin on PATH. A nil args uses [ArecordArgs]. The
// returned error wraps [audio.ErrUnavailable] when bin is not installed.
func NewRecorder(bin string, args []string) (*Recorder, error) {
	path, err := resolve(bin)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = ArecordArgs
	}
	return &Recorder{path: path, args: args}, nil
}

// Open implements [audio.Source].
func (r *Recorder) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, r.path, expand(r.args, f)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("command recorder: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("command recorder: start %s: %w", r.path, err)
	}

	s := &stream{
		frames: make(chan audio.Frame, 8),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go s.read(cmd, stdout, &stderr, f)
	return s, nil
}

type stream struct {
	frames chan audio.Frame
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *stream) read(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, f audio.Format) {
	defer close(s.frames)

	chunk := f.Bytes(chunkDuration)
	if chunk <= 0 {
		chunk = 3200
	}
	var captured time.Duration
	for {
		buf := make([]byte, chunk)
		n, readErr := io.ReadFull(stdout, buf)
		if n > 0 {
			n -= n % audio.BytesPerSample
			select {
			case s.frames <- audio.Frame{Data: buf[:n], Timestamp: captured}:
			case <-s.done:
			}
			captured += f.Duration(n)
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if waitErr != nil {
		s.err = fmt.Errorf("command recorder: %w: %s", waitErr, strings.TrimSpace(stderr.String()))
		return
	}
	s.err = errors.New("command recorder: capture ended unexpectedly")
}

func (s *stream) Frames() <-chan audio.Frame { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the capture process. Frames read after Close are discarded.
func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	s.cancel()
	return nil
}

// Player plays audio by piping raw PCM into a command's stdin.
type Player struct {
	path string
	args []string
}

// NewPlayer resolves bin on PATH. A nil args uses [AplayArgs].
func NewPlayer(bin string, args []string) (*Player, error) {
	path, err := resolve(bin)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = AplayArgs
	}
	return &Player{path: path, args: args}, nil
}

// Play implements [audio.Sink].
func (p *Player) Play(ctx context.Context, c audio.Clip) error {
	if c.Empty() {
		return nil
	}
	cmd := exec.CommandContext(ctx, p.path, expand(p.args, c.Format)...)
	cmd.Stdin = bytes.NewReader(c.Data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command player: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	slog.Debug("command player: played clip", "duration", c.Duration(), "elapsed", time.Since(start))
	return nil
}
