// Package history persists the pet's conversation log: an append-only,
// capacity-bounded sequence of [Turn] records.
//
// The [Log] keeps the full sequence in memory and writes it back through a
// [Store] after every mutation. Reads fail soft: a missing, unreadable or
// malformed store yields an empty log rather than an error, and a failed write
// is logged but never surfaced, so a broken history file can never take down
// an interactive session.
//
// Turns are kept oldest first. [Log.Recent] returns them newest first for
// display.
package history

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// DefaultMaxTurns is the number of turns retained before the oldest ones
	// are evicted.
	DefaultMaxTurns = 100

	// DefaultReplyLimit is the maximum number of runes of an agent reply that
	// are kept in a [Turn].
	DefaultReplyLimit = 200

	// TimeLayout is the format of [Turn.Time].
	TimeLayout = "2006-01-02 15:04"
)

// Turn is one user-utterance/agent-reply exchange. A Turn is immutable once
// appended to a [Log].
type Turn struct {
	// Time is the local wall-clock time of the exchange, formatted with
	// [TimeLayout].
	Time string `json:"time"`

	// User is what the user typed or said.
	User string `json:"user"`

	// AI is the agent reply, truncated to the reply limit.
	AI string `json:"ai"`
}

// NewTurn builds a Turn stamped with now. reply is cut to [DefaultReplyLimit]
// runes.
func NewTurn(now time.Time, utterance, reply string) Turn {
	return Turn{
		Time: now.Format(TimeLayout),
		User: utterance,
		AI:   Truncate(reply, DefaultReplyLimit),
	}
}

// Truncate returns the first n runes of s. It never splits a multi-byte
// character.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Store is durable storage for a turn sequence. Implementations replace the
// whole stored sequence on every Save.
type Store interface {
	// Load returns the stored turns, oldest first. A store that has never been
	// written returns an empty slice and a nil error.
	Load(ctx context.Context) ([]Turn, error)

	// Save replaces the stored sequence with turns.
	Save(ctx context.Context, turns []Turn) error
}

// Option configures a [Log].
type Option func(*Log)

// WithMaxTurns overrides [DefaultMaxTurns]. Non-positive values are ignored.
func WithMaxTurns(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.max = n
		}
	}
}

// Log is the in-memory conversation log backed by a [Store].
//
// Log is safe for concurrent use. Appends are serialised by a mutex so that
// two overlapping turns can never interleave their read-modify-write cycles.
type Log struct {
	store Store
	max   int

	mu    sync.Mutex
	turns []Turn
}

// NewLog returns an empty Log persisting through store. Call [Log.Load] to
// populate it from the store.
func NewLog(store Store, opts ...Option) *Log {
	l := &Log{
		store: store,
		max:   DefaultMaxTurns,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads the stored turns into memory and returns a copy of them, oldest
// first. Any store error is logged and yields an empty log.
func (l *Log) Load(ctx context.Context) []Turn {
	turns, err := l.store.Load(ctx)
	if err != nil {
		slog.Warn("history: load failed, starting with an empty log", "err", err)
		turns = nil
	}
	if len(turns) > l.max {
		turns = turns[len(turns)-l.max:]
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = slices.Clone(turns)
	return slices.Clone(l.turns)
}

// Append adds t as the newest turn, evicts the oldest turns beyond the
// capacity, and writes the full sequence back to the store. A write failure is
// logged and swallowed.
func (l *Log) Append(ctx context.Context, t Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = append(l.turns, t)
	if over := len(l.turns) - l.max; over > 0 {
		l.turns = slices.Clone(l.turns[over:])
	}
	if err := l.store.Save(ctx, l.turns); err != nil {
		slog.Warn("history: save failed", "err", err, "turns", len(l.turns))
	}
}

// Clear removes every turn from memory and from the store.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = nil
	return l.store.Save(ctx, []Turn{})
}

// Turns returns a copy of the log, oldest first.
func (l *Log) Turns() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.turns)
}

// Recent returns a copy of the log, newest first.
func (l *Log) Recent() []Turn {
	out := l.Turns()
	slices.Reverse(out)
	return out
}

// Len returns the number of turns currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}
