package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned by [Run] when every entry in a [Chain] failed or
// was skipped.
var ErrAllFailed = errors.New("all attempts failed")

// Reason classifies the result of one attempt.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonTimeout     Reason = "timeout"
	ReasonCanceled    Reason = "canceled"
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonError       Reason = "error"
)

// Outcome records one attempt of a [Run].
type Outcome struct {
	Name     string
	Reason   Reason
	Err      error
	Duration time.Duration
}

// OK reports whether the attempt produced the result.
func (o Outcome) OK() bool { return o.Reason == ReasonOK }

func classify(err error) Reason {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrCircuitOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonError
	}
}

// ChainConfig configures a [Chain].
type ChainConfig struct {
	// CircuitBreaker, when non-nil, attaches a breaker with this configuration
	// to every entry. Nil disables breakers.
	CircuitBreaker *CircuitBreakerConfig
}

type chainEntry[T any] struct {
	name    string
	value   T
	timeout time.Duration
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable values (backends, synthesizers)
// tried one after another until one succeeds. The order of [Chain.Add] calls is
// the attempt order.
//
// Entries must be added before the chain is shared between goroutines.
type Chain[T any] struct {
	cfg     ChainConfig
	entries []chainEntry[T]
}

// NewChain returns an empty chain.
func NewChain[T any](cfg ChainConfig) *Chain[T] {
	return &Chain[T]{cfg: cfg}
}

// Add appends an entry. timeout bounds each attempt against it; zero means the
// attempt is bounded only by the caller's context.
func (c *Chain[T]) Add(name string, value T, timeout time.Duration) {
	var cb *CircuitBreaker
	if c.cfg.CircuitBreaker != nil {
		cbCfg := *c.cfg.CircuitBreaker
		cbCfg.Name = name
		cb = NewCircuitBreaker(cbCfg)
	}
	c.entries = append(c.entries, chainEntry[T]{name: name, value: value, timeout: timeout, breaker: cb})
}

// Len returns the number of entries.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Names returns the entry names in attempt order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Breaker returns the circuit breaker of the named entry, or nil when the
// entry does not exist or breakers are disabled.
func (c *Chain[T]) Breaker(name string) *CircuitBreaker {
	for _, e := range c.entries {
		if e.name == name {
			return e.breaker
		}
	}
	return nil
}

// Run tries fn against each entry of c in order and returns the first
// successful result together with the outcome of every attempt made. Later
// entries are never invoked once one succeeds.
//
// When every entry fails the returned error wraps [ErrAllFailed] and the last
// attempt error. A cancelled ctx stops the chain early.
func Run[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, []Outcome, error) {
	var (
		zero     R
		lastErr  error
		outcomes = make([]Outcome, 0, len(c.entries))
	)
	for i := range c.entries {
		if err := ctx.Err(); err != nil {
			return zero, outcomes, fmt.Errorf("%w: %w", ErrAllFailed, err)
		}

		entry := &c.entries[i]
		start := time.Now()

		var result R
		err := entry.breaker.Execute(func() error {
			attemptCtx, cancel := ctx, context.CancelFunc(func() {})
			if entry.timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, entry.timeout)
			}
			defer cancel()

			var innerErr error
			result, innerErr = fn(attemptCtx, entry.value)
			return innerErr
		})

		o := Outcome{Name: entry.name, Reason: classify(err), Err: err, Duration: time.Since(start)}
		outcomes = append(outcomes, o)
		if err == nil {
			return result, outcomes, nil
		}
		lastErr = err

		if o.Reason == ReasonCircuitOpen {
			slog.Debug("skipping attempt, circuit open", "attempt", entry.name)
		} else {
			slog.Warn("attempt failed, trying next", "attempt", entry.name, "reason", o.Reason, "err", err)
		}
	}
	if lastErr == nil {
		lastErr = errors.New("chain is empty")
	}
	return zero, outcomes, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
