// Package dispatch turns a user utterance into a classified reply.
//
// A [Dispatcher] composes a [backend.Prompt] from the persona instruction, the
// optional activity context and the utterance, then walks an ordered chain of
// backends: the remote agent first, local chat models after it. The first
// backend that answers wins. When all of them fail the result has mode
// [backend.ModeNone] and the fixed [UnreachableReply].
//
// Classification rules:
//
//   - the first backend in the chain reports its own mode (chat or agent);
//   - any later backend is a fallback: mode is always [backend.ModeFallback]
//     and actions are dropped;
//   - a [backend.PendingAction] survives only when the mode is agent and the
//     action carries code.
package dispatch

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/iopet/internal/observe"
	"github.com/MrWong99/iopet/internal/resilience"
	"github.com/MrWong99/iopet/pkg/backend"
)

// DefaultSystemPrompt is the persona instruction sent with every utterance.
const DefaultSystemPrompt = `You are Io, a cute desktop pet assistant connected to the LocalAgent system.
Your abilities: browser control, web search, reading and writing files, running commands, window control, OCR.
When the user asks for an operation, generate Python code that performs it.
Keep replies short (under 50 words), light and cute.`

// UnreachableReply is shown when no backend produced an answer.
const UnreachableReply = "Can't connect\nPlease make sure the service is running"

// Default per-attempt timeouts.
const (
	DefaultPrimaryTimeout  = 120 * time.Second
	DefaultFallbackTimeout = 30 * time.Second
)

// Result is the classified outcome of one [Dispatcher.Dispatch].
type Result struct {
	// Reply is the answer text, or [UnreachableReply] for [backend.ModeNone].
	Reply string

	// Mode classifies the reply.
	Mode backend.Mode

	// Action is non-nil only for agent replies that carry code.
	Action *backend.PendingAction

	// Backend names the backend that answered; empty for [backend.ModeNone].
	Backend string

	// Attempts lists every attempt made, in order.
	Attempts []resilience.Outcome
}

// Display returns the reply prefixed with its mode label, the form shown in
// the bubble.
func (r Result) Display() string {
	if label := r.Mode.Label(); label != "" {
		return label + " " + r.Reply
	}
	return r.Reply
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithSystemPrompt replaces [DefaultSystemPrompt].
func WithSystemPrompt(s string) Option {
	return func(d *Dispatcher) {
		if s != "" {
			d.system = s
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithCircuitBreaker attaches a circuit breaker with cfg to every backend
// added afterwards. Breakers are disabled by default.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(d *Dispatcher) { d.chainCfg.CircuitBreaker = &cfg }
}

// Dispatcher sends utterances through an ordered backend chain. Backends must
// be added before the first Dispatch; after that it is safe for concurrent
// use.
type Dispatcher struct {
	mu       sync.RWMutex
	system   string
	metrics  *observe.Metrics
	chainCfg resilience.ChainConfig
	chain    *resilience.Chain[backend.Backend]
}

// New returns a Dispatcher without backends.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{system: DefaultSystemPrompt}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.chain = resilience.NewChain[backend.Backend](d.chainCfg)
	return d
}

// Add appends b to the chain. The first backend added is the primary; every
// later one is a fallback. timeout bounds each attempt against b.
func (d *Dispatcher) Add(b backend.Backend, timeout time.Duration) {
	d.chain.Add(b.Name(), b, timeout)
}

// Backends returns the backend names in attempt order.
func (d *Dispatcher) Backends() []string { return d.chain.Names() }

// Breaker returns the circuit breaker of the named backend, or nil.
func (d *Dispatcher) Breaker(name string) *resilience.CircuitBreaker {
	return d.chain.Breaker(name)
}

// SetSystemPrompt replaces the persona instruction for later dispatches. An
// empty s restores [DefaultSystemPrompt].
func (d *Dispatcher) SetSystemPrompt(s string) {
	if s == "" {
		s = DefaultSystemPrompt
	}
	d.mu.Lock()
	d.system = s
	d.mu.Unlock()
}

// SystemPrompt returns the current persona instruction.
func (d *Dispatcher) SystemPrompt() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.system
}

// Prompt composes the prompt sent for utterance with the given activity
// context.
func (d *Dispatcher) Prompt(utterance, activity string) backend.Prompt {
	return backend.Prompt{System: d.SystemPrompt(), Context: activity, Utterance: utterance}
}

// Dispatch runs the backend chain for utterance and classifies the answer. It
// never fails: exhaustion of the chain is reported as [backend.ModeNone].
func (d *Dispatcher) Dispatch(ctx context.Context, utterance, activity string) Result {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "dispatch",
		trace.WithAttributes(
			attribute.Int("utterance.length", len([]rune(utterance))),
			attribute.Bool("context.present", activity != ""),
		),
	)
	defer span.End()

	prompt := d.Prompt(utterance, activity)
	reply, outcomes, err := resilience.Run(ctx, d.chain, func(ctx context.Context, b backend.Backend) (backend.Reply, error) {
		return d.attempt(ctx, b, prompt)
	})

	res := Result{Attempts: outcomes}
	if err != nil {
		res.Reply = UnreachableReply
		res.Mode = backend.ModeNone
		observe.FailSpan(span, err, "all backends failed")
		observe.Logger(ctx).Warn("dispatch: no backend answered", "attempts", len(outcomes), "err", err)
	} else {
		winner := outcomes[len(outcomes)-1]
		res = classify(reply, len(outcomes)-1 > 0)
		res.Backend = winner.Name
		res.Attempts = outcomes
	}

	span.SetAttributes(
		attribute.String("dispatch.mode", string(res.Mode)),
		attribute.String("dispatch.backend", res.Backend),
		attribute.Bool("dispatch.action", res.Action != nil),
	)
	d.metrics.DispatchDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("mode", string(res.Mode))))
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, b backend.Backend, p backend.Prompt) (backend.Reply, error) {
	name := b.Name()
	ctx, span := observe.StartSpan(ctx, "dispatch.attempt",
		trace.WithAttributes(attribute.String("backend", name)))
	defer span.End()

	start := time.Now()
	r, err := b.Ask(ctx, p)
	if err == nil && strings.TrimSpace(r.Text) == "" {
		err = backend.ErrEmptyReply
	}

	status := "ok"
	if err != nil {
		status = "error"
		observe.FailSpan(span, err, "")
		d.metrics.RecordProviderError(ctx, name, "chat")
	}
	d.metrics.RecordProviderRequest(ctx, name, "chat", status)
	d.metrics.AttemptDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("backend", name), attribute.String("status", status)))
	return r, err
}

// classify applies the mode and action rules to a successful reply.
func classify(r backend.Reply, fallback bool) Result {
	res := Result{Reply: strings.TrimSpace(r.Text), Mode: r.Mode}
	switch {
	case fallback:
		res.Mode = backend.ModeFallback
	case res.Mode != backend.ModeAgent:
		res.Mode = backend.ModeChat
	}
	if res.Mode == backend.ModeAgent && !r.Action.Empty() {
		a := *r.Action
		res.Action = &a
	}
	return res
}
