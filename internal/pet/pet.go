// Package pet implements the interaction controller: the state machine that
// turns typed or spoken input into dispatched turns, persists them, and
// gates agent actions behind explicit confirmation.
//
// Every user action runs on its own goroutine. Results reach the
// presentation only through [Controller.Events], a single-consumer channel,
// so the presentation never reads controller internals.
package pet

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/iopet/internal/dispatch"
	"github.com/MrWong99/iopet/internal/observe"
	"github.com/MrWong99/iopet/pkg/backend"
	"github.com/MrWong99/iopet/pkg/history"
)

// User-facing messages.
const (
	MsgThinking     = "Thinking..."
	MsgRecording    = "Recording..."
	MsgTranscribing = "Transcribing..."
	MsgExecuting    = "Executing..."
	MsgNotHeard     = "Didn't catch that, say it again?"
	MsgExecFailed   = "Execution failed"
	MsgCanceled     = "[Agent] Execution cancelled"

	// MsgExecutedPrefix precedes the output of a successful execution.
	MsgExecutedPrefix = "[Agent] Execution finished:\n"

	// MsgExecErrorPrefix precedes the truncated error of an execution that
	// never got a response.
	MsgExecErrorPrefix = "Execution error: "

	SpeechConfirm  = "I want to run some code, please confirm"
	SpeechExecuted = "Execution finished"
)

const (
	previewLimit          = 100
	execErrorLimit        = 50
	defaultEventBuffer    = 32
	defaultExecuteTimeout = 120 * time.Second
)

var (
	// ErrBusy is returned when an action is requested while another worker
	// is still in flight.
	ErrBusy = errors.New("pet: busy")

	// ErrNothingPending is returned by Confirm and Cancel when no action is
	// awaiting confirmation.
	ErrNothingPending = errors.New("pet: no pending action")

	// ErrVoiceUnavailable is returned by ToggleVoice when voice input is not
	// available.
	ErrVoiceUnavailable = errors.New("pet: voice input unavailable")
)

// Dispatcher answers an utterance. *dispatch.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, utterance, activity string) dispatch.Result
}

// Voice is the speech front end. *voice.Pipeline implements it.
type Voice interface {
	Available() bool
	CanSpeak() bool
	Listen(ctx context.Context) string
	ArmRecording()
	StopRecording()
	SpeakAsync(text string)
	Wait()
}

// ActivitySource describes what the user is doing. *activity.Poller
// implements it.
type ActivitySource interface {
	Describe() string
}

// Event is one update for the presentation.
type Event struct {
	Kind EventKind

	// State is the controller state after the event.
	State State

	// Text is what the presentation shows.
	Text string

	// Mode is set for [EventReply] and [EventConfirm].
	Mode backend.Mode

	// Action is the pending action for [EventConfirm].
	Action *backend.PendingAction
}

// Config holds controller settings.
type Config struct {
	// RecordUnreachable persists turns for which no backend answered.
	RecordUnreachable bool

	// SpeakReplies enables spoken replies at start-up. It can be toggled
	// with [Controller.SetVoiceOutput].
	SpeakReplies bool

	// ExecuteTimeout bounds a confirmed execution. Defaults to 120s.
	ExecuteTimeout time.Duration

	// EventBuffer is the capacity of the event channel. Defaults to 32.
	EventBuffer int
}

// Option configures a [Controller].
type Option func(*Controller)

// WithVoice sets the speech front end.
func WithVoice(v Voice) Option { return func(c *Controller) { c.voice = v } }

// WithExecutor sets the executor used for confirmed actions.
func WithExecutor(e backend.Executor) Option { return func(c *Controller) { c.executor = e } }

// WithActivity sets the activity source whose description is added to each
// prompt.
func WithActivity(a ActivitySource) Option { return func(c *Controller) { c.activity = a } }

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(c *Controller) { c.metrics = m } }

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// Controller is the interaction state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg        Config
	dispatcher Dispatcher
	log        *history.Log
	voice      Voice
	executor   backend.Executor
	activity   ActivitySource
	metrics    *observe.Metrics
	now        func() time.Time

	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	busy        bool
	pending     *backend.PendingAction
	voiceOutput bool
}

// New creates a Controller that dispatches through d and records turns in
// log.
func New(d Dispatcher, log *history.Log, cfg Config, opts ...Option) *Controller {
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = defaultExecuteTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	c := &Controller{
		cfg:         cfg,
		dispatcher:  d,
		log:         log,
		now:         time.Now,
		events:      make(chan Event, cfg.EventBuffer),
		done:        make(chan struct{}),
		voiceOutput: cfg.SpeakReplies,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Events returns the channel on which every result is delivered. It has a
// single consumer.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a worker is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// Pending returns a copy of the action awaiting confirmation, or nil.
func (c *Controller) Pending() *backend.PendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	a := *c.pending
	return &a
}

// VoiceInput reports whether [Controller.ToggleVoice] can record.
func (c *Controller) VoiceInput() bool { return c.voice != nil && c.voice.Available() }

// VoiceOutput reports whether replies are spoken.
func (c *Controller) VoiceOutput() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voiceOutput && c.voice != nil && c.voice.CanSpeak()
}

// SetVoiceOutput turns spoken replies on or off.
func (c *Controller) SetVoiceOutput(on bool) {
	c.mu.Lock()
	c.voiceOutput = on
	c.mu.Unlock()
	slog.Info("pet: voice output", "enabled", on)
}

// Submit dispatches text as a new turn. Blank text is ignored. A pending
// action that was neither confirmed nor cancelled is discarded.
func (c *Controller) Submit(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	c.pending = nil
	c.state = Composing
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.turn(context.Background(), text)
	}()
	return nil
}

// ToggleVoice starts a recording, or stops the running one. A non-empty
// transcript is dispatched exactly like [Controller.Submit]; an empty one
// returns to [Idle] with a notice.
func (c *Controller) ToggleVoice() error {
	c.mu.Lock()
	if c.state == Listening {
		c.mu.Unlock()
		c.post(Event{Kind: EventStatus, State: Listening, Text: MsgTranscribing})
		c.voice.StopRecording()
		return nil
	}
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.voice == nil || !c.voice.Available() {
		c.mu.Unlock()
		return ErrVoiceUnavailable
	}
	c.voice.ArmRecording()
	c.busy = true
	c.pending = nil
	c.state = Listening
	c.mu.Unlock()

	c.post(Event{Kind: EventStatus, State: Listening, Text: MsgRecording})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.listen(context.Background())
	}()
	return nil
}

// Confirm runs the pending action. The action is cleared afterwards whatever
// the outcome.
func (c *Controller) Confirm() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != AwaitingConfirmation || c.pending == nil {
		c.mu.Unlock()
		return ErrNothingPending
	}
	action := *c.pending
	c.busy = true
	c.mu.Unlock()

	c.post(Event{Kind: EventStatus, State: AwaitingConfirmation, Text: MsgExecuting})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.execute(context.Background(), action)
	}()
	return nil
}

// Cancel discards the pending action without contacting any backend.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != AwaitingConfirmation || c.pending == nil {
		c.mu.Unlock()
		return ErrNothingPending
	}
	c.pending = nil
	c.state = Idle
	c.mu.Unlock()

	c.post(Event{Kind: EventCanceled, State: Idle, Text: MsgCanceled})
	return nil
}

// Wait blocks until the in-flight worker and any reply still being spoken
// have finished.
func (c *Controller) Wait() {
	c.wg.Wait()
	if c.voice != nil {
		c.voice.Wait()
	}
}

// Close unblocks workers waiting to deliver events. Events produced after
// Close are dropped.
func (c *Controller) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Controller) listen(ctx context.Context) {
	text := strings.TrimSpace(c.voice.Listen(ctx))
	if text == "" {
		c.mu.Lock()
		c.busy = false
		c.state = Idle
		c.mu.Unlock()
		c.emit(Event{Kind: EventNotice, State: Idle, Text: MsgNotHeard})
		return
	}

	c.mu.Lock()
	c.state = Composing
	c.mu.Unlock()
	c.emit(Event{Kind: EventTranscript, State: Composing, Text: text})
	c.turn(ctx, text)
}

// turn dispatches text and publishes the classified result. The caller has
// already marked the controller busy.
func (c *Controller) turn(ctx context.Context, text string) {
	defer c.metrics.TrackWorker(ctx, "dispatch")()

	c.setState(Dispatching)
	c.emit(Event{Kind: EventStatus, State: Dispatching, Text: MsgThinking})

	var activity string
	if c.activity != nil {
		activity = c.activity.Describe()
	}
	res := c.dispatcher.Dispatch(ctx, text, activity)
	c.metrics.RecordTurn(ctx, string(res.Mode))

	if res.Mode != backend.ModeNone || c.cfg.RecordUnreachable {
		c.log.Append(ctx, history.NewTurn(c.now(), text, res.Reply))
	}
	slog.Info("pet: turn finished", "mode", res.Mode, "backend", res.Backend, "attempts", len(res.Attempts))

	var ev Event
	var speech string
	c.mu.Lock()
	c.busy = false
	if res.Action != nil {
		a := *res.Action
		c.pending = &a
		c.state = AwaitingConfirmation
		ev = Event{Kind: EventConfirm, State: AwaitingConfirmation, Text: confirmText(res), Mode: res.Mode, Action: &a}
		speech = SpeechConfirm
	} else {
		c.state = Displaying
		ev = Event{Kind: EventReply, State: Displaying, Text: res.Display(), Mode: res.Mode}
		if res.Mode != backend.ModeNone {
			speech = res.Reply
		}
	}
	c.mu.Unlock()

	c.emit(ev)
	c.speak(speech)
}

func (c *Controller) execute(ctx context.Context, action backend.PendingAction) {
	defer c.metrics.TrackWorker(ctx, "execute")()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ExecuteTimeout)
	defer cancel()

	start := time.Now()
	var (
		out    string
		err    error
		status = "ok"
		text   string
	)
	if c.executor == nil {
		err = errors.New("no executor configured")
	} else {
		out, err = c.executor.Execute(ctx, action)
	}

	var statusErr *backend.StatusError
	switch {
	case err == nil:
		text = MsgExecutedPrefix + out
	case errors.As(err, &statusErr):
		status = "failed"
		text = MsgExecFailed
	default:
		status = "error"
		text = MsgExecErrorPrefix + history.Truncate(err.Error(), execErrorLimit)
	}
	c.metrics.RecordExecution(ctx, status, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("pet: execution failed", "language", action.Language, "err", err)
	}

	c.mu.Lock()
	c.pending = nil
	c.busy = false
	c.state = Displaying
	c.mu.Unlock()

	c.emit(Event{Kind: EventExecuted, State: Displaying, Text: text, Mode: backend.ModeAgent})
	c.speak(SpeechExecuted)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) speak(text string) {
	if text == "" || !c.VoiceOutput() {
		return
	}
	c.voice.SpeakAsync(text)
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// post is emit for the public methods, which run on the consumer's
// goroutine and must not wait for it. An event that does not fit the buffer
// is handed to a tracked goroutine.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
		return
	case <-c.done:
		return
	default:
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.emit(ev)
	}()
}

// confirmText renders an agent reply together with a preview of the code it
// wants to run.
func confirmText(res dispatch.Result) string {
	preview := history.Truncate(res.Action.Code, previewLimit)
	if preview != res.Action.Code {
		preview += "..."
	}
	return res.Display() + "\n\nCode to run:\n" + preview
}
