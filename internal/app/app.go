// Package app wires all iopet subsystems into a running pet.
//
// New builds every subsystem from the config, Run drives the background
// loops next to the presentation, and Shutdown joins outstanding workers and
// releases resources in order.
//
// For testing, inject doubles via functional options (WithHistoryStore,
// WithAudio, etc.). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/iopet/internal/activity"
	"github.com/MrWong99/iopet/internal/config"
	"github.com/MrWong99/iopet/internal/dispatch"
	"github.com/MrWong99/iopet/internal/health"
	"github.com/MrWong99/iopet/internal/observe"
	"github.com/MrWong99/iopet/internal/pet"
	"github.com/MrWong99/iopet/internal/resilience"
	"github.com/MrWong99/iopet/internal/voice"
	"github.com/MrWong99/iopet/pkg/audio"
	audiocmd "github.com/MrWong99/iopet/pkg/audio/command"
	"github.com/MrWong99/iopet/pkg/backend/agent"
	"github.com/MrWong99/iopet/pkg/history"
	"github.com/MrWong99/iopet/pkg/history/postgres"
	"github.com/MrWong99/iopet/pkg/provider/tts"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Frontend is the presentation. It runs until the user quits or ctx is
// done; its return ends [App.Run].
type Frontend func(ctx context.Context) error

// App owns all subsystem lifetimes.
type App struct {
	cfg        *config.Config
	configPath string
	level      *slog.LevelVar
	metrics    *observe.Metrics

	agent      *agent.Client
	dispatcher *dispatch.Dispatcher
	store      history.Store
	log        *history.Log
	voice      *voice.Pipeline
	poller     *activity.Poller
	pet        *pet.Controller
	health     *health.Handler

	source audio.Source
	sink   audio.Sink

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithAudio injects capture and playback devices instead of running the
// configured recorder and player commands. Either may be nil.
func WithAudio(src audio.Source, sink audio.Sink) Option {
	return func(a *App) {
		a.source = src
		a.sink = sink
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevel hands the logger's level to the app so that a config reload can
// change it.
func WithLevel(l *slog.LevelVar) Option {
	return func(a *App) { a.level = l }
}

// WithConfigPath enables hot reload of the file at path while running.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Providers are
// created through reg, which must have the built-in factories registered
// (see [RegisterBuiltinProviders]).
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Conversation log ──────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Agent + dispatcher ────────────────────────────────────────────
	if err := a.initDispatcher(reg); err != nil {
		return nil, fmt.Errorf("app: init dispatcher: %w", err)
	}

	// ── 3. Voice pipeline ────────────────────────────────────────────────
	if err := a.initVoice(reg); err != nil {
		return nil, fmt.Errorf("app: init voice: %w", err)
	}

	// ── 4. Activity poller ───────────────────────────────────────────────
	a.poller = activity.NewPoller(a.agent, activity.WithInterval(cfg.Agent.PollInterval))

	// ── 5. Interaction controller ────────────────────────────────────────
	a.pet = pet.New(a.dispatcher, a.log, pet.Config{
		RecordUnreachable: cfg.History.RecordsUnreachable(),
		SpeakReplies:      !cfg.Voice.Mute,
		ExecuteTimeout:    cfg.Agent.ExecuteTimeout,
	},
		pet.WithVoice(a.voice),
		pet.WithExecutor(a.agent),
		pet.WithActivity(a.poller),
		pet.WithMetrics(a.metrics),
	)

	// ── 6. Health ────────────────────────────────────────────────────────
	a.initHealth()

	slog.Info("pet ready",
		"backends", a.dispatcher.Backends(),
		"history_turns", a.log.Len(),
		"voice_input", a.voice.Available(),
		"voice_output", a.voice.CanSpeak(),
	)
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initHistory opens the configured store and loads the log.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.History.PostgresDSN; dsn != "" {
			store, err := postgres.NewStore(ctx, dsn)
			if err != nil {
				return err
			}
			a.store = store
			a.closers = append(a.closers, func() error {
				store.Close()
				return nil
			})
		} else {
			a.store = history.NewFileStore(a.cfg.History.Path)
		}
	}
	a.log = history.NewLog(a.store, history.WithMaxTurns(a.cfg.History.MaxTurns))
	a.log.Load(ctx)
	return nil
}

// initDispatcher builds the agent client and the backend chain: the agent
// first, then every configured fallback in order.
func (a *App) initDispatcher(reg *config.Registry) error {
	ac := a.cfg.Agent
	a.agent = agent.New(ac.BaseURL,
		agent.WithExecuteTimeout(ac.ExecuteTimeout),
		agent.WithContextTimeout(ac.ContextTimeout),
	)

	opts := []dispatch.Option{
		dispatch.WithSystemPrompt(a.cfg.Persona.SystemPrompt),
		dispatch.WithMetrics(a.metrics),
	}
	if ac.CircuitBreaker.MaxFailures > 0 {
		opts = append(opts, dispatch.WithCircuitBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  ac.CircuitBreaker.MaxFailures,
			ResetTimeout: ac.CircuitBreaker.ResetTimeout,
		}))
	}
	a.dispatcher = dispatch.New(opts...)
	a.dispatcher.Add(a.agent, ac.Timeout)

	for _, entry := range a.cfg.Providers.Fallbacks {
		b, err := buildFallback(reg, entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", "fallback", "name", entry.Name)
			continue
		}
		if err != nil {
			return fmt.Errorf("create fallback %q: %w", entry.Name, err)
		}
		a.dispatcher.Add(b, entry.Timeout)
		slog.Info("provider created", "kind", "fallback", "name", b.Name())
	}
	return nil
}

// initVoice builds the pipeline. Missing devices or providers disable the
// matching capability instead of failing start-up.
func (a *App) initVoice(reg *config.Registry) error {
	vc := a.cfg.Voice

	if a.source == nil && !vc.DisableInput {
		rec, err := audiocmd.NewRecorder(vc.Recorder.Command, vc.Recorder.Args)
		if err != nil {
			slog.Warn("voice input disabled: recorder unavailable", "err", err)
		} else {
			a.source = rec
		}
	}
	if a.sink == nil {
		pl, err := audiocmd.NewPlayer(vc.Player.Command, vc.Player.Args)
		if err != nil {
			slog.Warn("voice output disabled: player unavailable", "err", err)
		} else {
			a.sink = pl
		}
	}

	opts := []voice.Option{voice.WithMetrics(a.metrics)}
	if a.source != nil && !vc.DisableInput {
		opts = append(opts, voice.WithSource(a.source))
	}
	if a.sink != nil {
		opts = append(opts, voice.WithSink(a.sink))
	}

	if !vc.DisableInput {
		stt, err := buildTranscriber(reg, a.cfg.Providers.STT)
		if err != nil {
			return err
		}
		if stt != nil {
			opts = append(opts, voice.WithTranscriber(stt))
			if c := closeIfCloser(stt); c != nil {
				a.closers = append(a.closers, c)
			}
		}
	}

	synths, err := buildSynthesizers(reg, a.cfg.Providers.TTS)
	if err != nil {
		return err
	}
	if len(synths) > 0 {
		chain := resilience.NewTTSFallback(resilience.ChainConfig{})
		for _, s := range synths {
			chain.Add(s.name, s.provider, s.timeout)
		}
		opts = append(opts, voice.WithSynthesizer(chain))
	}
	opts = append(opts, voice.WithVoices(tts.NewVoiceMap(vc.Voices, vc.FallbackVoice)))

	cfg := voice.Config{
		SilenceThreshold: vc.SilenceThreshold,
		SilenceDuration:  vc.SilenceDuration,
		MaxDuration:      vc.MaxDuration,
		Language:         vc.Language,
		DisableCues:      vc.DisableCues,
	}
	if vc.PlaybackRate > 0 {
		cfg.PlaybackFormat = audio.Format{SampleRate: vc.PlaybackRate, Channels: 1}
	}
	a.voice = voice.New(cfg, opts...)
	return nil
}

// initHealth registers the readiness checks. The agent is optional: the
// pet keeps answering through its fallbacks while it is down.
func (a *App) initHealth() {
	checks := []health.Checker{
		{Name: "agent", Check: a.agent.Ping, Optional: true},
	}
	if p, ok := a.store.(interface{ Ping(context.Context) error }); ok {
		checks = append(checks, health.Checker{Name: "history", Check: p.Ping})
	}
	a.health = health.New(checks...).WithStatus(a.Status)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the interaction controller the frontend drives.
func (a *App) Controller() *pet.Controller { return a.pet }

// History returns the conversation log.
func (a *App) History() *history.Log { return a.log }

// Dispatcher returns the backend dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Voice returns the voice pipeline.
func (a *App) Voice() *voice.Pipeline { return a.voice }

// Handler returns the HTTP handler serving health and metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	return observe.Middleware(a.metrics)(mux)
}

// Snapshot is the JSON document served on /statusz.
type Snapshot struct {
	State       string   `json:"state"`
	Busy        bool     `json:"busy"`
	Pending     bool     `json:"pending_action"`
	VoiceInput  bool     `json:"voice_input"`
	VoiceOutput bool     `json:"voice_output"`
	Backends    []string `json:"backends"`
	Activity    string   `json:"activity,omitempty"`
	Turns       int      `json:"turns"`
}

// Status returns a snapshot of the running pet.
func (a *App) Status() any {
	return Snapshot{
		State:       a.pet.State().String(),
		Busy:        a.pet.Busy(),
		Pending:     a.pet.Pending() != nil,
		VoiceInput:  a.pet.VoiceInput(),
		VoiceOutput: a.pet.VoiceOutput(),
		Backends:    a.dispatcher.Backends(),
		Activity:    a.poller.Describe(),
		Turns:       a.log.Len(),
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the activity poller, the optional health/metrics listener and
// the config watcher next to front, and blocks until front returns or ctx
// is done. Quitting the frontend cancels everything else.
func (a *App) Run(ctx context.Context, front Frontend) error {
	var ln net.Listener
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		var err error
		if ln, err = net.Listen("tcp", addr); err != nil {
			return fmt.Errorf("app: listen %q: %w", addr, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.poller.Run(gctx) })

	if ln != nil {
		g.Go(func() error { return a.serve(gctx, ln) })
	}

	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", a.configPath, "err", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	g.Go(func() error {
		defer cancel()
		return front(gctx)
	})

	slog.Info("pet running")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
	}()
	slog.Info("health and metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("app: serve: %w", err)
	}
	return nil
}

// Reload applies the settings that can change without a restart and warns
// about the rest.
func (a *App) Reload(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
		slog.Info("config reload: log level", "level", d.NewLogLevel)
	}
	if d.MuteChanged {
		a.pet.SetVoiceOutput(!d.NewMute)
	}
	if d.SystemPromptChanged {
		a.dispatcher.SetSystemPrompt(d.NewSystemPrompt)
		slog.Info("config reload: system prompt updated")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config reload: changes need a restart", "sections", d.RestartRequired)
	}
	a.cfg = updated
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the controller, waits for in-flight workers and speech, and
// runs the closers in order. It respects the context deadline: if ctx
// expires first, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.pet.Close()
		done := make(chan struct{})
		go func() {
			a.pet.Wait()
			a.voice.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded while waiting for workers")
			shutdownErr = ctx.Err()
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
