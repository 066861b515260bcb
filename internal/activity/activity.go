// Package activity tracks what the user is doing on the desktop so replies
// can take it into account.
//
// A [Poller] asks the agent service for the foreground application every few
// seconds. Failures are ignored and the last known value is kept, so a
// stopped service only freezes the context instead of clearing it.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/iopet/pkg/backend/agent"
	"github.com/MrWong99/iopet/pkg/history"
)

// DefaultInterval is the time between two polls.
const DefaultInterval = 3 * time.Second

// maxTitle is the number of title runes kept in [Describe].
const maxTitle = 50

// Source reports the current foreground activity.
type Source interface {
	Activity(ctx context.Context) (agent.Activity, error)
}

// Option configures a [Poller].
type Option func(*Poller)

// WithInterval overrides [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// Poller keeps the most recent activity reported by a [Source]. It is safe
// for concurrent use.
type Poller struct {
	source   Source
	interval time.Duration

	mu      sync.RWMutex
	current agent.Activity
}

// NewPoller returns a Poller over source. It holds no activity until the
// first successful poll.
func NewPoller(source Source, opts ...Option) *Poller {
	p := &Poller{source: source, interval: DefaultInterval}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls immediately and then every interval until ctx is done. It always
// returns nil so that it can run inside an errgroup without ending the group.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.Poll(ctx)
		}
	}
}

// Poll queries the source once and reports whether the activity was updated.
func (p *Poller) Poll(ctx context.Context) bool {
	a, err := p.source.Activity(ctx)
	if err != nil {
		slog.Debug("activity: poll failed, keeping last value", "err", err)
		return false
	}
	p.mu.Lock()
	p.current = a
	p.mu.Unlock()
	return true
}

// Current returns the last known activity.
func (p *Poller) Current() agent.Activity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Describe renders the last known activity as a context sentence for the
// prompt, or "" when nothing is known.
func (p *Poller) Describe() string {
	return Describe(p.Current())
}

// Describe renders a as "The user is using {app}, window: {title}" with the
// title cut to 50 runes, "The user is using {app}" when there is no title,
// and "" when there is no app.
func Describe(a agent.Activity) string {
	switch {
	case a.App != "" && a.Title != "":
		title := a.Title
		if cut := history.Truncate(title, maxTitle); cut != title {
			title = cut + "..."
		}
		return "The user is using " + a.App + ", window: " + title
	case a.App != "":
		return "The user is using " + a.App
	default:
		return ""
	}
}
