// Package mock provides test doubles for the backend.Backend and
// backend.Executor interfaces.
//
// Example:
//
//	b := &mock.Backend{BackendName: "agent", Reply: backend.Reply{Text: "hi", Mode: backend.ModeChat}}
//	reply, err := b.Ask(ctx, prompt)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/iopet/pkg/backend"
)

var (
	_ backend.Backend  = (*Backend)(nil)
	_ backend.Executor = (*Executor)(nil)
)

// Backend is a mock implementation of backend.Backend.
type Backend struct {
	mu sync.Mutex

	// BackendName is returned by Name.
	BackendName string

	// Reply is returned by Ask when Err is nil.
	Reply backend.Reply

	// Err, if non-nil, is returned from Ask.
	Err error

	// Delay makes Ask wait before answering. A context deadline that fires
	// first is returned as the error.
	Delay time.Duration

	// Prompts records the prompt of every Ask call.
	Prompts []backend.Prompt
}

// Name implements backend.Backend.
func (b *Backend) Name() string { return b.BackendName }

// Ask implements backend.Backend.
func (b *Backend) Ask(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	b.mu.Lock()
	b.Prompts = append(b.Prompts, p)
	delay, reply, err := b.Delay, b.Reply, b.Err
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return backend.Reply{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Reply{}, err
	}
	return reply, nil
}

// Calls returns the number of Ask invocations.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Prompts)
}

// Executor is a mock implementation of backend.Executor.
type Executor struct {
	mu sync.Mutex

	// Output is returned by Execute when Err is nil.
	Output string

	// Err, if non-nil, is returned from Execute.
	Err error

	// Actions records every executed action.
	Actions []backend.PendingAction
}

// Execute implements backend.Executor.
func (e *Executor) Execute(_ context.Context, a backend.PendingAction) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Actions = append(e.Actions, a)
	if e.Err != nil {
		return "", e.Err
	}
	return e.Output, nil
}

// Calls returns the number of Execute invocations.
func (e *Executor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Actions)
}
