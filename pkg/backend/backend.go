// Package backend defines the contract between the pet and the services that
// answer a user utterance.
//
// A [Backend] receives a composed [Prompt] and returns a [Reply]. The primary
// backend is the remote agent service, which may classify a reply as "agent"
// and attach a [PendingAction]; fallback backends are plain chat models whose
// replies never carry an action.
//
// Implementors must be safe for concurrent use. Every failure (transport error,
// non-success status, undecodable body, empty answer) is returned as an error
// so that callers can move on to the next backend in a chain.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Mode classifies a reply.
type Mode string

const (
	// ModeNone means no backend produced an answer.
	ModeNone Mode = "none"

	// ModeChat is a conversational answer from the primary backend.
	ModeChat Mode = "chat"

	// ModeAgent is an answer from the primary backend that may propose a
	// [PendingAction].
	ModeAgent Mode = "agent"

	// ModeFallback is an answer from a fallback chat model.
	ModeFallback Mode = "fallback"
)

// Label returns the display prefix for the mode: "[Chat]", "[Agent]",
// "[Backup]", or "" for [ModeNone] and unknown modes.
func (m Mode) Label() string {
	switch m {
	case ModeChat:
		return "[Chat]"
	case ModeAgent:
		return "[Agent]"
	case ModeFallback:
		return "[Backup]"
	default:
		return ""
	}
}

// ParseMode maps the mode string reported by the agent service to a [Mode].
// Anything other than "agent" is treated as chat.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeAgent)) {
		return ModeAgent
	}
	return ModeChat
}

// PendingAction is an executable step proposed by the agent service. It is
// never run without explicit user confirmation.
type PendingAction struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Empty reports whether a is nil or carries no code.
func (a *PendingAction) Empty() bool {
	return a == nil || strings.TrimSpace(a.Code) == ""
}

// Prompt is the input to a backend.
type Prompt struct {
	// System is the fixed persona instruction.
	System string

	// Context describes what the user is currently doing, e.g. the active
	// application. May be empty.
	Context string

	// Utterance is the user's typed or transcribed text.
	Utterance string
}

// SystemWithContext returns the system instruction with the context string
// appended on its own line, or the bare instruction when there is no context.
func (p Prompt) SystemWithContext() string {
	if p.Context == "" {
		return p.System
	}
	return p.System + "\nCurrent status: " + p.Context
}

// Combined flattens the prompt into a single message for backends that accept
// only one text field.
func (p Prompt) Combined() string {
	return p.SystemWithContext() + "\n\nUser: " + p.Utterance
}

// Reply is a backend answer.
type Reply struct {
	Text   string
	Mode   Mode
	Action *PendingAction
}

// Backend answers prompts.
type Backend interface {
	// Name identifies the backend in logs, metrics and dispatch results.
	Name() string

	// Ask sends p and returns the answer. An empty answer is reported as
	// [ErrEmptyReply].
	Ask(ctx context.Context, p Prompt) (Reply, error)
}

// Executor runs a confirmed [PendingAction] and returns its output.
type Executor interface {
	Execute(ctx context.Context, a PendingAction) (string, error)
}

// ErrEmptyReply is returned when a backend answered successfully but with no
// text.
var ErrEmptyReply = errors.New("backend: empty reply")

// StatusError reports a non-success HTTP status from a backend.
type StatusError struct {
	Backend    string
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: %s: unexpected status %d", e.Backend, e.Op, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}
