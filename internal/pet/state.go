package pet

// State is the controller's position in a turn.
type State int

const (
	// Idle waits for input.
	Idle State = iota

	// Listening records a voice utterance.
	Listening

	// Composing holds an accepted utterance before it is dispatched.
	Composing

	// Dispatching waits for a backend answer.
	Dispatching

	// Displaying shows a reply or an execution result.
	Displaying

	// AwaitingConfirmation holds an agent action until the user confirms or
	// cancels it.
	AwaitingConfirmation
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Composing:
		return "composing"
	case Dispatching:
		return "dispatching"
	case Displaying:
		return "displaying"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "unknown"
	}
}

// EventKind identifies what an [Event] reports.
type EventKind int

const (
	// EventStatus is a transient status line ("Thinking...", "Recording...").
	EventStatus EventKind = iota

	// EventTranscript carries the text recognised from a voice utterance,
	// just before it is dispatched.
	EventTranscript

	// EventNotice tells the user a voice utterance was not understood.
	EventNotice

	// EventReply carries a labelled backend answer.
	EventReply

	// EventConfirm asks the user to confirm or cancel an agent action.
	EventConfirm

	// EventExecuted carries the outcome of a confirmed action.
	EventExecuted

	// EventCanceled reports that the pending action was discarded.
	EventCanceled
)

// String returns the kind name used in logs.
func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventTranscript:
		return "transcript"
	case EventNotice:
		return "notice"
	case EventReply:
		return "reply"
	case EventConfirm:
		return "confirm"
	case EventExecuted:
		return "executed"
	case EventCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}
