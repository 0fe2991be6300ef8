package session

import "fmt"

// State represents the connection state of a session.
type State int

const (
	// StateDisconnected indicates no active channel. Terminal for a
	// given connection, but the session may connect again.
	StateDisconnected State = iota

	// StateConnecting indicates address resolution and channel opening
	// are in progress.
	StateConnecting

	// StateWaiting indicates the receiver has registered a session and
	// is waiting for a sender to attach.
	StateWaiting

	// StateVerifying indicates the human-code exchange is in progress.
	StateVerifying

	// StateConnected indicates a verified, idle-but-ready channel.
	StateConnected

	// StateTransferring indicates a multi-message exchange (file batch
	// or sync round) is in flight.
	StateTransferring
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateWaiting:
		return "waiting"
	case StateVerifying:
		return "verifying"
	case StateConnected:
		return "connected"
	case StateTransferring:
		return "transferring"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsActive returns true if the session is usable for sending payloads.
func (s State) IsActive() bool {
	return s == StateConnected || s == StateTransferring
}

// CanTransitionTo returns true if a transition to the target state is valid.
// Disconnected is reachable from every state.
func (s State) CanTransitionTo(target State) bool {
	if target == StateDisconnected {
		return true
	}

	switch s {
	case StateDisconnected:
		// A fresh or reset session may start connecting
		return target == StateConnecting

	case StateConnecting:
		// Sender goes straight to verifying; receiver parks in waiting
		return target == StateWaiting || target == StateVerifying

	case StateWaiting:
		// First inbound message moves the receiver into verification
		return target == StateVerifying

	case StateVerifying:
		// Only a successful code exchange leaves verifying; a failed
		// code keeps the state unchanged
		return target == StateConnected

	case StateConnected:
		return target == StateTransferring

	case StateTransferring:
		return target == StateConnected

	default:
		return false
	}
}

// TransitionError is returned when an invalid state transition is attempted.
type TransitionError struct {
	From    State
	To      State
	Session string
	Message string
}

func (e *TransitionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid state transition for session %s: %s -> %s: %s",
			e.Session, e.From, e.To, e.Message)
	}
	return fmt.Sprintf("invalid state transition for session %s: %s -> %s",
		e.Session, e.From, e.To)
}

// NewTransitionError creates a new transition error.
func NewTransitionError(from, to State, session, message string) *TransitionError {
	return &TransitionError{
		From:    from,
		To:      to,
		Session: session,
		Message: message,
	}
}
