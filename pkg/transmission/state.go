package transmission

import (
	"errors"
	"fmt"
	"time"
)

// State is the lifecycle position of a single transmission.
type State int

const (
	StateInit State = iota
	StateAttachmentsReady
	StateHeaderBuilt
	StateSecured
	StateDispatched
	StateConverted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAttachmentsReady:
		return "ATTACHMENTS_READY"
	case StateHeaderBuilt:
		return "HEADER_BUILT"
	case StateSecured:
		return "SECURED"
	case StateDispatched:
		return "DISPATCHED"
	case StateConverted:
		return "CONVERTED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConverted || s == StateFailed
}

// next is the only forward transition allowed from each non-terminal state.
var next = map[State]State{
	StateInit:             StateAttachmentsReady,
	StateAttachmentsReady: StateHeaderBuilt,
	StateHeaderBuilt:      StateSecured,
	StateSecured:          StateDispatched,
	StateDispatched:       StateConverted,
}

// ErrInvalidTransition is returned when a transition would skip a state or
// leave a terminal state.
var ErrInvalidTransition = errors.New("invalid state transition")

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Tracker enforces the transmission state machine for one call. It is not
// shared between calls and is not safe for concurrent use.
type Tracker struct {
	state   State
	history []Transition
	now     func() time.Time
}

// NewTracker returns a tracker in StateInit.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Advance moves to the given state, which must be the direct successor of
// the current one.
func (t *Tracker) Advance(to State) error {
	want, ok := next[t.state]
	if !ok || want != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
	}
	t.record(to)
	return nil
}

// Fail moves to StateFailed from any non-terminal state.
func (t *Tracker) Fail() error {
	if t.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, StateFailed)
	}
	t.record(StateFailed)
	return nil
}

// History returns the transitions taken so far.
func (t *Tracker) History() []Transition {
	out := make([]Transition, len(t.history))
	copy(out, t.history)
	return out
}

func (t *Tracker) record(to State) {
	t.history = append(t.history, Transition{From: t.state, To: to, At: t.now()})
	t.state = to
}
