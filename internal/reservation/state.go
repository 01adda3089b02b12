package reservation

import "fmt"

// State is a step of a single reservation attempt.
type State string

const (
	StateRequested  State = "REQUESTED"
	StateValidating State = "VALIDATING"
	StateReserving  State = "RESERVING"
	StateConfirmed  State = "CONFIRMED"
	StateRejected   State = "REJECTED"
)

var transitions = map[State][]State{
	StateRequested:  {StateValidating, StateRejected},
	StateValidating: {StateReserving, StateConfirmed, StateRejected},
	StateReserving:  {StateConfirmed, StateRejected},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateRejected
}

// attempt tracks one traversal of the state machine. VALIDATING may jump
// straight to CONFIRMED when the refId replays an existing booking.
type attempt struct {
	state  State
	trail  []State
	reason string
}

func newAttempt() *attempt {
	return &attempt{state: StateRequested, trail: []State{StateRequested}}
}

func (a *attempt) advance(to State) error {
	for _, next := range transitions[a.state] {
		if next == to {
			a.state = to
			a.trail = append(a.trail, to)
			return nil
		}
	}
	return fmt.Errorf("reservation: illegal transition %s -> %s", a.state, to)
}

// reject moves to REJECTED from any non-terminal state.
func (a *attempt) reject(reason string) {
	if a.state.Terminal() {
		return
	}
	a.state = StateRejected
	a.trail = append(a.trail, StateRejected)
	a.reason = reason
}
