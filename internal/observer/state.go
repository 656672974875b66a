// Package observer watches one remote beacon and turns receive timeouts into
// debounced alive/dead transitions.
package observer

import "time"

// State is the inferred liveness of the observed beacon.
type State int

const (
	Alive State = iota
	Dead
)

func (s State) String() string {
	if s == Dead {
		return "DEAD"
	}
	return "ALIVE"
}

// Event is the outcome of one receive.
type Event int

const (
	Received Event = iota
	TimedOut
)

func (e Event) String() string {
	if e == TimedOut {
		return "timed_out"
	}
	return "received"
}

// Next applies ev to s. changed is true only on an edge; steady states never
// report a change.
func (s State) Next(ev Event) (next State, changed bool) {
	switch ev {
	case Received:
		next = Alive
	case TimedOut:
		next = Dead
	default:
		return s, false
	}
	return next, next != s
}

// Transition is an immutable record of one edge, handed to whoever runs the
// edge's action.
type Transition struct {
	From     State
	To       State
	At       time.Time
	Template string
}
