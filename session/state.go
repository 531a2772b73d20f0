package session

import "fmt"

// State is one of the six lifecycle states a Session passes through, per
// spec.md §4.1's state machine.
type State uint8

const (
	// Starting is the state from construction until the driver reports
	// ready (the first successful health ping).
	Starting State = iota
	// Idle accepts new statements and jobs.
	Idle
	// Busy is set for the duration of exactly one outstanding statement;
	// a session never runs two statements at once. Jobs do not set Busy
	// and are admitted in both Idle and Busy.
	Busy
	// ShuttingDown is set once stop() has been requested and before the
	// channel has actually gone away.
	ShuttingDown
	// Error is terminal-ish: the driver is wedged or unreachable.
	// Observable, but only stop() moves a session out of it.
	Error
	// Dead is the true terminal state. No further transitions leave it.
	Dead
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case ShuttingDown:
		return "shutting_down"
	case Error:
		return "error"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// transitions enumerates every edge the state machine allows. A transition
// not listed here is rejected by transitionTo.
var transitions = map[State]map[State]bool{
	Starting:     {Idle: true, Error: true, ShuttingDown: true},
	Idle:         {Busy: true, Error: true, ShuttingDown: true},
	Busy:         {Idle: true, Error: true, ShuttingDown: true},
	ShuttingDown: {Dead: true},
	Error:        {ShuttingDown: true, Dead: true},
	Dead:         {},
}

// transitionTo reports whether moving from 'from' to 'to' is a legal edge.
func transitionTo(from, to State) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}
