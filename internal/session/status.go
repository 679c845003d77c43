// SPDX-License-Identifier: MIT

package session

// Status is the lifecycle state of a session. Transitions are monotonic:
// Active -> Finalizing -> Completed, no backward edges.
type Status string

const (
	StatusActive     Status = "active"
	StatusFinalizing Status = "finalizing"
	StatusCompleted  Status = "completed"
)

// transitions is the single source of truth for legal status edges.
var transitions = map[Status]map[Status]bool{
	StatusActive:     {StatusFinalizing: true},
	StatusFinalizing: {StatusCompleted: true},
	StatusCompleted:  {},
}

// CanTransition reports whether the edge s -> to is legal.
func (s Status) CanTransition(to Status) bool {
	return transitions[s][to]
}

// Terminal reports whether the session record is immutable.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
