package hedge

import (
	"basis/pkg/errors"
)

// Status defines the position lifecycle state machine:
//
//	PENDING → OPENING → {OPEN, FAILED}
//	OPEN    → CLOSING → {CLOSED, PARTIAL}
//
// FAILED, CLOSED and PARTIAL are terminal. PARTIAL means exactly one leg
// closed while the other remains open in the market; it is never retried
// automatically and requires operator action.
type Status string

const (
	StatusPending Status = "pending"
	StatusOpening Status = "opening"
	StatusOpen    Status = "open"
	StatusFailed  Status = "failed"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
	StatusPartial Status = "partial"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusOpening},
	StatusOpening: {StatusOpen, StatusFailed},
	StatusOpen:    {StatusClosing},
	StatusClosing: {StatusClosed, StatusPartial, StatusOpen},
}

// Valid checks if the status is a known lifecycle state
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusOpening, StatusOpen, StatusFailed,
		StatusClosing, StatusClosed, StatusPartial:
		return true
	}
	return false
}

// String returns string representation
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status permits no further transitions.
// CLOSING → OPEN is allowed: when both close legs fail no side effect
// occurred and the close may be safely retried.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// InFlight reports whether a mutating operation holds the position's lock
func (s Status) InFlight() bool {
	return s == StatusOpening || s == StatusClosing
}

// CanTransitionTo checks the transition table
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the position to the next state, enforcing the state
// machine. Callers persist the position before returning from the operation
// that caused the transition.
func (p *Position) Transition(next Status) error {
	if !p.Status.CanTransitionTo(next) {
		return errors.Wrapf(errors.ErrInternal,
			"illegal status transition %s -> %s for position %s", p.Status, next, p.ID)
	}
	p.Status = next
	return nil
}
