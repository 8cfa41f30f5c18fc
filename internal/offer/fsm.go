// Package offer submits a draft selection to the booking API as a new or
// updated offer and tracks the submission status per learner and week.
package offer

import "time"

// State of one submission context.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Status is what the presentation layer renders for a context.
type Status struct {
	State     State     `json:"state"`
	Message   string    `json:"message,omitempty"`
	OfferID   int64     `json:"offerId,omitempty"`
	Action    string    `json:"action,omitempty"`
	Stale     bool      `json:"stale,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FSM holds the allowed submission transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates the submission state machine. Terminal states go back to
// validating when the user retries.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:       {StateValidating},
			StateValidating: {StateSubmitting, StateFailed},
			StateSubmitting: {StateSucceeded, StateFailed},
			StateSucceeded:  {StateValidating},
			StateFailed:     {StateValidating},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
