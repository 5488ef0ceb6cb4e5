package poller

import (
	"time"
)

// State is the position of the loop in its iteration cycle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateValidating
	StateTranslating
	StateNotifying
	StateErrorHandling
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateValidating:
		return "validating"
	case StateTranslating:
		return "translating"
	case StateNotifying:
		return "notifying"
	case StateErrorHandling:
		return "error_handling"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Outcome summarizes one iteration.
type Outcome int

const (
	// OutcomeNoUpdates: the batch was empty; nothing sent, cursor kept.
	OutcomeNoUpdates Outcome = iota
	// OutcomeNotified: a status message was delivered.
	OutcomeNotified
	// OutcomeDeliveryFailed: a status message was built but not delivered.
	OutcomeDeliveryFailed
	// OutcomeErrorReported: an error report was delivered.
	OutcomeErrorReported
	// OutcomeErrorUndelivered: an error report could not be delivered.
	OutcomeErrorUndelivered
	// OutcomeErrorSuppressed: the error equals the last reported one.
	OutcomeErrorSuppressed
	// OutcomeCanceled: the context ended mid-iteration.
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoUpdates:
		return "no_updates"
	case OutcomeNotified:
		return "notified"
	case OutcomeDeliveryFailed:
		return "delivery_failed"
	case OutcomeErrorReported:
		return "error_reported"
	case OutcomeErrorUndelivered:
		return "error_undelivered"
	case OutcomeErrorSuppressed:
		return "error_suppressed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is returned by Iterate and passed to the AfterIteration hook.
type Result struct {
	PollID  string
	Outcome Outcome
	// Message is the text that was (or would have been) sent.
	Message string
	Err     error
	Cursor  int64
	Took    time.Duration
}

// Status is a read-only view of the loop for the status endpoint.
type Status struct {
	State           string    `json:"state"`
	Cursor          int64     `json:"cursor"`
	LastError       string    `json:"last_error,omitempty"`
	LastOutcome     string    `json:"last_outcome,omitempty"`
	Iterations      uint64    `json:"iterations"`
	Notified        uint64    `json:"notified"`
	Errors          uint64    `json:"errors"`
	LastIterationAt time.Time `json:"last_iteration_at,omitempty"`
	LastNotifiedAt  time.Time `json:"last_notified_at,omitempty"`
	NextPollAt      time.Time `json:"next_poll_at,omitempty"`
}
