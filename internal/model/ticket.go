package model

import (
	"errors"
	"time"
)

// State is the lifecycle state of a ticket, derived from its completion fields.
type State string

// Ticket lifecycle states.
const (
	StatePending               State = "PENDING"
	StateCompletedSuccess      State = "COMPLETED_SUCCESS"
	StateCompletedSuccessEmpty State = "COMPLETED_SUCCESS_EMPTY"
	StateCompletedFailure      State = "COMPLETED_FAILURE"
)

// Invariant violations reported by Ticket.Validate.
var (
	ErrPendingHasOutcome   = errors.New("pending ticket carries an outcome")
	ErrCompletedNoSuccess  = errors.New("completed ticket has no success flag")
	ErrSuccessHasError     = errors.New("successful ticket carries an error message")
	ErrFailureHasResult    = errors.New("failed ticket carries a result")
	ErrFailureMissingError = errors.New("failed ticket has no error message")
)

// Result describes the materialized artifact of a successful ticket.
type Result struct {
	OutputPath string `json:"output_path"`
}

// Ticket is the durable record of one logical transform request.
type Ticket struct {
	ID             string    `json:"ticket"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty"`
	RequestType    string    `json:"request_type"`
	Initiated      time.Time `json:"initiated"`
	Completed      bool      `json:"completed"`
	Success        *bool     `json:"success,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	// ExecutionTime is the transform wall time in seconds.
	ExecutionTime *float64 `json:"execution_time,omitempty"`
	Result        *Result  `json:"result,omitempty"`
}

// NewTicket builds a pending ticket for the given request type. An empty key
// means the request carries no idempotency key.
func NewTicket(key, requestType string, now time.Time) *Ticket {
	t := &Ticket{
		ID:          NewID(),
		RequestType: requestType,
		Initiated:   now.UTC(),
	}
	if key != "" {
		t.IdempotencyKey = &key
	}
	return t
}

// State reports the lifecycle state of the ticket.
func (t *Ticket) State() State {
	switch {
	case !t.Completed:
		return StatePending
	case t.Success != nil && *t.Success && t.Result != nil:
		return StateCompletedSuccess
	case t.Success != nil && *t.Success:
		return StateCompletedSuccessEmpty
	default:
		return StateCompletedFailure
	}
}

// Terminal reports whether the ticket has reached a terminal state.
func (t *Ticket) Terminal() bool {
	return t.Completed
}

// Validate checks the completion invariants of the ticket.
func (t *Ticket) Validate() error {
	if !t.Completed {
		if t.Success != nil || t.Result != nil {
			return ErrPendingHasOutcome
		}
		return nil
	}
	if t.Success == nil {
		return ErrCompletedNoSuccess
	}
	if *t.Success {
		if t.ErrorMessage != nil {
			return ErrSuccessHasError
		}
		return nil
	}
	if t.Result != nil {
		return ErrFailureHasResult
	}
	if t.ErrorMessage == nil {
		return ErrFailureMissingError
	}
	return nil
}

// Completion is the terminal outcome written to a ticket by finalize.
type Completion struct {
	Success       bool
	ErrorMessage  string
	OutputPath    string
	ExecutionTime time.Duration
}

// Apply writes the completion onto t, respecting the ticket invariants:
// failures never carry a result and successes never carry an error message.
func (c Completion) Apply(t *Ticket) {
	success := c.Success
	secs := c.ExecutionTime.Seconds()

	t.Completed = true
	t.Success = &success
	t.ExecutionTime = &secs
	t.ErrorMessage = nil
	t.Result = nil

	if !success {
		msg := c.ErrorMessage
		t.ErrorMessage = &msg
		return
	}
	if c.OutputPath != "" {
		t.Result = &Result{OutputPath: c.OutputPath}
	}
}
