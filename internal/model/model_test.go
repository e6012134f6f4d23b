package model

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewTicketPending(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	tk := NewTicket("", "filter.within", now)
	if tk.IdempotencyKey != nil {
		t.Errorf("IdempotencyKey = %v, want nil for empty key", *tk.IdempotencyKey)
	}
	if tk.State() != StatePending {
		t.Errorf("State() = %q, want %q", tk.State(), StatePending)
	}
	if err := tk.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
	if !tk.Initiated.Equal(now) {
		t.Errorf("Initiated = %v, want %v", tk.Initiated, now)
	}

	keyed := NewTicket("abc", "filter.within", now)
	if keyed.IdempotencyKey == nil || *keyed.IdempotencyKey != "abc" {
		t.Errorf("IdempotencyKey = %v, want abc", keyed.IdempotencyKey)
	}
}

func TestCompletionApply(t *testing.T) {
	tests := []struct {
		name       string
		completion Completion
		wantState  State
	}{
		{
			name:       "success with artifact",
			completion: Completion{Success: true, OutputPath: "2603/T/out.csv", ExecutionTime: 2 * time.Second},
			wantState:  StateCompletedSuccess,
		},
		{
			name:       "success empty",
			completion: Completion{Success: true},
			wantState:  StateCompletedSuccessEmpty,
		},
		{
			name:       "failure drops output path",
			completion: Completion{Success: false, ErrorMessage: "boom", OutputPath: "ignored"},
			wantState:  StateCompletedFailure,
		},
		{
			name:       "success drops error message",
			completion: Completion{Success: true, ErrorMessage: "ignored"},
			wantState:  StateCompletedSuccessEmpty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := NewTicket("", "constructive.centroid", time.Now())
			tt.completion.Apply(tk)

			if got := tk.State(); got != tt.wantState {
				t.Errorf("State() = %q, want %q", got, tt.wantState)
			}
			if err := tk.Validate(); err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if tk.ExecutionTime == nil {
				t.Error("ExecutionTime is nil after completion")
			}
		})
	}
}

func TestValidateRejectsBrokenInvariants(t *testing.T) {
	yes, no := true, false
	msg := "oops"

	tests := []struct {
		name string
		tk   Ticket
		want error
	}{
		{"pending with success", Ticket{Success: &yes}, ErrPendingHasOutcome},
		{"pending with result", Ticket{Result: &Result{OutputPath: "x"}}, ErrPendingHasOutcome},
		{"completed without success", Ticket{Completed: true}, ErrCompletedNoSuccess},
		{"success with error", Ticket{Completed: true, Success: &yes, ErrorMessage: &msg}, ErrSuccessHasError},
		{"failure with result", Ticket{Completed: true, Success: &no, ErrorMessage: &msg, Result: &Result{}}, ErrFailureHasResult},
		{"failure without message", Ticket{Completed: true, Success: &no}, ErrFailureMissingError},
	}

	for _, tt := range tests {
		if err := tt.tk.Validate(); !errors.Is(err, tt.want) {
			t.Errorf("%s: Validate() = %v, want %v", tt.name, err, tt.want)
		}
	}
}
