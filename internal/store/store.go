package store

import (
	"context"
	"errors"

	"github.com/seantiz/geoservice/internal/model"
)

var (
	// ErrNotFound is returned when a ticket is not found.
	ErrNotFound = errors.New("ticket not found")

	// ErrDuplicateKey is returned when a ticket with the same
	// (idempotency key, request type) pair already exists.
	ErrDuplicateKey = errors.New("duplicate idempotency key")

	// ErrAlreadyFinalized is returned when finalizing a ticket that has
	// already reached a terminal state.
	ErrAlreadyFinalized = errors.New("ticket already finalized")
)

// TicketStats holds aggregate ticket statistics.
type TicketStats struct {
	Total              int            `json:"total"`
	Pending            int            `json:"pending"`
	CountByState       map[string]int `json:"count_by_state"`
	CountByRequestType map[string]int `json:"count_by_request_type"`
	AvgExecutionSecs   float64        `json:"avg_execution_secs"`
}

// Store defines the persistence operations for tickets.
//
// CreateTicket and FinalizeTicket are the only writers. Implementations must
// make CreateTicket atomic with respect to the idempotency mapping and
// FinalizeTicket a no-op (ErrAlreadyFinalized) on terminal tickets.
type Store interface {
	CreateTicket(ctx context.Context, t *model.Ticket) error
	GetTicket(ctx context.Context, id string) (*model.Ticket, error)
	// GetTicketByKey returns the ticket for key and requestType. An empty
	// requestType matches the most recent ticket carrying key.
	GetTicketByKey(ctx context.Context, key, requestType string) (*model.Ticket, error)
	ListTickets(ctx context.Context, limit, offset int) ([]*model.Ticket, int, error)
	FinalizeTicket(ctx context.Context, id string, c model.Completion) error
	GetTicketStats(ctx context.Context) (*TicketStats, error)
	Ping(ctx context.Context) error
	Close() error
}
