// Package ticket issues and deduplicates request tickets. A client-supplied
// idempotency key maps to at most one ticket per request type; concurrent
// admissions with the same key converge on the first ticket written.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/store"
)

// Resolver maps idempotency keys to tickets, issuing new tickets as needed.
type Resolver struct {
	store store.Store
	now   func() time.Time
}

// NewResolver creates a resolver backed by s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s, now: time.Now}
}

// Resolve returns the ticket for (key, requestType). When key is non-empty and
// a ticket already exists for it, that ticket is returned unchanged with
// created=false. Otherwise a new pending ticket is inserted and returned with
// created=true.
func (r *Resolver) Resolve(ctx context.Context, key, requestType string) (*model.Ticket, bool, error) {
	if key != "" {
		existing, err := r.store.GetTicketByKey(ctx, key, requestType)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
		}
	}

	t := model.NewTicket(key, requestType, r.now())
	err := r.store.CreateTicket(ctx, t)
	if err == nil {
		return t, true, nil
	}
	if !errors.Is(err, store.ErrDuplicateKey) {
		return nil, false, fmt.Errorf("create ticket: %w", err)
	}

	// Lost the race to a concurrent admission: return the winner.
	winner, err := r.store.GetTicketByKey(ctx, key, requestType)
	if err != nil {
		return nil, false, fmt.Errorf("reread idempotency key: %w", err)
	}
	return winner, false, nil
}

// Lookup finds a ticket by ID or, when id is empty, by idempotency key. An
// empty requestType matches the most recent ticket for key.
func (r *Resolver) Lookup(ctx context.Context, id, key, requestType string) (*model.Ticket, error) {
	if id != "" {
		return r.store.GetTicket(ctx, id)
	}
	return r.store.GetTicketByKey(ctx, key, requestType)
}
