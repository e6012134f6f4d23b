package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/store"
)

// DefaultTicketTTL is how long terminal ticket snapshots stay cached.
const DefaultTicketTTL = 10 * time.Minute

// Compile-time interface satisfaction check.
var _ store.Store = (*TicketStore)(nil)

// TicketStore decorates a store.Store with a read-through cache for ticket
// lookups by ID. Only terminal tickets are cached: they are never mutated
// again, so a cached snapshot can not go stale. Cache errors are logged and
// fall through to the underlying store.
type TicketStore struct {
	store.Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewTicketStore wraps s with cache c. A zero ttl selects DefaultTicketTTL.
func NewTicketStore(s store.Store, c Cache, ttl time.Duration, logger *slog.Logger) *TicketStore {
	if ttl <= 0 {
		ttl = DefaultTicketTTL
	}
	return &TicketStore{Store: s, cache: c, ttl: ttl, logger: logger}
}

// GetTicket serves terminal tickets from the cache and fills it on a miss.
func (s *TicketStore) GetTicket(ctx context.Context, id string) (*model.Ticket, error) {
	key := TicketKey(id)

	raw, found, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("ticket cache get", "ticket", id, "error", err)
	}
	if found {
		var t model.Ticket
		if err := json.Unmarshal(raw, &t); err == nil {
			return &t, nil
		}
		s.logger.Warn("ticket cache decode", "ticket", id, "error", err)
	}

	t, err := s.Store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		s.put(ctx, t)
	}
	return t, nil
}

// FinalizeTicket finalizes through the underlying store and caches the
// resulting terminal snapshot.
func (s *TicketStore) FinalizeTicket(ctx context.Context, id string, c model.Completion) error {
	if err := s.Store.FinalizeTicket(ctx, id, c); err != nil {
		return err
	}

	t, err := s.Store.GetTicket(ctx, id)
	if err != nil {
		s.logger.Warn("ticket cache refresh", "ticket", id, "error", err)
		return nil
	}
	s.put(ctx, t)
	return nil
}

func (s *TicketStore) put(ctx context.Context, t *model.Ticket) {
	raw, err := json.Marshal(t)
	if err != nil {
		s.logger.Warn("ticket cache encode", "ticket", t.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, TicketKey(t.ID), raw, s.ttl); err != nil {
		s.logger.Warn("ticket cache set", "ticket", t.ID, "error", err)
	}
}
