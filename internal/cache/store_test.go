package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/store"
)

// mapCache is an in-process Cache used to exercise TicketStore without Redis.
type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	gets   int
	getErr error
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Ping(context.Context) error { return nil }

func (c *mapCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.data[key]
	return ok
}

func newCachedStore(t *testing.T, c Cache) (*TicketStore, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewTicketStore(s, c, 0, logger), s
}

func TestTicketStoreSkipsPendingTickets(t *testing.T) {
	c := newMapCache()
	cs, _ := newCachedStore(t, c)
	ctx := context.Background()

	tk := model.NewTicket("", "filter.within", time.Now())
	if err := cs.CreateTicket(ctx, tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	if _, err := cs.GetTicket(ctx, tk.ID); err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if c.has(TicketKey(tk.ID)) {
		t.Error("pending ticket was cached")
	}
}

func TestTicketStoreCachesTerminalTickets(t *testing.T) {
	c := newMapCache()
	cs, underlying := newCachedStore(t, c)
	ctx := context.Background()

	tk := model.NewTicket("", "filter.within", time.Now())
	if err := cs.CreateTicket(ctx, tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if err := cs.FinalizeTicket(ctx, tk.ID, model.Completion{Success: true, OutputPath: "2603/x/y.csv"}); err != nil {
		t.Fatalf("FinalizeTicket: %v", err)
	}
	if !c.has(TicketKey(tk.ID)) {
		t.Fatal("terminal ticket was not cached after finalize")
	}

	// Close the underlying store: a cache hit must not touch it.
	underlying.Close()

	got, err := cs.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket from cache: %v", err)
	}
	if got.State() != model.StateCompletedSuccess {
		t.Errorf("State() = %q, want %q", got.State(), model.StateCompletedSuccess)
	}
	if got.Result == nil || got.Result.OutputPath != "2603/x/y.csv" {
		t.Errorf("Result = %+v, want output path 2603/x/y.csv", got.Result)
	}
}

func TestTicketStoreFallsThroughOnCacheError(t *testing.T) {
	c := newMapCache()
	c.getErr = errors.New("redis down")
	cs, _ := newCachedStore(t, c)
	ctx := context.Background()

	tk := model.NewTicket("", "join.within", time.Now())
	if err := cs.CreateTicket(ctx, tk); err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}

	got, err := cs.GetTicket(ctx, tk.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.ID != tk.ID {
		t.Errorf("ID = %q, want %q", got.ID, tk.ID)
	}
}

func TestTicketStoreFinalizeErrorsPassThrough(t *testing.T) {
	cs, _ := newCachedStore(t, newMapCache())

	err := cs.FinalizeTicket(context.Background(), "missing", model.Completion{Success: true})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("FinalizeTicket error = %v, want ErrNotFound", err)
	}
}
