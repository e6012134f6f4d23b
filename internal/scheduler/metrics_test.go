package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/output"
	"github.com/seantiz/geoservice/internal/session"
	"github.com/seantiz/geoservice/internal/store"
	"github.com/seantiz/geoservice/internal/transform"
)

type gaugeInvoker struct {
	seen    chan float64
	release chan struct{}
}

func (g *gaugeInvoker) Invoke(ctx context.Context, _ string, _ session.Session, _ transform.Operation) transform.Outcome {
	g.seen <- testutil.ToFloat64(queueDepth)
	<-g.release
	return transform.Failure("stopped")
}

func TestQueueDepthGauge(t *testing.T) {
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	sessions := session.NewManager(t.TempDir(), logger)
	inv := &gaugeInvoker{seen: make(chan float64, 4), release: make(chan struct{})}
	s := New(Config{QueueCapacity: 1}, Deps{
		Store:    st,
		Invoker:  inv,
		Sessions: sessions,
		Output:   output.NewMaterializer(t.TempDir(), "/output"),
		Logger:   logger,
	})

	newJob := func() Job {
		op := transform.Filter{Kind: transform.Within, WKT: "POINT (0 0)", Source: transform.Source{Path: "in.csv"}}
		tk := model.NewTicket("", op.RequestType(), time.Now())
		if err := st.CreateTicket(context.Background(), tk); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
		sess, err := sessions.Create(tk.ID)
		if err != nil {
			t.Fatalf("Create session: %v", err)
		}
		return Job{TicketID: tk.ID, Session: sess, Operation: op}
	}

	base := testutil.ToFloat64(queueDepth)

	first, err := s.Submit(newJob())
	if err != nil {
		t.Fatalf("Submit first: %v", err)
	}
	// The worker has dequeued the first job; Submit must already have counted it.
	if got := <-inv.seen; got != base {
		t.Errorf("depth while running first = %v, want %v", got, base)
	}

	second, err := s.Submit(newJob())
	if err != nil {
		t.Fatalf("Submit second: %v", err)
	}
	if got := testutil.ToFloat64(queueDepth); got != base+1 {
		t.Errorf("depth with one waiting = %v, want %v", got, base+1)
	}

	if _, err := s.Submit(newJob()); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit third = %v, want ErrQueueFull", err)
	}
	if got := testutil.ToFloat64(queueDepth); got != base+1 {
		t.Errorf("depth after refusal = %v, want %v", got, base+1)
	}

	close(inv.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, h := range []*Handle{first, second} {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("Wait(%s): %v", h.TicketID(), err)
		}
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := testutil.ToFloat64(queueDepth); got != base {
		t.Errorf("depth after drain = %v, want %v", got, base)
	}
}
