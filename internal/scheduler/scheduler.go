// Package scheduler runs transforms either inline for synchronous requests or
// on a single background worker that drains a bounded FIFO queue of deferred
// jobs. Whichever path runs a job also materializes its artifact and
// finalizes its ticket, exactly once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/geoservice/internal/model"
	"github.com/seantiz/geoservice/internal/output"
	"github.com/seantiz/geoservice/internal/session"
	"github.com/seantiz/geoservice/internal/store"
	"github.com/seantiz/geoservice/internal/transform"
)

// DefaultQueueCapacity is used when Config.QueueCapacity is not positive.
const DefaultQueueCapacity = 256

var (
	// ErrQueueFull is returned by Submit when the deferred queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("scheduler is shut down")
)

// Invoker runs one transform and normalizes its outcome.
type Invoker interface {
	Invoke(ctx context.Context, ticketID string, s session.Session, op transform.Operation) transform.Outcome
}

// Config holds scheduler settings.
type Config struct {
	QueueCapacity int
}

// Deps are the collaborators of a Scheduler.
type Deps struct {
	Store    store.Store
	Invoker  Invoker
	Sessions *session.Manager
	Output   *output.Materializer
	Logger   *slog.Logger
}

// Job is one admitted transform waiting to run.
type Job struct {
	TicketID  string
	Session   session.Session
	Operation transform.Operation
}

// Result is what became of a job once its ticket was finalized.
type Result struct {
	TicketID string
	Outcome  transform.Outcome
	// OutputPath is the artifact location relative to the output root. It is
	// empty when the outcome carries no artifact or materialization failed.
	OutputPath    string
	ExecutionTime time.Duration
}

// Handle tracks a deferred job.
type Handle struct {
	ticketID string
	done     chan struct{}
	result   Result
}

// TicketID returns the ticket of the job.
func (h *Handle) TicketID() string { return h.ticketID }

// Done is closed once the job's ticket is finalized and its session released.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the job completes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type task struct {
	job    Job
	handle *Handle
}

// Scheduler serializes deferred jobs onto one worker goroutine.
type Scheduler struct {
	store    store.Store
	invoker  Invoker
	sessions *session.Manager
	output   *output.Materializer
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan task
	done   chan struct{}
}

// New creates a Scheduler and starts its worker.
func New(cfg Config, deps Deps) *Scheduler {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	s := &Scheduler{
		store:    deps.Store,
		invoker:  deps.Invoker,
		sessions: deps.Sessions,
		output:   deps.Output,
		logger:   deps.Logger,
		queue:    make(chan task, capacity),
		done:     make(chan struct{}),
	}
	go s.work()
	return s
}

// RunSync runs job inline and finalizes its ticket before returning. The
// transform runs detached from ctx cancellation. The caller owns the session.
func (s *Scheduler) RunSync(ctx context.Context, job Job) Result {
	return s.run(context.WithoutCancel(ctx), job)
}

// Submit enqueues job and returns immediately. When the job can not be queued
// its ticket is finalized as a failure, its session is destroyed, and
// ErrQueueFull or ErrClosed is returned.
func (s *Scheduler) Submit(job Job) (*Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.refuse(job, ErrClosed)
		return nil, ErrClosed
	}

	h := &Handle{ticketID: job.TicketID, done: make(chan struct{})}
	// Raise the gauge before the send; the worker may dequeue at once.
	queueDepth.Inc()
	select {
	case s.queue <- task{job: job, handle: h}:
		s.logger.Info("job queued", "ticket", job.TicketID, "request_type", job.Operation.RequestType())
		return h, nil
	default:
		queueDepth.Dec()
		s.refuse(job, ErrQueueFull)
		return nil, ErrQueueFull
	}
}

// Reject finalizes the ticket of a job whose input could not be staged, and
// destroys its session.
func (s *Scheduler) Reject(ctx context.Context, job Job, cause error) Result {
	defer s.sessions.Destroy(job.Session)
	return s.finalize(context.WithoutCancel(ctx), job.TicketID, transform.Failure(cause.Error()), 0)
}

// QueueLen reports how many deferred jobs are waiting.
func (s *Scheduler) QueueLen() int {
	return len(s.queue)
}

// Shutdown stops admission and waits for the worker to drain queued jobs.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain job queue: %w", ctx.Err())
	}
}

func (s *Scheduler) refuse(job Job, cause error) {
	s.logger.Warn("job refused", "ticket", job.TicketID, "error", cause)
	s.finalize(context.Background(), job.TicketID, transform.Failure(cause.Error()), 0)
	s.sessions.Destroy(job.Session)
}

func (s *Scheduler) work() {
	defer close(s.done)
	for t := range s.queue {
		queueDepth.Dec()
		s.process(t)
	}
}

// process runs one deferred job, releases its session and signals its handle.
func (s *Scheduler) process(t task) {
	defer close(t.handle.done)
	defer s.sessions.Destroy(t.job.Session)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "ticket", t.job.TicketID, "panic", r)
			t.handle.result = s.finalize(context.Background(), t.job.TicketID, transform.Failure(fmt.Sprint(r)), 0)
		}
	}()

	t.handle.result = s.run(context.Background(), t.job)
}

func (s *Scheduler) run(ctx context.Context, job Job) Result {
	start := time.Now()
	out := s.invoker.Invoke(ctx, job.TicketID, job.Session, job.Operation)
	return s.finalize(ctx, job.TicketID, out, time.Since(start))
}

// finalize materializes a successful artifact and records the terminal state
// of the ticket. A failed copy is logged and finalizes success without result.
func (s *Scheduler) finalize(ctx context.Context, ticketID string, out transform.Outcome, elapsed time.Duration) Result {
	res := Result{TicketID: ticketID, Outcome: out, ExecutionTime: elapsed}

	completion := model.Completion{Success: out.Succeeded(), ExecutionTime: elapsed}
	switch out.Kind {
	case transform.OutcomeSuccess:
		rel, err := s.output.Materialize(ticketID, out.Artifact)
		if err != nil {
			s.logger.Error("failed to materialize result", "ticket", ticketID, "artifact", out.Artifact, "error", err)
		} else {
			res.OutputPath = rel
			completion.OutputPath = rel
		}
	case transform.OutcomeFailure:
		completion.ErrorMessage = out.Message
	}

	if err := s.store.FinalizeTicket(ctx, ticketID, completion); err != nil {
		s.logger.Error("failed to finalize ticket", "ticket", ticketID, "error", err)
	} else {
		finalizedTotal.WithLabelValues(out.Kind.String()).Inc()
		s.logger.Info("ticket finalized", "ticket", ticketID, "outcome", out.Kind.String(),
			"output_path", res.OutputPath, "duration_ms", elapsed.Milliseconds())
	}
	return res
}
