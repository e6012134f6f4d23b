package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/geoservice/internal/session"
)

// Invoker calls the Engine for any Operation and normalizes the result.
type Invoker struct {
	engine Engine
	logger *slog.Logger
}

// NewInvoker creates an Invoker over engine.
func NewInvoker(engine Engine, logger *slog.Logger) *Invoker {
	return &Invoker{engine: engine, logger: logger}
}

// Invoke runs op inside the session s of ticketID. It never returns an error
// and never panics: every engine failure, including a panic, is captured as a
// Failure outcome.
func (i *Invoker) Invoke(ctx context.Context, ticketID string, s session.Session, op Operation) (out Outcome) {
	if op == nil {
		i.logger.Error("transform without operation", "ticket", ticketID)
		return Failure("no operation to run")
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = Failure(fmt.Sprint(r))
			i.logger.Error("transform panicked", "ticket", ticketID, "request_type", op.RequestType(), "panic", r)
		}
		transformDuration.WithLabelValues(op.Family(), out.Kind.String()).Observe(time.Since(start).Seconds())
	}()

	var (
		artifact string
		err      error
	)
	switch op := op.(type) {
	case Constructive:
		artifact, err = i.engine.Constructive(ctx, s.Path, op)
	case Filter:
		artifact, err = i.engine.Filter(ctx, s.Path, op)
	case Join:
		artifact, err = i.engine.Join(ctx, s.Path, op)
	default:
		return Failure(fmt.Sprintf("unsupported operation %T", op))
	}

	switch {
	case errors.Is(err, ErrEmptyResult):
		i.logger.Info("transform produced no features", "ticket", ticketID, "request_type", op.RequestType())
		return SuccessEmpty()
	case err != nil:
		i.logger.Warn("transform failed", "ticket", ticketID, "request_type", op.RequestType(), "error", err)
		return Failure(err.Error())
	case artifact == "":
		return SuccessEmpty()
	}
	return Success(artifact)
}
