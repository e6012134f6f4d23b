package transform

import (
	"context"
	"errors"
)

// ErrEmptyResult is returned by an Engine when a transform executed correctly
// but produced no features. It is not a failure.
var ErrEmptyResult = errors.New("the resulted dataframe is empty")

// Engine is the external geometry engine. Each method runs one family of
// transforms, writing its artifact into workDir and returning the artifact
// path. Implementations return ErrEmptyResult (possibly wrapped) for valid
// executions with no output.
type Engine interface {
	Constructive(ctx context.Context, workDir string, op Constructive) (string, error)
	Filter(ctx context.Context, workDir string, op Filter) (string, error)
	Join(ctx context.Context, workDir string, op Join) (string, error)
}
