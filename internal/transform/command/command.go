// Package command implements transform.Engine by running an external
// geometry binary once per transform.
//
// The binary is invoked as
//
//	<binary> [args...] <family> <kind>
//
// with a JSON request on stdin holding the working directory and the
// operation arguments. On success it prints the artifact path as the last
// non-empty line of stdout; relative paths are resolved against the working
// directory. Exit status 3 signals a valid execution with no features. Any
// other non-zero status is a failure whose message is the trimmed stderr.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/seantiz/geoservice/internal/transform"
)

// ExitEmpty is the exit status reporting an empty result.
const ExitEmpty = 3

// Compile-time interface satisfaction check.
var _ transform.Engine = (*Engine)(nil)

// Runner executes a process. ExecRunner is the production implementation.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) (stdout, stderr []byte, exitCode int, err error)
}

// ExecRunner runs processes with os/exec.
type ExecRunner struct{}

// Run starts name with args, feeds stdin and waits for it to exit. A non-zero
// exit status is reported through exitCode, not err.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return stdout.Bytes(), stderr.Bytes(), exitErr.ExitCode(), nil
	}
	if err != nil {
		return stdout.Bytes(), stderr.Bytes(), -1, err
	}
	return stdout.Bytes(), stderr.Bytes(), 0, nil
}

// Engine runs transforms through an external binary.
type Engine struct {
	binary string
	args   []string
	runner Runner
}

// New creates an Engine running binary with the leading args. A nil runner
// selects ExecRunner.
func New(binary string, args []string, runner Runner) *Engine {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Engine{binary: binary, args: args, runner: runner}
}

type request struct {
	WorkDir   string              `json:"work_dir"`
	Operation transform.Operation `json:"operation"`
}

func (e *Engine) Constructive(ctx context.Context, workDir string, op transform.Constructive) (string, error) {
	return e.run(ctx, workDir, op, string(op.Kind))
}

func (e *Engine) Filter(ctx context.Context, workDir string, op transform.Filter) (string, error) {
	return e.run(ctx, workDir, op, string(op.Kind))
}

func (e *Engine) Join(ctx context.Context, workDir string, op transform.Join) (string, error) {
	return e.run(ctx, workDir, op, string(op.Kind))
}

func (e *Engine) run(ctx context.Context, workDir string, op transform.Operation, kind string) (string, error) {
	payload, err := json.Marshal(request{WorkDir: workDir, Operation: op})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	args := append(append([]string{}, e.args...), op.Family(), kind)
	stdout, stderr, code, err := e.runner.Run(ctx, e.binary, args, payload)
	if err != nil {
		return "", fmt.Errorf("run %s: %w", e.binary, err)
	}

	switch code {
	case 0:
	case ExitEmpty:
		return "", transform.ErrEmptyResult
	default:
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = fmt.Sprintf("%s exited with status %d", e.binary, code)
		}
		return "", errors.New(msg)
	}

	artifact := lastLine(stdout)
	if artifact == "" {
		return "", transform.ErrEmptyResult
	}
	if !filepath.IsAbs(artifact) {
		artifact = filepath.Join(workDir, artifact)
	}
	return artifact, nil
}

func lastLine(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
