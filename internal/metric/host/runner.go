package host

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// CommandRunner runs an external diagnostic tool and returns its stdout.
// Failures are *CommandError values; stdout captured before a failure is still returned.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec under a per-invocation timeout.
type ExecRunner struct {
	timeout time.Duration
}

func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ExecRunner{timeout: timeout}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CommandError{Tool: name, Outcome: OutcomeCanceled, Err: err}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, &CommandError{Tool: name, Outcome: OutcomeSpawnFailure, Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var stdout bytes.Buffer
	cmd := exec.CommandContext(runCtx, path, args...)
	cmd.Stdout = &stdout
	cmd.WaitDelay = 500 * time.Millisecond

	err = cmd.Run()
	out := stdout.Bytes()
	switch {
	case err == nil:
		return out, nil
	case ctx.Err() != nil:
		return out, &CommandError{Tool: name, Outcome: OutcomeCanceled, Err: ctx.Err()}
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return out, &CommandError{Tool: name, Outcome: OutcomeTimeout, Err: runCtx.Err()}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &CommandError{Tool: name, Outcome: OutcomeNonZeroExit, ExitCode: exitErr.ExitCode(), Err: err}
	}
	return out, &CommandError{Tool: name, Outcome: OutcomeSpawnFailure, Err: err}
}
