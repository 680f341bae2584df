package host

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunnerOutcomes(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(200 * time.Millisecond)

	out, err := r.Run(context.Background(), "sh", "-c", "printf hello")
	if err != nil || string(out) != "hello" {
		t.Fatalf("success: out=%q err=%v", out, err)
	}

	out, err = r.Run(context.Background(), "sh", "-c", "printf partial; exit 3")
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) || cmdErr.Outcome != OutcomeNonZeroExit || cmdErr.ExitCode != 3 {
		t.Fatalf("non-zero exit: err=%v", err)
	}
	if string(out) != "partial" {
		t.Fatalf("stdout before failure = %q", out)
	}

	_, err = r.Run(context.Background(), "hostpulse-no-such-tool")
	if CommandOutcome(err) != OutcomeSpawnFailure || !errors.Is(err, ErrToolUnavailable) {
		t.Fatalf("missing tool: err=%v outcome=%v", err, CommandOutcome(err))
	}

	start := time.Now()
	_, err = r.Run(context.Background(), "sh", "-c", "sleep 5")
	if CommandOutcome(err) != OutcomeTimeout {
		t.Fatalf("hang: err=%v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestExecRunnerCancelled(t *testing.T) {
	requireShell(t)
	r := NewExecRunner(5 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, "sh", "-c", "true")
	if CommandOutcome(err) != OutcomeCanceled {
		t.Fatalf("pre-cancelled: err=%v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, "sh", "-c", "sleep 5")
	if CommandOutcome(err) != OutcomeCanceled {
		t.Fatalf("caller deadline: err=%v outcome=%v", err, CommandOutcome(err))
	}
}

func TestCommandOutcome(t *testing.T) {
	if CommandOutcome(nil) != OutcomeSuccess {
		t.Fatalf("nil error is not success")
	}
	if CommandOutcome(errors.New("plain")) != OutcomeSpawnFailure {
		t.Fatalf("untyped error should classify as spawn failure")
	}
	wrapped := errors.Join(errors.New("ctx"), &CommandError{Tool: "lspci", Outcome: OutcomeTimeout})
	if CommandOutcome(wrapped) != OutcomeTimeout {
		t.Fatalf("wrapped command error lost its outcome")
	}
}
