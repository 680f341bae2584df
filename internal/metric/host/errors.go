package host

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrSourceAbsent marks a pseudo-file, directory or tool output that does not exist.
	ErrSourceAbsent = errors.New("source absent")
	// ErrSourceMalformed marks a source that exists but cannot be parsed.
	ErrSourceMalformed = errors.New("source malformed")
	// ErrToolUnavailable marks an external command that did not produce usable output.
	ErrToolUnavailable = errors.New("tool unavailable")
)

// Outcome classifies how an external command invocation ended.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNonZeroExit
	OutcomeSpawnFailure
	OutcomeTimeout
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNonZeroExit:
		return "non_zero_exit"
	case OutcomeSpawnFailure:
		return "spawn_failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// CommandError reports a failed external command. It matches ErrToolUnavailable.
type CommandError struct {
	Tool     string
	Outcome  Outcome
	ExitCode int
	Err      error
}

func (e *CommandError) Error() string {
	if e.Outcome == OutcomeNonZeroExit {
		return fmt.Sprintf("%s: %s (exit %d)", e.Tool, e.Outcome, e.ExitCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Tool, e.Outcome, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Tool, e.Outcome)
}

func (e *CommandError) Unwrap() error { return e.Err }

func (e *CommandError) Is(target error) bool {
	return target == ErrToolUnavailable
}

// CommandOutcome extracts the outcome of a runner error. A nil error is a success.
func CommandOutcome(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Outcome
	}
	return OutcomeSpawnFailure
}

// PartialError is returned next to a snapshot whose mandatory sections failed.
// The snapshot still carries every section that succeeded.
type PartialError struct {
	Sections map[string]error
}

func (e *PartialError) Error() string {
	names := make([]string, 0, len(e.Sections))
	for name := range e.Sections {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+e.Sections[name].Error())
	}
	return "partial snapshot: " + strings.Join(parts, "; ")
}

func (e *PartialError) Unwrap() []error {
	out := make([]error, 0, len(e.Sections))
	for _, err := range e.Sections {
		out = append(out, err)
	}
	return out
}

func sourceError(kind error, path string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", path, kind)
	}
	return fmt.Errorf("%s: %w: %v", path, kind, cause)
}
