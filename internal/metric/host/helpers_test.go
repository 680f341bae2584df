package host

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeSyntheticFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func removeSynthetic(root, rel string) error {
	return os.Remove(filepath.Join(root, rel))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedResult struct {
	out []byte
	err error
}

// fakeRunner answers commands from a script keyed by "name arg1 arg2 ...".
// Unscripted commands fail as if the tool were not installed.
type fakeRunner struct {
	mu     sync.Mutex
	script map[string]scriptedResult
	calls  []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{script: make(map[string]scriptedResult)}
}

func (f *fakeRunner) on(cmd, out string) *fakeRunner {
	f.script[cmd] = scriptedResult{out: []byte(out)}
	return f
}

func (f *fakeRunner) fail(cmd string, outcome Outcome) *fakeRunner {
	f.script[cmd] = scriptedResult{err: &CommandError{Tool: strings.Fields(cmd)[0], Outcome: outcome}}
	return f
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	f.calls = append(f.calls, key)
	res, ok := f.script[key]
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, &CommandError{Tool: name, Outcome: OutcomeCanceled, Err: err}
	}
	if !ok {
		return nil, &CommandError{Tool: name, Outcome: OutcomeSpawnFailure, Err: os.ErrNotExist}
	}
	return res.out, res.err
}

func (f *fakeRunner) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// testOptions points every collector at synthetic roots with no real tools.
func testOptions(t *testing.T, runner CommandRunner) (Options, string, string) {
	t.Helper()
	procRoot := filepath.Join(t.TempDir(), "proc")
	sysRoot := filepath.Join(t.TempDir(), "sys")
	if err := os.MkdirAll(procRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(sysRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	opts := Options{
		ProcRoot: procRoot,
		SysRoot:  sysRoot,
		Runner:   runner,
		AddressLister: func(context.Context) (map[string][]string, error) {
			return nil, nil
		},
		ArchProbe: func() (string, error) { return "", os.ErrNotExist },
		Sleep:     func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
	return opts, procRoot, sysRoot
}

func approxEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.01
}
