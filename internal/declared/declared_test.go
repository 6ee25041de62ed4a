package declared

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskcron/internal/core"
)

func newRegistry(t *testing.T, targets ...string) *core.Registry {
	t.Helper()
	reg := core.NewRegistry()
	for _, name := range targets {
		if err := reg.RegisterFunc(name, func(context.Context, core.Arguments) error { return nil }); err != nil {
			t.Fatalf("RegisterFunc: %v", err)
		}
	}
	return reg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParse(t *testing.T) {
	decls, err := Parse([]byte(`
declarations:
  - target: reports.nightly
    expression: "0 3 * * *"
    description: Nightly report
  - target: cache.warm
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("got %d declarations, want 2", len(decls))
	}
	if decls[0].Target != "reports.nightly" || decls[0].Expression != "0 3 * * *" || decls[0].Description != "Nightly report" {
		t.Fatalf("first declaration = %+v", decls[0])
	}
	if decls[1].Expression != "" {
		t.Fatalf("second declaration expression = %q, want empty", decls[1].Expression)
	}

	if _, err := Parse([]byte("declarations:\n  - target: a\n    schedule: '* * * * *'\n")); err == nil {
		t.Fatal("Parse accepted an unknown field")
	}
	if _, err := Parse([]byte("declarations:\n  - expression: '* * * * *'\n")); err == nil {
		t.Fatal("Parse accepted a declaration without target")
	}
	if decls, err := Parse(nil); err != nil || len(decls) != 0 {
		t.Fatalf("Parse(empty) = %v, %v", decls, err)
	}
}

func TestLoadIntoRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "declarations.yaml")
	writeFile(t, path, "declarations:\n  - target: cache.warm\n")
	reg := newRegistry(t, "cache.warm")
	if err := Load(path, reg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	decls := reg.Declarations()
	if len(decls) != 1 || decls[0].Expression != core.DefaultExpression {
		t.Fatalf("declarations = %+v", decls)
	}

	writeFile(t, path, "declarations:\n  - target: unknown.target\n")
	if err := Load(path, reg); err == nil {
		t.Fatal("Load accepted an unregistered target")
	}
}

func TestWatcherReloadKeepsLastGoodSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "declarations.yaml")
	writeFile(t, path, "declarations:\n  - target: a\n")
	reg := newRegistry(t, "a", "b")
	w := NewWatcher(path, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	writeFile(t, path, "declarations:\n  - target: missing\n")
	w.Reload()
	if decls := reg.Declarations(); len(decls) != 1 || decls[0].Target != "a" {
		t.Fatalf("invalid reload replaced declarations: %+v", decls)
	}

	writeFile(t, path, "declarations:\n  - target: a\n  - target: b\n    expression: '0 * * * *'\n")
	w.Reload()
	if decls := reg.Declarations(); len(decls) != 2 {
		t.Fatalf("declarations after reload = %+v", decls)
	}
}

func TestWatchPicksUpChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "declarations.yaml")
	writeFile(t, path, "declarations:\n  - target: a\n")
	reg := newRegistry(t, "a", "b")
	w := NewWatcher(path, reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := w.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	reloaded := make(chan int, 4)
	w.Reloaded = func(n int) { reloaded <- n }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Watch(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for {
		writeFile(t, path, "declarations:\n  - target: a\n  - target: b\n")
		select {
		case n := <-reloaded:
			if n != 2 {
				t.Fatalf("reloaded %d declarations, want 2", n)
			}
			cancel()
			<-done
			return
		case <-time.After(500 * time.Millisecond):
			// The watcher may not have been registered yet; write again.
		case <-deadline:
			t.Fatal("watcher did not reload the changed file")
		}
	}
}
