package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ShellTargetName is the registry name of the built-in shell target.
const ShellTargetName = "shell"

const (
	shellOutputLimit = 64 << 10
	shellErrorTail   = 512
	shellKillGrace   = 5 * time.Second
)

// ShellTarget runs arguments["command"] through the system shell. Optional
// arguments are "working_dir" and "timeout_s".
type ShellTarget struct {
	logger *slog.Logger
}

// NewShellTarget creates the shell target.
func NewShellTarget(logger *slog.Logger) *ShellTarget {
	return &ShellTarget{logger: logger}
}

// ValidateArguments requires a non-empty command.
func (e *ShellTarget) ValidateArguments(args Arguments) error {
	command, ok := args.String("command")
	if !ok || strings.TrimSpace(command) == "" {
		return errors.New(`"command" must be a non-empty string`)
	}
	if v, ok := args["working_dir"]; ok {
		if _, ok := v.(string); !ok {
			return errors.New(`"working_dir" must be a string`)
		}
	}
	if _, err := timeoutArg(args); err != nil {
		return err
	}
	return nil
}

// Execute runs the command and waits for it. Output is captured up to a fixed
// limit and its tail is included in the returned error.
func (e *ShellTarget) Execute(ctx context.Context, args Arguments) error {
	if err := e.ValidateArguments(args); err != nil {
		return err
	}
	command, _ := args.String("command")
	timeout, _ := timeoutArg(args)

	output := &syncWriter{w: &limitedBuffer{limit: shellOutputLimit}}
	cmd := commandFor(ctx, command)
	if dir, ok := args.String("working_dir"); ok && dir != "" {
		cmd.Dir = dir
	}
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = shellKillGrace

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	var wd *watchdog
	if timeout > 0 {
		wd = e.watch(cmd.Process, command, timeout)
	}
	waitErr := cmd.Wait()
	timedOut := wd != nil && wd.stop()
	out := output.String()
	e.logger.Debug("command finished", "command", command, "output_bytes", len(out))

	switch {
	case timedOut:
		return fmt.Errorf("command timed out after %s%s", timeout, tail(out))
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("command exited with code %d%s", exitErr.ExitCode(), tail(out))
		}
		return fmt.Errorf("command failed: %w%s", waitErr, tail(out))
	}
	return nil
}

// watchdog terminates a process that outlives its timeout, then kills it
// after shellKillGrace.
type watchdog struct {
	mu    sync.Mutex
	fired bool
	term  *time.Timer
	kill  *time.Timer
}

func (e *ShellTarget) watch(process *os.Process, command string, timeout time.Duration) *watchdog {
	w := &watchdog{}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.term = time.AfterFunc(timeout, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.term == nil {
			return
		}
		w.fired = true
		e.logger.Warn("command exceeded timeout, sending termination", "command", command, "timeout", timeout)
		sendTermination(process)
		w.kill = time.AfterFunc(shellKillGrace, func() { _ = process.Kill() })
	})
	return w
}

// stop disarms both timers and reports whether the timeout fired.
func (w *watchdog) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.term.Stop()
	w.term = nil
	if w.kill != nil {
		w.kill.Stop()
	}
	return w.fired
}

func timeoutArg(args Arguments) (time.Duration, error) {
	v, ok := args["timeout_s"]
	if !ok || v == nil {
		return 0, nil
	}
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case int:
		secs = float64(n)
	case int64:
		secs = float64(n)
	default:
		return 0, errors.New(`"timeout_s" must be a number`)
	}
	if secs < 0 {
		return 0, errors.New(`"timeout_s" must not be negative`)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func tail(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return ""
	}
	if len(out) > shellErrorTail {
		out = "..." + out[len(out)-shellErrorTail:]
	}
	return ": " + out
}

func commandFor(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command) // #nosec G204
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command) // #nosec G204
}

type syncWriter struct {
	mu sync.Mutex
	w  *limitedBuffer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.buf.String()
}

// limitedBuffer keeps the last limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func sendTermination(process *os.Process) {
	if process == nil {
		return
	}
	if runtime.GOOS == "windows" {
		_ = process.Kill()
		return
	}
	_ = process.Signal(syscall.SIGTERM)
}
