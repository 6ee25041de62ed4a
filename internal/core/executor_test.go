package core

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestShellTarget(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	shell := NewShellTarget(discardLogger())
	ctx := context.Background()

	if err := shell.Execute(ctx, Arguments{"command": "echo ok"}); err != nil {
		t.Fatalf("echo: %v", err)
	}

	err := shell.Execute(ctx, Arguments{"command": "echo broken >&2; exit 3"})
	if err == nil {
		t.Fatal("non-zero exit returned nil error")
	}
	if !strings.Contains(err.Error(), "code 3") || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error = %q, want exit code and output tail", err)
	}

	err = shell.Execute(ctx, Arguments{"command": "sleep 5", "timeout_s": 0.2})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("timeout error = %v", err)
	}

	// The watchdog is armed only once the process exists.
	start := time.Now()
	err = shell.Execute(ctx, Arguments{"command": "sleep 5", "timeout_s": 0.000001})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("tiny timeout error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*shellKillGrace {
		t.Fatalf("tiny timeout took %s", elapsed)
	}
	if err := shell.Execute(ctx, Arguments{"command": "true", "timeout_s": 5}); err != nil {
		t.Fatalf("command finishing before its timeout: %v", err)
	}

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := shell.Execute(ctx, Arguments{"command": "test -f marker", "working_dir": dir}); err != nil {
		t.Fatalf("working_dir: %v", err)
	}
}

func TestShellTargetValidateArguments(t *testing.T) {
	shell := NewShellTarget(discardLogger())
	tests := []struct {
		name    string
		args    Arguments
		wantErr bool
	}{
		{"ok", Arguments{"command": "true"}, false},
		{"missing", Arguments{}, true},
		{"blank", Arguments{"command": "  "}, true},
		{"wrong type", Arguments{"command": 3}, true},
		{"bad timeout", Arguments{"command": "true", "timeout_s": "x"}, true},
		{"negative timeout", Arguments{"command": "true", "timeout_s": -1}, true},
		{"bad dir", Arguments{"command": "true", "working_dir": 1}, true},
	}
	for _, tt := range tests {
		err := shell.ValidateArguments(tt.args)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
