//go:build unix

package lock

import (
	"context"
	"errors"
	"testing"

	"taskcron/internal/core"
)

func TestFileLocker(t *testing.T) {
	ctx := context.Background()
	locker, err := NewFileLocker(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileLocker: %v", err)
	}
	held, err := locker.TryAcquire(ctx, core.DefaultLockName)
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if _, err := locker.TryAcquire(ctx, core.DefaultLockName); !errors.Is(err, core.ErrLockDenied) {
		t.Fatalf("second TryAcquire error = %v, want ErrLockDenied", err)
	}
	other, err := locker.TryAcquire(ctx, "another")
	if err != nil {
		t.Fatalf("TryAcquire other name: %v", err)
	}
	_ = other.Release(ctx)

	if err := held.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := locker.TryAcquire(ctx, core.DefaultLockName)
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	_ = again.Release(ctx)
}

func TestPathSanitizesName(t *testing.T) {
	locker := &FileLocker{dir: "/tmp/locks"}
	if got := locker.Path("a/b"); got != "/tmp/locks/a_b.lock" {
		t.Fatalf("Path = %q", got)
	}
}
