package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewTask(t *testing.T) {
	now := mustTime("2024-01-01T10:00:00Z")
	task, err := NewTask("* * * * *", "sample.task", Arguments{"a": 1}, "desc", now)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if task.Status() != StatusDisabled {
		t.Fatalf("new task status = %v, want disabled", task.Status())
	}
	if !task.CreatedAt().Equal(now) {
		t.Fatalf("createdAt = %s, want %s", task.CreatedAt(), now)
	}
	if want := mustTime("2024-01-01T10:01:00Z"); !task.NextRunAt().Equal(want) {
		t.Fatalf("nextRunAt = %s, want %s", task.NextRunAt(), want)
	}
	if task.LastRunAt() != nil {
		t.Fatalf("lastRunAt = %v, want nil", task.LastRunAt())
	}
	if task.Fingerprint() == "" {
		t.Fatal("fingerprint is empty")
	}
}

func TestNewTaskRejectsBadInput(t *testing.T) {
	now := time.Now()
	if _, err := NewTask("invalid", "sample.task", nil, "", now); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("invalid expression error = %v", err)
	}
	if _, err := NewTask("* * * * *", "  ", nil, "", now); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("empty target error = %v", err)
	}
}

func TestTaskDueLifecycle(t *testing.T) {
	t0 := mustTime("2024-01-01T10:00:20Z")
	task, err := NewTask("* * * * *", "sample.task", nil, "", t0)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	later := t0.Add(61 * time.Second)
	if task.IsDue(later) {
		t.Fatal("disabled task reported due")
	}
	task.Enable()
	if !task.IsDue(later) {
		t.Fatal("enabled task not due 61s after creation")
	}
	if task.IsDue(t0) {
		t.Fatal("task due at its creation instant")
	}

	task.MarkRun(later)
	if got := task.LastRunAt(); got == nil || !got.Equal(later) {
		t.Fatalf("lastRunAt = %v, want %s", got, later)
	}
	if !task.NextRunAt().After(later) {
		t.Fatalf("nextRunAt %s not after run instant %s", task.NextRunAt(), later)
	}
	if task.IsDue(later) {
		t.Fatal("task still due at the instant it ran")
	}

	task.Disable()
	if task.IsDue(later.Add(time.Hour)) {
		t.Fatal("disabled task reported due")
	}
}

func TestSetScheduleLeavesTaskOnError(t *testing.T) {
	now := mustTime("2024-01-01T10:00:00Z")
	task, _ := NewTask("*/5 * * * *", "sample.task", nil, "", now)
	before := task.NextRunAt()
	if err := task.SetSchedule("bogus", now); !errors.Is(err, ErrInvalidExpression) {
		t.Fatalf("SetSchedule error = %v", err)
	}
	if task.Expression() != "*/5 * * * *" || !task.NextRunAt().Equal(before) {
		t.Fatal("failed SetSchedule modified the task")
	}
	if err := task.SetSchedule("0 12 * * *", now); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if want := mustTime("2024-01-01T12:00:00Z"); !task.NextRunAt().Equal(want) {
		t.Fatalf("nextRunAt = %s, want %s", task.NextRunAt(), want)
	}
}

func TestFingerprintStableAcrossKeyOrder(t *testing.T) {
	a, err := Fingerprint(Arguments{"x": 1, "y": "two", "z": map[string]any{"b": 2, "a": 1}})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, _ := Fingerprint(Arguments{"z": map[string]any{"a": 1, "b": 2}, "y": "two", "x": 1})
	if a != b {
		t.Fatalf("fingerprints differ: %s vs %s", a, b)
	}
	empty, _ := Fingerprint(nil)
	emptyMap, _ := Fingerprint(Arguments{})
	if empty != emptyMap {
		t.Fatal("nil and empty arguments fingerprint differently")
	}
	if a == empty {
		t.Fatal("distinct arguments share a fingerprint")
	}
}

func TestRestoreTaskRoundTrip(t *testing.T) {
	now := mustTime("2024-01-01T10:00:00Z")
	task, _ := NewTask("0 * * * *", "sample.task", Arguments{"k": "v"}, "d", now)
	task.AssignID("abc")
	task.Enable()
	task.MarkRun(now.Add(time.Hour))

	restored, err := RestoreTask(task.State())
	if err != nil {
		t.Fatalf("RestoreTask: %v", err)
	}
	if restored.ID() != "abc" || restored.Status() != StatusEnabled || restored.Fingerprint() != task.Fingerprint() {
		t.Fatalf("restored task differs: %+v", restored.State())
	}
	if !restored.NextRunAt().Equal(task.NextRunAt()) {
		t.Fatalf("nextRunAt = %s, want %s", restored.NextRunAt(), task.NextRunAt())
	}
}

func TestTaskRunUsesResolver(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	if err := reg.Register("sample.task", rec); err != nil {
		t.Fatalf("Register: %v", err)
	}
	task, _ := NewTask("* * * * *", "sample.task", Arguments{"n": 1}, "", time.Now())
	if err := task.Run(context.Background(), reg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rec.count() != 1 || rec.calls[0]["n"] != 1 {
		t.Fatalf("target calls = %v", rec.calls)
	}
	if task.LastRunAt() != nil {
		t.Fatal("Run touched bookkeeping")
	}

	orphan, _ := NewTask("* * * * *", "missing", nil, "", time.Now())
	if err := orphan.Run(context.Background(), reg); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("Run on unknown target error = %v", err)
	}
}
