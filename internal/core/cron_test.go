package core

import (
	"errors"
	"testing"
	"time"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name  string
		expr  string
		after string
		want  string
	}{
		{"every minute", "* * * * *", "2024-01-01T10:00:00Z", "2024-01-01T10:01:00Z"},
		{"every minute mid-second", "* * * * *", "2024-01-01T10:00:30Z", "2024-01-01T10:01:00Z"},
		{"every five minutes", "*/5 * * * *", "2024-01-01T10:03:00Z", "2024-01-01T10:05:00Z"},
		{"daily", "30 2 * * *", "2024-01-01T10:00:00Z", "2024-01-02T02:30:00Z"},
		{"leap day", "0 0 29 2 *", "2024-03-01T00:00:00Z", "2028-02-29T00:00:00Z"},
		{"escaped", `*/15 * * * *\`, "2024-01-01T10:00:00Z", "2024-01-01T10:15:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.expr, mustTime(tt.after))
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if want := mustTime(tt.want); !got.Equal(want) {
				t.Fatalf("Next(%q, %s) = %s, want %s", tt.expr, tt.after, got, want)
			}
		})
	}
}

func TestNextIsStrictlyAfter(t *testing.T) {
	at := mustTime("2024-01-01T10:05:00Z")
	got, err := Next("*/5 * * * *", at)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !got.After(at) {
		t.Fatalf("Next returned %s, not after %s", got, at)
	}
}

func TestPrevious(t *testing.T) {
	tests := []struct {
		name   string
		expr   string
		before string
		want   string
	}{
		{"every minute", "* * * * *", "2024-01-01T10:00:30Z", "2024-01-01T10:00:00Z"},
		{"strictly before", "* * * * *", "2024-01-01T10:00:00Z", "2024-01-01T09:59:00Z"},
		{"daily", "30 2 * * *", "2024-01-01T01:00:00Z", "2023-12-31T02:30:00Z"},
		{"monthly", "0 0 1 * *", "2024-03-15T00:00:00Z", "2024-03-01T00:00:00Z"},
		{"yearly", "0 0 1 1 *", "2024-06-01T00:00:00Z", "2024-01-01T00:00:00Z"},
		{"leap day", "0 0 29 2 *", "2027-01-01T00:00:00Z", "2024-02-29T00:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Previous(tt.expr, mustTime(tt.before))
			if err != nil {
				t.Fatalf("Previous: %v", err)
			}
			if want := mustTime(tt.want); !got.Equal(want) {
				t.Fatalf("Previous(%q, %s) = %s, want %s", tt.expr, tt.before, got, want)
			}
		})
	}
}

func TestInvalidExpressions(t *testing.T) {
	for _, expr := range []string{"", "* * *", "61 * * * *", "@hourly", "not a cron", "0 0 30 2 *"} {
		if _, err := Next(expr, time.Now()); !errors.Is(err, ErrInvalidExpression) {
			t.Errorf("Next(%q) error = %v, want ErrInvalidExpression", expr, err)
		}
	}
}

func TestNextIsDeterministic(t *testing.T) {
	at := mustTime("2024-05-05T05:05:05Z")
	a, _ := Next("7 */3 * * 1-5", at)
	b, _ := Next("7 */3 * * 1-5", at)
	if !a.Equal(b) {
		t.Fatalf("Next not deterministic: %s vs %s", a, b)
	}
}

func TestNextOccurrences(t *testing.T) {
	schedule, err := ParseCron("0 * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}
	got := NextOccurrences(schedule, mustTime("2024-01-01T10:30:00Z"), 3)
	want := []string{"2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z", "2024-01-01T13:00:00Z"}
	if len(got) != len(want) {
		t.Fatalf("got %d occurrences, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(mustTime(want[i])) {
			t.Errorf("occurrence %d = %s, want %s", i, got[i], want[i])
		}
	}
}
