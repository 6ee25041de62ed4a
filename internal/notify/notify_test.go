package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"taskcron/internal/core"
)

type captured struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *captured) Send(_ context.Context, title, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, title+"|"+body)
	return c.err
}

func TestBarkNotifierPostsForm(t *testing.T) {
	var got struct{ title, body, group string }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		_ = r.ParseForm()
		got.title, got.body, got.group = r.PostForm.Get("title"), r.PostForm.Get("body"), r.PostForm.Get("group")
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/")
	if err != nil {
		t.Fatalf("NewBarkNotifier: %v", err)
	}
	if err := n.Send(context.Background(), "hello", "world"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.title != "hello" || got.body != "world" || got.group != "taskcron" {
		t.Fatalf("posted form = %+v", got)
	}
	if _, err := NewBarkNotifier(" "); err == nil {
		t.Fatal("NewBarkNotifier accepted an empty url")
	}
}

func TestBarkNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	n, _ := NewBarkNotifier(srv.URL)
	if err := n.Send(context.Background(), "t", "b"); err == nil {
		t.Fatal("Send ignored an error status")
	}
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	bad := &captured{err: errors.New("down")}
	good := &captured{}
	err := NewMultiNotifier(bad, good).Send(context.Background(), "t", "b")
	if err == nil || len(good.sent) != 1 {
		t.Fatalf("err = %v, good sent = %d", err, len(good.sent))
	}
}

func TestRateLimitedDropsBurst(t *testing.T) {
	inner := &captured{}
	n := NewRateLimited(inner, 2)
	ctx := context.Background()
	_ = n.Send(ctx, "1", "")
	_ = n.Send(ctx, "2", "")
	if err := n.Send(ctx, "3", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third Send error = %v, want ErrRateLimited", err)
	}
	if len(inner.sent) != 2 {
		t.Fatalf("delivered %d, want 2", len(inner.sent))
	}
}

func TestFailureObserver(t *testing.T) {
	inner := &captured{}
	o := NewFailureObserver(inner, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d := core.Descriptor{Kind: core.KindStored, ID: "t1", Target: "shell"}
	ctx := context.Background()
	o.AfterRun(ctx, core.Result{Task: d, Outcome: core.OutcomeSuccess})
	o.AfterRun(ctx, core.Result{Task: d, Outcome: core.OutcomeError, Err: errors.New("exit 1")})
	if len(inner.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(inner.sent))
	}
}

func TestTarget(t *testing.T) {
	inner := &captured{}
	target := NewTarget(inner)
	if err := target.ValidateArguments(core.Arguments{}); err == nil {
		t.Fatal("ValidateArguments accepted a missing title")
	}
	if err := target.Execute(context.Background(), core.Arguments{"title": "hi", "body": "there"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(inner.sent) != 1 || inner.sent[0] != "hi|there" {
		t.Fatalf("sent = %v", inner.sent)
	}
}
