package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/store"
)

type testEnv struct {
	server *Server
	calls  *atomic.Int32
	mu     sync.Mutex
	now    time.Time
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	env := &testEnv{calls: &atomic.Int32{}, now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	registry := core.NewRegistry()
	count := func(context.Context, core.Arguments) error {
		env.calls.Add(1)
		return nil
	}
	if err := registry.RegisterFunc("sample.task", count); err != nil {
		t.Fatal(err)
	}
	if err := registry.RegisterFunc("report.daily", count); err != nil {
		t.Fatal(err)
	}
	if err := registry.Declare("report.daily", "0 3 * * *", "daily report"); err != nil {
		t.Fatal(err)
	}

	runs := st.Runs(10, logger)
	catalog := core.NewCatalog(
		core.NewStoredSource(st.Tasks()),
		core.NewDeclaredSource(registry, st.LastRuns()),
		registry,
		core.WithClock(env.clock),
	)
	scheduler := core.NewScheduler(catalog, registry, logger, core.WithObservers(runs))
	env.server = NewServer(Options{
		AuthToken: token,
		Scheduler: scheduler,
		Targets:   registry,
		Runs:      runs,
		Logger:    logger,
		Location:  time.UTC,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t, "")
	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"ok", map[string]any{"expression": "* * * * *", "target": "sample.task", "arguments": map[string]any{"n": 1}}, http.StatusCreated},
		{"duplicate", map[string]any{"expression": "* * * * *", "target": "sample.task", "arguments": map[string]any{"n": 1}}, http.StatusConflict},
		{"unknown target", map[string]any{"expression": "* * * * *", "target": "missing"}, http.StatusBadRequest},
		{"bad expression", map[string]any{"expression": "61 * * * *", "target": "sample.task"}, http.StatusBadRequest},
		{"no target", map[string]any{"expression": "* * * * *"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		if got := env.do(t, http.MethodPost, "/v1/tasks", tt.body, nil); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestRegisterStartsDisabled(t *testing.T) {
	env := newTestEnv(t, "")
	var created taskResponse
	code := env.do(t, http.MethodPost, "/v1/tasks", map[string]any{"target": "sample.task"}, &created)
	if code != http.StatusCreated || created.Status != "disabled" || created.Enabled != "Off" {
		t.Fatalf("register = %d %+v", code, created)
	}
	if created.Expression != core.DefaultExpression {
		t.Fatalf("expression = %q, want default", created.Expression)
	}

	env.advance(time.Hour)
	var cycle cycleResponse
	env.do(t, http.MethodPost, "/v1/cycle", nil, &cycle)
	for _, r := range cycle.Results {
		if r.Task.ID == created.ID {
			t.Fatalf("disabled task ran in cycle: %+v", cycle)
		}
	}

	var enabled taskResponse
	if code := env.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/enable", nil, &enabled); code != http.StatusOK || enabled.Status != "enabled" {
		t.Fatalf("enable = %d %+v", code, enabled)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	var created taskResponse
	code := env.do(t, http.MethodPost, "/v1/tasks", map[string]any{
		"expression": "* * * * *", "target": "sample.task", "arguments": map[string]any{"n": 1}, "enabled": true,
	}, &created)
	if code != http.StatusCreated || created.ID == "" || created.Kind != "stored" || created.Enabled != "On" {
		t.Fatalf("register = %d %+v", code, created)
	}

	var list []taskResponse
	if code := env.do(t, http.MethodGet, "/v1/tasks", nil, &list); code != http.StatusOK || len(list) != 2 {
		t.Fatalf("list = %d, %d tasks", code, len(list))
	}
	var declaredOnly []taskResponse
	env.do(t, http.MethodGet, "/v1/tasks?kind=declared", nil, &declaredOnly)
	if len(declaredOnly) != 1 || declaredOnly[0].Target != "report.daily" {
		t.Fatalf("declared filter = %+v", declaredOnly)
	}

	env.advance(time.Minute)

	var dry cycleResponse
	env.do(t, http.MethodPost, "/v1/cycle", map[string]any{"dry_run": true}, &dry)
	if !dry.DryRun || len(dry.Results) != 2 || env.calls.Load() != 0 {
		t.Fatalf("dry run = %+v, calls = %d", dry, env.calls.Load())
	}
	for _, r := range dry.Results {
		if r.Outcome != string(core.OutcomeSkippedDryRun) {
			t.Fatalf("dry run outcome = %s", r.Outcome)
		}
	}

	var cycle cycleResponse
	env.do(t, http.MethodPost, "/v1/cycle", nil, &cycle)
	if cycle.Status != string(core.CycleCompleted) || len(cycle.Results) != 2 || cycle.Failed != 0 {
		t.Fatalf("cycle = %+v", cycle)
	}
	if env.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", env.calls.Load())
	}

	var runs []runResponse
	env.do(t, http.MethodGet, "/v1/tasks/"+created.ID+"/runs", nil, &runs)
	if len(runs) != 1 || runs[0].Outcome != string(core.OutcomeSuccess) {
		t.Fatalf("runs = %+v", runs)
	}
	var run runResponse
	if code := env.do(t, http.MethodGet, "/v1/runs/"+runs[0].ID, nil, &run); code != http.StatusOK || run.TaskID != created.ID {
		t.Fatalf("get run = %d %+v", code, run)
	}

	var updated taskResponse
	env.do(t, http.MethodPatch, "/v1/tasks/"+created.ID, map[string]any{"enabled": false, "expression": "0 * * * *"}, &updated)
	if updated.Status != "disabled" || updated.Expression != "0 * * * *" {
		t.Fatalf("updated = %+v", updated)
	}

	var single resultResponse
	if code := env.do(t, http.MethodPost, "/v1/tasks/"+created.ID+"/run", nil, &single); code != http.StatusOK || single.Outcome != string(core.OutcomeSuccess) {
		t.Fatalf("run single = %d %+v", code, single)
	}

	if code := env.do(t, http.MethodDelete, "/v1/tasks/"+created.ID, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code := env.do(t, http.MethodGet, "/v1/tasks/"+created.ID, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete = %d", code)
	}
}

func TestCronPreview(t *testing.T) {
	env := newTestEnv(t, "")
	var res cronPreviewResponse
	env.do(t, http.MethodPost, "/v1/cron/preview", map[string]any{
		"expr": "0 9 * * 1-5", "now": "2024-01-05T10:00:00Z", "count": 2,
	}, &res)
	want := []string{"2024-01-08T09:00:00Z", "2024-01-09T09:00:00Z"}
	if !res.Valid || len(res.NextTimes) != 2 || res.NextTimes[0] != want[0] || res.NextTimes[1] != want[1] {
		t.Fatalf("preview = %+v", res)
	}

	env.do(t, http.MethodPost, "/v1/cron/preview", map[string]any{"expr": "bad"}, &res)
	if res.Valid {
		t.Fatal("invalid expression reported as valid")
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret")
	h := env.server.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/targets", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d", rec.Code)
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error.Code != "unauthorized" {
		t.Fatalf("unauthorized body = %q, %v", rec.Body.String(), err)
	}

	for _, bad := range []string{"Bearer wrong", "Bearer secretx", "secret"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
		req.Header.Set("Authorization", bad)
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("Authorization %q = %d", bad, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/targets?token=secret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer token = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}
