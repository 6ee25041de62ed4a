package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"
)

// memRepo keeps task state in memory and hands out fresh copies on every read.
type memRepo struct {
	mu     sync.Mutex
	seq    int
	order  []string
	states map[string]TaskState
}

func newMemRepo() *memRepo {
	return &memRepo{states: make(map[string]TaskState)}
}

func (r *memRepo) Add(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	task.AssignID(fmt.Sprintf("t%d", r.seq))
	r.order = append(r.order, task.ID())
	r.states[task.ID()] = task.State()
	return nil
}

func (r *memRepo) Remove(_ context.Context, task *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[task.ID()]; !ok {
		return ErrUnknownTask
	}
	delete(r.states, task.ID())
	for i, id := range r.order {
		if id == task.ID() {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memRepo) Update(ctx context.Context, task *Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[task.ID()]; !ok {
		return ErrUnknownTask
	}
	r.states[task.ID()] = task.State()
	return nil
}

func (r *memRepo) All(context.Context) ([]*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.order))
	for _, id := range r.order {
		t, err := RestoreTask(r.states[id])
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *memRepo) Due(ctx context.Context, now time.Time) ([]*Task, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}
	var due []*Task
	for _, t := range all {
		if t.Enabled() && !t.NextRunAt().After(now) {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].NextRunAt().Before(due[j].NextRunAt()) })
	return due, nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	return RestoreTask(s)
}

func (r *memRepo) FindByTargetAndFingerprint(_ context.Context, target, fingerprint string) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		s := r.states[id]
		if s.Target == target && s.Fingerprint == fingerprint {
			return RestoreTask(s)
		}
	}
	return nil, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]time.Time)}
}

func (c *memCache) Get(_ context.Context, key string) (time.Time, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	return t, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = at.UTC()
	return nil
}

// staticDeclarations serves a fixed list without the registry's validation.
type staticDeclarations []Declaration

func (s staticDeclarations) Declarations() []Declaration { return s }

type memLocker struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) TryAcquire(_ context.Context, name string) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrLockDenied
	}
	l.held[name] = true
	l.acquired++
	return memLock{l: l, name: name}, nil
}

type memLock struct {
	l    *memLocker
	name string
}

func (m memLock) Release(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	delete(m.l.held, m.name)
	m.l.released++
	return nil
}

// recorder is a target that remembers its invocations.
type recorder struct {
	mu    sync.Mutex
	calls []Arguments
	err   error
}

func (r *recorder) Execute(_ context.Context, args Arguments) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type fixture struct {
	repo     *memRepo
	cache    *memCache
	registry *Registry
	catalog  *Catalog
	now      time.Time
}

func newFixture(now time.Time) *fixture {
	f := &fixture{
		repo:     newMemRepo(),
		cache:    newMemCache(),
		registry: NewRegistry(),
		now:      now,
	}
	f.catalog = NewCatalog(
		NewStoredSource(f.repo),
		NewDeclaredSource(f.registry, f.cache),
		f.registry,
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

// registerEnabled registers a stored task and turns it on.
func (f *fixture) registerEnabled(t *testing.T, expression, target string, args Arguments) *Task {
	t.Helper()
	ctx := context.Background()
	task, err := f.catalog.Register(ctx, expression, target, args, "")
	if err != nil {
		t.Fatalf("Register %s: %v", target, err)
	}
	if task, err = f.catalog.Enable(ctx, task.ID()); err != nil {
		t.Fatalf("Enable %s: %v", target, err)
	}
	return task
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}
