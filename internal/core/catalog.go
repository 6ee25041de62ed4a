package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Catalog merges stored and declared tasks into one ordered view and routes
// writes to the source that owns each task.
type Catalog struct {
	stored   *StoredSource
	declared *DeclaredSource
	targets  TargetResolver
	now      func() time.Time
	location *time.Location
}

// CatalogOption customizes a Catalog.
type CatalogOption func(*Catalog)

// WithClock overrides the clock used when no instant is passed explicitly.
func WithClock(now func() time.Time) CatalogOption {
	return func(c *Catalog) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLocation sets the zone cron expressions are evaluated in. Instants
// passed to or read by the catalog are converted to it first.
func WithLocation(loc *time.Location) CatalogOption {
	return func(c *Catalog) {
		if loc != nil {
			c.location = loc
		}
	}
}

// NewCatalog wires the two sources and the target resolver used to validate registrations.
func NewCatalog(stored *StoredSource, declared *DeclaredSource, targets TargetResolver, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		stored:   stored,
		declared: declared,
		targets:  targets,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the catalog clock reading in the catalog location.
func (c *Catalog) Now() time.Time {
	return c.in(c.now())
}

func (c *Catalog) in(t time.Time) time.Time {
	if c.location == nil {
		return t
	}
	return t.In(c.location)
}

// AllTasks lists every stored and declared task ordered by next run.
func (c *Catalog) AllTasks(ctx context.Context) ([]Descriptor, error) {
	now := c.Now()
	stored, err := c.stored.All(ctx)
	if err != nil {
		return nil, err
	}
	declared, err := c.declared.All(ctx, now)
	if err != nil {
		return nil, err
	}
	return merge(stored, declared), nil
}

// DueTasks lists the tasks due at now ordered by next run. Stored tasks come
// before declared ones with the same next run second.
func (c *Catalog) DueTasks(ctx context.Context, now time.Time) ([]Descriptor, error) {
	now = c.in(now)
	stored, err := c.stored.Due(ctx, now)
	if err != nil {
		return nil, err
	}
	declared, err := c.declared.Due(ctx, now)
	if err != nil {
		return nil, err
	}
	return merge(stored, declared), nil
}

// Register creates and stores a task. New tasks start disabled; Enable turns
// them on. It fails with ErrInvalidTarget
// when the target is unknown or rejects the arguments, ErrInvalidExpression for
// bad schedules and ErrDuplicateTask when the same task already exists.
func (c *Catalog) Register(ctx context.Context, expression, target string, args Arguments, description string) (*Task, error) {
	target = strings.TrimSpace(target)
	impl, ok := c.targets.Resolve(target)
	if !ok {
		return nil, fmt.Errorf("%w: target %q is not registered", ErrInvalidTarget, target)
	}
	if v, ok := impl.(ArgumentsValidator); ok {
		if err := v.ValidateArguments(args); err != nil {
			return nil, fmt.Errorf("%w: target %q rejected arguments: %v", ErrInvalidTarget, target, err)
		}
	}
	task, err := NewTask(expression, target, args, description, c.Now())
	if err != nil {
		return nil, err
	}
	existing, err := c.stored.FindByTargetAndFingerprint(ctx, task.Target(), task.Fingerprint())
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Expression() == task.Expression() {
		return nil, fmt.Errorf("%w: %q with %q already registered as %s", ErrDuplicateTask, target, task.Expression(), existing.ID())
	}
	if err := c.stored.Add(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Find returns the descriptor for a stored task id or a declared task key.
func (c *Catalog) Find(ctx context.Context, id string) (Descriptor, error) {
	task, err := c.stored.FindByID(ctx, id)
	if err == nil {
		return Describe(KindStored, task), nil
	}
	if !errors.Is(err, ErrUnknownTask) {
		return Descriptor{}, err
	}
	declared, err := c.declared.All(ctx, c.Now())
	if err != nil {
		return Descriptor{}, err
	}
	for _, t := range declared {
		if t.ID() == id {
			return Describe(KindDeclared, t), nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
}

// Remove deletes a stored task.
func (c *Catalog) Remove(ctx context.Context, id string) error {
	task, err := c.stored.FindByID(ctx, id)
	if err != nil {
		return err
	}
	return c.stored.Remove(ctx, task)
}

// Enable turns a stored task on.
func (c *Catalog) Enable(ctx context.Context, id string) (*Task, error) {
	return c.mutate(ctx, id, func(t *Task) error {
		t.Enable()
		return nil
	})
}

// Disable turns a stored task off.
func (c *Catalog) Disable(ctx context.Context, id string) (*Task, error) {
	return c.mutate(ctx, id, func(t *Task) error {
		t.Disable()
		return nil
	})
}

// SetSchedule replaces a stored task's expression, recomputing its next run from now.
func (c *Catalog) SetSchedule(ctx context.Context, id, expression string) (*Task, error) {
	now := c.Now()
	return c.mutate(ctx, id, func(t *Task) error {
		return t.SetSchedule(expression, now)
	})
}

// UpdateAfterRun persists a task's bookkeeping to the source that owns it.
func (c *Catalog) UpdateAfterRun(ctx context.Context, d Descriptor) error {
	switch d.Kind {
	case KindStored:
		return c.stored.Update(ctx, d.Task)
	case KindDeclared:
		return c.declared.Record(ctx, d.Task)
	default:
		return fmt.Errorf("unknown task kind %q", d.Kind)
	}
}

func (c *Catalog) mutate(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	task, err := c.stored.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	if err := c.stored.Update(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func merge(stored, declared []*Task) []Descriptor {
	out := make([]Descriptor, 0, len(stored)+len(declared))
	for _, t := range stored {
		out = append(out, Describe(KindStored, t))
	}
	for _, t := range declared {
		out = append(out, Describe(KindDeclared, t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NextRunEpoch < out[j].NextRunEpoch
	})
	return out
}
