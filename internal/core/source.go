package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TaskRepository is the persistence contract for stored tasks.
type TaskRepository interface {
	Add(ctx context.Context, task *Task) error
	Remove(ctx context.Context, task *Task) error
	Update(ctx context.Context, task *Task) error
	// All returns every stored task regardless of status.
	All(ctx context.Context) ([]*Task, error)
	// Due returns enabled tasks whose next run is not after now, ordered by next run.
	Due(ctx context.Context, now time.Time) ([]*Task, error)
	// FindByID returns ErrUnknownTask when no task has the id.
	FindByID(ctx context.Context, id string) (*Task, error)
	// FindByTargetAndFingerprint returns nil, nil when nothing matches.
	FindByTargetAndFingerprint(ctx context.Context, target, fingerprint string) (*Task, error)
}

// LastRunCache remembers when each declared task last ran, keyed by DeclaredKey.
type LastRunCache interface {
	Get(ctx context.Context, key string) (time.Time, bool, error)
	Set(ctx context.Context, key string, at time.Time) error
}

// StoredSource exposes the tasks kept in a TaskRepository.
type StoredSource struct {
	repo TaskRepository
}

func NewStoredSource(repo TaskRepository) *StoredSource {
	return &StoredSource{repo: repo}
}

func (s *StoredSource) All(ctx context.Context) ([]*Task, error) {
	tasks, err := s.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored tasks: %w", err)
	}
	return tasks, nil
}

func (s *StoredSource) Due(ctx context.Context, now time.Time) ([]*Task, error) {
	tasks, err := s.repo.Due(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due stored tasks: %w", err)
	}
	// Repositories filter on persisted columns; re-check against the entity rule.
	due := tasks[:0]
	for _, t := range tasks {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

func (s *StoredSource) Add(ctx context.Context, task *Task) error {
	return s.repo.Add(ctx, task)
}

func (s *StoredSource) Remove(ctx context.Context, task *Task) error {
	return s.repo.Remove(ctx, task)
}

func (s *StoredSource) Update(ctx context.Context, task *Task) error {
	return s.repo.Update(ctx, task)
}

func (s *StoredSource) FindByID(ctx context.Context, id string) (*Task, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *StoredSource) FindByTargetAndFingerprint(ctx context.Context, target, fingerprint string) (*Task, error) {
	return s.repo.FindByTargetAndFingerprint(ctx, target, fingerprint)
}

// DeclaredSource materializes declarations into always-enabled tasks. Their
// schedule state lives only in the last-run cache.
type DeclaredSource struct {
	decls  Declarations
	cache  LastRunCache
	logger *slog.Logger
}

// DeclaredOption customizes a DeclaredSource.
type DeclaredOption func(*DeclaredSource)

// WithDeclaredLogger sets the logger used to report declarations that cannot be scheduled.
func WithDeclaredLogger(logger *slog.Logger) DeclaredOption {
	return func(s *DeclaredSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewDeclaredSource(decls Declarations, cache LastRunCache, opts ...DeclaredOption) *DeclaredSource {
	s := &DeclaredSource{decls: decls, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// All builds a fresh task for every declaration, evaluated in now's location.
// A declaration that never ran gets the most recent occurrence at or before
// now as its next run, so it is due immediately. A declaration whose schedule
// cannot be computed is logged and left out.
func (s *DeclaredSource) All(ctx context.Context, now time.Time) ([]*Task, error) {
	decls := s.decls.Declarations()
	tasks := make([]*Task, 0, len(decls))
	for _, d := range decls {
		last, found, err := s.cache.Get(ctx, DeclaredKey(d.Target))
		if err != nil {
			return nil, fmt.Errorf("read last run of %q: %w", d.Target, err)
		}
		t, err := materialize(d, now, last, found)
		if err != nil {
			s.logger.Error("skipping declared task", "target", d.Target, "expression", d.Expression, "err", err)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Due returns the declared tasks that never ran, or whose next occurrence
// after the last run is not after now.
func (s *DeclaredSource) Due(ctx context.Context, now time.Time) ([]*Task, error) {
	all, err := s.All(ctx, now)
	if err != nil {
		return nil, err
	}
	due := make([]*Task, 0, len(all))
	for _, t := range all {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// Record persists the task's last run instant to the cache.
func (s *DeclaredSource) Record(ctx context.Context, task *Task) error {
	last := task.LastRunAt()
	if last == nil {
		return nil
	}
	if err := s.cache.Set(ctx, task.ID(), *last); err != nil {
		return fmt.Errorf("record last run of %q: %w", task.Target(), err)
	}
	return nil
}

func materialize(d Declaration, now, last time.Time, found bool) (*Task, error) {
	state := TaskState{
		ID:          DeclaredKey(d.Target),
		Expression:  d.Expression,
		Target:      d.Target,
		Description: d.Description,
		Status:      StatusEnabled,
		CreatedAt:   now,
	}
	if found {
		// Caches hand back UTC; the schedule is evaluated in the caller's zone.
		last = last.In(now.Location())
		state.LastRunAt = &last
	} else {
		next, err := Previous(d.Expression, now)
		if err != nil {
			return nil, err
		}
		state.NextRunAt = &next
	}
	return RestoreTask(state)
}
