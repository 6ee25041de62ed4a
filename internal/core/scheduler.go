package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// DefaultLockName identifies the advisory lock held for the duration of a cycle.
const DefaultLockName = "taskcron.cycle"

// Locker hands out a non-blocking advisory lock shared by every process that
// runs cycles against the same catalog.
type Locker interface {
	// TryAcquire returns ErrLockDenied when the lock is held elsewhere.
	TryAcquire(ctx context.Context, name string) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Outcome is the result of one task within a cycle.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeSkippedDryRun Outcome = "skipped_dry_run"
	OutcomeError         Outcome = "error"
)

// CycleStatus is the overall result of a cycle.
type CycleStatus string

const (
	CycleCompleted  CycleStatus = "completed"
	CycleLockDenied CycleStatus = "lock_denied"
)

// Result describes a single task execution.
type Result struct {
	Task      Descriptor
	Outcome   Outcome
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// CycleReport collects the results of one cycle.
type CycleReport struct {
	Now     time.Time
	DryRun  bool
	Status  CycleStatus
	Results []Result
}

// Failed returns the number of task results with an error outcome.
func (r *CycleReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeError {
			n++
		}
	}
	return n
}

// Scheduler runs due tasks one cycle at a time.
type Scheduler struct {
	catalog       *Catalog
	targets       TargetResolver
	locker        Locker
	lockName      string
	allowParallel bool
	observers     []Observer
	logger        *slog.Logger
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithLocker sets the lock used to keep cycles from overlapping.
func WithLocker(locker Locker, name string) SchedulerOption {
	return func(s *Scheduler) {
		s.locker = locker
		if name != "" {
			s.lockName = name
		}
	}
}

// WithParallelExecution skips the advisory lock entirely.
func WithParallelExecution(allow bool) SchedulerOption {
	return func(s *Scheduler) { s.allowParallel = allow }
}

// WithObservers attaches execution hooks.
func WithObservers(observers ...Observer) SchedulerOption {
	return func(s *Scheduler) { s.observers = append(s.observers, observers...) }
}

// NewScheduler constructs a scheduler with the given dependencies.
func NewScheduler(catalog *Catalog, targets TargetResolver, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		catalog:  catalog,
		targets:  targets,
		lockName: DefaultLockName,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Catalog returns the catalog the scheduler draws tasks from.
func (s *Scheduler) Catalog() *Catalog {
	return s.catalog
}

// RunCycle executes every task due at now, one after another. A failing task
// is recorded and the cycle moves on; its schedule still advances. When
// dryRun is set nothing is executed and nothing is recorded. Once tasks are
// running, cancelling ctx does not prevent their runs from being recorded.
func (s *Scheduler) RunCycle(ctx context.Context, now time.Time, dryRun bool) (report *CycleReport, err error) {
	now = s.catalog.in(now)
	report = &CycleReport{Now: now, DryRun: dryRun, Status: CycleCompleted}
	defer func() {
		if err == nil {
			s.notifyCycle(context.WithoutCancel(ctx), report)
		}
	}()

	if !s.allowParallel && s.locker != nil {
		lock, err := s.locker.TryAcquire(ctx, s.lockName)
		if errors.Is(err, ErrLockDenied) {
			s.logger.Info("cycle skipped, lock held elsewhere", "lock", s.lockName)
			report.Status = CycleLockDenied
			return report, nil
		}
		if err != nil {
			return nil, fmt.Errorf("acquire lock %q: %w", s.lockName, err)
		}
		defer func() {
			if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
				s.logger.Error("release lock", "lock", s.lockName, "err", rerr)
			}
		}()
	}

	due, err := s.catalog.DueTasks(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	for _, d := range due {
		if dryRun {
			report.Results = append(report.Results, Result{Task: d, Outcome: OutcomeSkippedDryRun, StartedAt: now})
			continue
		}
		report.Results = append(report.Results, s.execute(ctx, d, now))
	}
	return report, nil
}

// RunSingle executes one task by id regardless of its status or schedule,
// then records the run like a cycle would.
func (s *Scheduler) RunSingle(ctx context.Context, id string, now time.Time) (*Result, error) {
	d, err := s.catalog.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	res := s.execute(ctx, d, s.catalog.in(now))
	return &res, nil
}

func (s *Scheduler) execute(ctx context.Context, d Descriptor, now time.Time) Result {
	res := Result{Task: d, StartedAt: time.Now()}
	for _, o := range s.observers {
		o.BeforeRun(ctx, d)
	}

	runErr := s.invoke(ctx, d)

	// Bookkeeping happens on success and on failure alike, and survives
	// cancellation of the cycle.
	bookCtx := context.WithoutCancel(ctx)
	d.Task.MarkRun(now)
	if err := s.catalog.UpdateAfterRun(bookCtx, d); err != nil {
		s.logger.Error("record task run", "task_id", d.ID, "target", d.Target, "kind", d.Kind, "err", err)
		if runErr == nil {
			runErr = fmt.Errorf("record run: %w", err)
		}
	}

	res.Duration = time.Since(res.StartedAt)
	res.Task = Describe(d.Kind, d.Task)
	if runErr != nil {
		res.Outcome = OutcomeError
		res.Err = runErr
	} else {
		res.Outcome = OutcomeSuccess
	}
	for _, o := range s.observers {
		o.AfterRun(bookCtx, res)
	}
	return res
}

func (s *Scheduler) invoke(ctx context.Context, d Descriptor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked", "task_id", d.ID, "target", d.Target, "panic", r, "stack", string(debug.Stack()))
			err = &ExecutionError{TaskID: d.ID, Target: d.Target, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := d.Task.Run(ctx, s.targets); err != nil {
		return &ExecutionError{TaskID: d.ID, Target: d.Target, Err: err}
	}
	return nil
}

func (s *Scheduler) notifyCycle(ctx context.Context, report *CycleReport) {
	for _, o := range s.observers {
		if co, ok := o.(CycleObserver); ok {
			co.CycleFinished(ctx, report)
		}
	}
}
