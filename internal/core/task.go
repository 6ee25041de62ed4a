package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskStatus describes whether a task takes part in scheduling.
type TaskStatus int

const (
	StatusDisabled TaskStatus = 0
	StatusEnabled  TaskStatus = 1
)

func (s TaskStatus) String() string {
	if s == StatusEnabled {
		return "enabled"
	}
	return "disabled"
}

// Task is a unit of schedulable work. The next run instant is always derived
// from the expression and is only recomputed by the constructor, SetSchedule
// and MarkRun.
type Task struct {
	id          string
	expression  string
	schedule    cron.Schedule
	target      string
	arguments   Arguments
	fingerprint string
	description string
	status      TaskStatus
	createdAt   time.Time
	lastRunAt   *time.Time
	nextRunAt   time.Time
}

// TaskState is the persisted shape of a Task.
type TaskState struct {
	ID          string
	Expression  string
	Target      string
	Arguments   Arguments
	Fingerprint string
	Description string
	Status      TaskStatus
	CreatedAt   time.Time
	LastRunAt   *time.Time
	NextRunAt   *time.Time
}

// NewTask creates a disabled task whose first run is the next occurrence after now.
func NewTask(expression, target string, args Arguments, description string, now time.Time) (*Task, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("%w: target is required", ErrInvalidTarget)
	}
	t := &Task{
		target:      target,
		description: description,
		status:      StatusDisabled,
		createdAt:   now,
	}
	if err := t.setArguments(args); err != nil {
		return nil, err
	}
	if err := t.SetSchedule(expression, now); err != nil {
		return nil, err
	}
	return t, nil
}

// RestoreTask rebuilds a task from persisted state. A missing next run instant
// is recomputed from the last run, or from the creation time.
func RestoreTask(s TaskState) (*Task, error) {
	expression := NormalizeExpression(s.Expression)
	schedule, err := ParseCron(expression)
	if err != nil {
		return nil, err
	}
	t := &Task{
		id:          s.ID,
		expression:  expression,
		schedule:    schedule,
		target:      s.Target,
		arguments:   s.Arguments.Clone(),
		fingerprint: s.Fingerprint,
		description: s.Description,
		status:      s.Status,
		createdAt:   s.CreatedAt,
	}
	if t.fingerprint == "" {
		if t.fingerprint, err = Fingerprint(t.arguments); err != nil {
			return nil, err
		}
	}
	if s.LastRunAt != nil {
		last := *s.LastRunAt
		t.lastRunAt = &last
	}
	switch {
	case s.NextRunAt != nil:
		t.nextRunAt = *s.NextRunAt
	case t.lastRunAt != nil:
		t.nextRunAt, err = nextOf(schedule, expression, *t.lastRunAt)
	default:
		t.nextRunAt, err = nextOf(schedule, expression, s.CreatedAt)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// State returns a copy of the task suitable for persistence.
func (t *Task) State() TaskState {
	next := t.nextRunAt
	s := TaskState{
		ID:          t.id,
		Expression:  t.expression,
		Target:      t.target,
		Arguments:   t.arguments.Clone(),
		Fingerprint: t.fingerprint,
		Description: t.description,
		Status:      t.status,
		CreatedAt:   t.createdAt,
		NextRunAt:   &next,
	}
	if t.lastRunAt != nil {
		last := *t.lastRunAt
		s.LastRunAt = &last
	}
	return s
}

func (t *Task) ID() string           { return t.id }
func (t *Task) Expression() string   { return t.expression }
func (t *Task) Target() string       { return t.target }
func (t *Task) Arguments() Arguments { return t.arguments.Clone() }
func (t *Task) Fingerprint() string  { return t.fingerprint }
func (t *Task) Description() string  { return t.description }
func (t *Task) Status() TaskStatus   { return t.status }
func (t *Task) CreatedAt() time.Time { return t.createdAt }
func (t *Task) NextRunAt() time.Time { return t.nextRunAt }
func (t *Task) Enabled() bool        { return t.status == StatusEnabled }
func (t *Task) LastRunAt() *time.Time {
	if t.lastRunAt == nil {
		return nil
	}
	last := *t.lastRunAt
	return &last
}

// AssignID sets the durable identity handed out by the storage layer.
func (t *Task) AssignID(id string) {
	t.id = id
}

// SetDescription replaces the free-form description.
func (t *Task) SetDescription(description string) {
	t.description = description
}

// SetSchedule replaces the expression and recomputes the next run relative to now.
// On error the task is left unchanged.
func (t *Task) SetSchedule(expression string, now time.Time) error {
	expression = NormalizeExpression(expression)
	schedule, err := ParseCron(expression)
	if err != nil {
		return err
	}
	next, err := nextOf(schedule, expression, now)
	if err != nil {
		return err
	}
	t.expression = expression
	t.schedule = schedule
	t.nextRunAt = next
	return nil
}

func (t *Task) Enable() {
	t.status = StatusEnabled
}

func (t *Task) Disable() {
	t.status = StatusDisabled
}

// IsDue reports whether the task is enabled and its next run is not after now.
func (t *Task) IsDue(now time.Time) bool {
	return t.status == StatusEnabled && !t.nextRunAt.After(now)
}

// MarkRun records a run at now and advances the next run to the following occurrence.
func (t *Task) MarkRun(now time.Time) {
	last := now
	t.lastRunAt = &last
	if next := t.schedule.Next(now); !next.IsZero() {
		t.nextRunAt = next
	}
}

// Run resolves the target and invokes it with the task arguments. It does not
// touch any bookkeeping.
func (t *Task) Run(ctx context.Context, targets TargetResolver) error {
	impl, ok := targets.Resolve(t.target)
	if !ok {
		return fmt.Errorf("%w: target %q is not registered", ErrInvalidTarget, t.target)
	}
	return impl.Execute(ctx, t.arguments.Clone())
}

func (t *Task) setArguments(args Arguments) error {
	fp, err := Fingerprint(args)
	if err != nil {
		return err
	}
	t.arguments = args.Clone()
	t.fingerprint = fp
	return nil
}
