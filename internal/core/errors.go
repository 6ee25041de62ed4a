package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidExpression reports a cron expression that cannot be parsed or never fires.
	ErrInvalidExpression = errors.New("invalid cron expression")
	// ErrInvalidTarget reports a target that is unknown or does not accept the given arguments.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrUnknownTask reports an identifier that matches no stored task or declaration.
	ErrUnknownTask = errors.New("unknown task")
	// ErrLockDenied is returned by a Locker when another cycle holds the lock.
	ErrLockDenied = errors.New("lock denied")
	// ErrDuplicateTask reports a stored task with the same expression, target and arguments.
	ErrDuplicateTask = errors.New("duplicate task")
)

// ExecutionError wraps a failure raised by a task target during a run.
type ExecutionError struct {
	TaskID string
	Target string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("task %q (%s) failed: %v", e.Target, e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
