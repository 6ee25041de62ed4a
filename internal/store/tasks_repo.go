package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskcron/internal/core"
)

// TaskRepo persists stored tasks. It implements core.TaskRepository.
type TaskRepo struct {
	db *sql.DB
}

var _ core.TaskRepository = (*TaskRepo)(nil)

// Tasks returns the stored-task repository.
func (s *Store) Tasks() *TaskRepo {
	return &TaskRepo{db: s.DB}
}

const taskColumns = `id, expression, target, arguments, arguments_hash, description, status, last_run_at, next_run_at, created_at`

// Add inserts a new task and assigns it a fresh identifier.
func (r *TaskRepo) Add(ctx context.Context, task *core.Task) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate task id: %w", err)
	}
	state := task.State()
	args, err := json.Marshal(state.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id.String(), state.Expression, state.Target, string(args), state.Fingerprint, state.Description,
		int(state.Status), nullableTime(state.LastRunAt), nullableTime(state.NextRunAt),
		formatTime(state.CreatedAt), formatTime(time.Now()))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q with %q", core.ErrDuplicateTask, state.Target, state.Expression)
		}
		return fmt.Errorf("insert task: %w", err)
	}
	task.AssignID(id.String())
	return nil
}

func (r *TaskRepo) Update(ctx context.Context, task *core.Task) error {
	state := task.State()
	args, err := json.Marshal(state.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tasks
		SET expression = ?, target = ?, arguments = ?, arguments_hash = ?, description = ?, status = ?,
			last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?
	`, state.Expression, state.Target, string(args), state.Fingerprint, state.Description, int(state.Status),
		nullableTime(state.LastRunAt), nullableTime(state.NextRunAt), formatTime(time.Now()), state.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %q with %q", core.ErrDuplicateTask, state.Target, state.Expression)
		}
		return fmt.Errorf("update task: %w", err)
	}
	return expectRow(res, state.ID)
}

func (r *TaskRepo) Remove(ctx context.Context, task *core.Task) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, task.ID())
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectRow(res, task.ID())
}

// All lists every stored task, enabled first, then by next run.
func (r *TaskRepo) All(ctx context.Context) ([]*core.Task, error) {
	return r.query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY status DESC, next_run_at ASC, created_at ASC
	`)
}

func (r *TaskRepo) Due(ctx context.Context, now time.Time) ([]*core.Task, error) {
	return r.query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ? AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC, created_at ASC
	`, int(core.StatusEnabled), formatTime(now))
}

func (r *TaskRepo) FindByID(ctx context.Context, id string) (*core.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownTask, id)
	}
	return task, err
}

func (r *TaskRepo) FindByTargetAndFingerprint(ctx context.Context, target, fingerprint string) (*core.Task, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE target = ? AND arguments_hash = ?
		ORDER BY created_at ASC
		LIMIT 1
	`, target, fingerprint)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return task, err
}

func (r *TaskRepo) query(ctx context.Context, query string, args ...any) ([]*core.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*core.Task, error) {
	var (
		state     core.TaskState
		args      string
		status    int
		lastRun   sql.NullString
		nextRun   sql.NullString
		createdAt string
	)
	if err := scanner.Scan(&state.ID, &state.Expression, &state.Target, &args, &state.Fingerprint,
		&state.Description, &status, &lastRun, &nextRun, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	state.Status = core.TaskStatus(status)
	if err := json.Unmarshal([]byte(args), &state.Arguments); err != nil {
		return nil, fmt.Errorf("decode arguments of task %s: %w", state.ID, err)
	}
	var err error
	if state.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s created_at: %w", state.ID, err)
	}
	if lastRun.Valid {
		t, err := parseTime(lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("task %s last_run_at: %w", state.ID, err)
		}
		state.LastRunAt = &t
	}
	if nextRun.Valid {
		t, err := parseTime(nextRun.String)
		if err != nil {
			return nil, fmt.Errorf("task %s next_run_at: %w", state.ID, err)
		}
		state.NextRunAt = &t
	}
	task, err := core.RestoreTask(state)
	if err != nil {
		return nil, fmt.Errorf("restore task %s: %w", state.ID, err)
	}
	return task, nil
}

func expectRow(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", core.ErrUnknownTask, id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
