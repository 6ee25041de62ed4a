package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskcron/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one recorded task execution.
type Run struct {
	ID        string
	TaskID    string
	Kind      core.SourceKind
	Target    string
	Outcome   core.Outcome
	StartedAt time.Time
	Duration  time.Duration
	Error     string
	CreatedAt time.Time
}

// RunRepo records execution history. It is attached to the scheduler as an
// observer and keeps at most retention runs per task.
type RunRepo struct {
	db        *sql.DB
	retention int
	logger    *slog.Logger
}

var _ core.Observer = (*RunRepo)(nil)

// Runs returns the run history repository.
func (s *Store) Runs(retention int, logger *slog.Logger) *RunRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunRepo{db: s.DB, retention: retention, logger: logger}
}

func (r *RunRepo) BeforeRun(context.Context, core.Descriptor) {}

// AfterRun stores the result and prunes old history for the task.
func (r *RunRepo) AfterRun(ctx context.Context, res core.Result) {
	run := &Run{
		TaskID:    res.Task.ID,
		Kind:      res.Task.Kind,
		Target:    res.Task.Target,
		Outcome:   res.Outcome,
		StartedAt: res.StartedAt,
		Duration:  res.Duration,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if err := r.Insert(ctx, run); err != nil {
		r.logger.Error("record run", "task_id", run.TaskID, "err", err)
		return
	}
	if err := r.Prune(ctx, run.TaskID); err != nil {
		r.logger.Warn("prune runs", "task_id", run.TaskID, "err", err)
	}
}

func (r *RunRepo) Insert(ctx context.Context, run *Run) error {
	if run.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate run id: %w", err)
		}
		run.ID = id.String()
	}
	run.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, task_id, kind, target, outcome, started_at, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.TaskID, string(run.Kind), run.Target, string(run.Outcome), formatTime(run.StartedAt),
		run.Duration.Milliseconds(), nullableString(run.Error), formatTime(run.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, task_id, kind, target, outcome, started_at, duration_ms, error, created_at
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns the most recent runs of a task, newest first.
func (r *RunRepo) List(ctx context.Context, taskID string, limit, offset int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, kind, target, outcome, started_at, duration_ms, error, created_at
		FROM runs
		WHERE task_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, taskID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Prune deletes runs of a task beyond the retention limit. A non-positive
// retention keeps everything.
func (r *RunRepo) Prune(ctx context.Context, taskID string) error {
	if r.retention <= 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE task_id = ? AND id NOT IN (
			SELECT id FROM runs WHERE task_id = ? ORDER BY created_at DESC, id DESC LIMIT ?
		)
	`, taskID, taskID, r.retention)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*Run, error) {
	var (
		run        Run
		kind       string
		outcome    string
		startedAt  string
		durationMS int64
		errMsg     sql.NullString
		createdAt  string
	)
	if err := scanner.Scan(&run.ID, &run.TaskID, &kind, &run.Target, &outcome, &startedAt, &durationMS, &errMsg, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Kind = core.SourceKind(kind)
	run.Outcome = core.Outcome(outcome)
	run.Duration = time.Duration(durationMS) * time.Millisecond
	run.Error = errMsg.String
	var err error
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, fmt.Errorf("run %s started_at: %w", run.ID, err)
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("run %s created_at: %w", run.ID, err)
	}
	return &run, nil
}
