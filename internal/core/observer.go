package core

import (
	"context"
	"log/slog"
)

// Observer is notified around every task execution.
type Observer interface {
	BeforeRun(ctx context.Context, d Descriptor)
	AfterRun(ctx context.Context, res Result)
}

// CycleObserver is optionally implemented by observers interested in whole cycles.
type CycleObserver interface {
	CycleFinished(ctx context.Context, report *CycleReport)
}

// LogObserver writes structured begin/end/error records for each run.
type LogObserver struct {
	logger *slog.Logger
}

func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger}
}

func (o *LogObserver) BeforeRun(ctx context.Context, d Descriptor) {
	o.logger.DebugContext(ctx, "task starting", "task_id", d.ID, "target", d.Target, "kind", d.Kind)
}

func (o *LogObserver) AfterRun(ctx context.Context, res Result) {
	d := res.Task
	if res.Err != nil {
		o.logger.ErrorContext(ctx, "task failed", "task_id", d.ID, "target", d.Target, "kind", d.Kind, "duration", res.Duration, "err", res.Err)
		return
	}
	o.logger.InfoContext(ctx, "task finished", "task_id", d.ID, "target", d.Target, "kind", d.Kind, "duration", res.Duration, "next_run_at", d.NextRunAt)
}

func (o *LogObserver) CycleFinished(ctx context.Context, report *CycleReport) {
	o.logger.DebugContext(ctx, "cycle finished", "status", report.Status, "dry_run", report.DryRun, "tasks", len(report.Results), "failed", report.Failed())
}
