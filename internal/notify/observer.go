package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"taskcron/internal/core"
)

// FailureObserver sends a notification whenever a task run fails.
type FailureObserver struct {
	notifier Notifier
	logger   *slog.Logger
}

var _ core.Observer = (*FailureObserver)(nil)

func NewFailureObserver(notifier Notifier, logger *slog.Logger) *FailureObserver {
	return &FailureObserver{notifier: notifier, logger: logger}
}

func (o *FailureObserver) BeforeRun(context.Context, core.Descriptor) {}

func (o *FailureObserver) AfterRun(ctx context.Context, res core.Result) {
	if res.Outcome != core.OutcomeError {
		return
	}
	d := res.Task
	title := fmt.Sprintf("taskcron: %s failed", d.Target)
	body := fmt.Sprintf("%s task %s (%s)\n%v", d.Kind, d.ID, d.Expression, res.Err)
	if err := o.notifier.Send(ctx, title, body); err != nil {
		if errors.Is(err, ErrRateLimited) {
			o.logger.Debug("failure notification dropped", "task_id", d.ID)
			return
		}
		o.logger.Warn("send failure notification", "task_id", d.ID, "err", err)
	}
}
