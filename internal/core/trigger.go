package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger starts one cycle at the top of every minute while the process runs.
type Trigger struct {
	scheduler *Scheduler
	logger    *slog.Logger
	location  *time.Location
	cron      *cron.Cron
	ctx       context.Context
}

// NewTrigger builds a minute trigger evaluating in location. Overlapping ticks are skipped.
func NewTrigger(scheduler *Scheduler, logger *slog.Logger, location *time.Location) *Trigger {
	if location == nil {
		location = time.Local
	}
	clog := cronLogger{logger: logger}
	t := &Trigger{
		scheduler: scheduler,
		logger:    logger,
		location:  location,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(location),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
	}
	everyMinute, _ := cronParser.Parse(DefaultExpression)
	t.cron.Schedule(everyMinute, cron.FuncJob(t.tick))
	return t
}

// Start begins the trigger loop. Cycles inherit ctx's values but not its
// cancellation: a cycle that has started runs to completion, and Stop waits for it.
func (t *Trigger) Start(ctx context.Context) {
	t.ctx = ctx
	t.cron.Start()
}

// Stop stops the trigger; the returned context is done once a running cycle finishes.
func (t *Trigger) Stop() context.Context {
	return t.cron.Stop()
}

func (t *Trigger) tick() {
	ctx := context.Background()
	if t.ctx != nil {
		ctx = context.WithoutCancel(t.ctx)
	}
	now := time.Now().In(t.location).Truncate(time.Minute)
	report, err := t.scheduler.RunCycle(ctx, now, false)
	if err != nil {
		t.logger.Error("run cycle", "err", err)
		return
	}
	if report.Status == CycleLockDenied {
		return
	}
	if n := len(report.Results); n > 0 {
		t.logger.Info("cycle complete", "tasks", n, "failed", report.Failed())
	}
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
