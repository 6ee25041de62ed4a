package main

import (
	"context"
	"fmt"
	"log/slog"

	"taskcron/internal/config"
	"taskcron/internal/core"
	"taskcron/internal/declared"
	"taskcron/internal/lock"
	"taskcron/internal/metrics"
	"taskcron/internal/natskv"
	"taskcron/internal/notify"
	"taskcron/internal/store"
)

// app holds everything a command needs, wired from the configuration.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	nats      *natskv.Client
	registry  *core.Registry
	scheduler *core.Scheduler
	runs      *store.RunRepo
	metrics   *metrics.Collector
	watcher   *declared.Watcher
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	st, err := store.Open(ctx, cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	if cfg.UsesNATS() {
		client, err := natskv.Connect(ctx, cfg.NATS.URL, cfg.NATS.BucketPrefix, cfg.Scheduler.LockTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nats = client
		logger.Debug("connected to NATS", "url", cfg.NATS.URL)
	}

	notifier, err := buildNotifier(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry = core.NewRegistry()
	if err := a.registry.Register(core.ShellTargetName, core.NewShellTarget(logger)); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.registry.Register(notify.TargetName, notify.NewTarget(notifier)); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Scheduler.Declarations != "" {
		a.watcher = declared.NewWatcher(cfg.Scheduler.Declarations, a.registry, logger)
		a.watcher.Reloaded = func(count int) {
			logger.Info("declarations reloaded", "path", cfg.Scheduler.Declarations, "count", count)
		}
		if err := a.watcher.Load(); err != nil {
			a.Close()
			return nil, fmt.Errorf("load declarations %s: %w", cfg.Scheduler.Declarations, err)
		}
	}

	var cache core.LastRunCache = st.LastRuns()
	if cfg.Scheduler.CacheDriver == config.DriverNATS {
		cache = a.nats.LastRuns()
	}
	catalog := core.NewCatalog(
		core.NewStoredSource(st.Tasks()),
		core.NewDeclaredSource(a.registry, cache, core.WithDeclaredLogger(logger)),
		a.registry,
		core.WithLocation(cfg.Location()),
	)

	a.runs = st.Runs(cfg.Scheduler.RunHistoryKeep, logger)
	observers := []core.Observer{core.NewLogObserver(logger), a.runs}
	if cfg.Server.Metrics {
		a.metrics = metrics.New(version)
		observers = append(observers, a.metrics)
	}
	if cfg.Notification.Bark.Enabled {
		observers = append(observers, notify.NewFailureObserver(notifier, logger))
	}

	var locker core.Locker
	switch cfg.Scheduler.LockDriver {
	case config.DriverNATS:
		locker = a.nats.Locker()
	default:
		fileLocker, err := lock.NewFileLocker(cfg.StateDir)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = fileLocker
	}

	a.scheduler = core.NewScheduler(catalog, a.registry, logger,
		core.WithLocker(locker, cfg.Scheduler.LockName),
		core.WithParallelExecution(cfg.Scheduler.AllowParallel),
		core.WithObservers(observers...),
	)
	return a, nil
}

// buildNotifier returns the rate-limited Bark notifier, or a no-op one when
// Bark is disabled.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	if !cfg.Notification.Bark.Enabled {
		return &notify.NoOpNotifier{}, nil
	}
	bark, err := notify.NewBarkNotifier(cfg.Notification.Bark.URL)
	if err != nil {
		return nil, fmt.Errorf("bark notifier: %w", err)
	}
	return notify.NewRateLimited(notify.NewMultiNotifier(bark), cfg.Notification.RatePerMinute), nil
}

func (a *app) Close() {
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.logger.Warn("close NATS connection", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", "err", err)
		}
	}
}
