package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/coreos/go-systemd/v22/daemon"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"taskcron/internal/api"
	"taskcron/internal/config"
	"taskcron/internal/core"
	taskcronmcp "taskcron/internal/mcp"
)

// healthService is the name reported by the gRPC health endpoint.
const healthService = "taskcron.Scheduler"

// serveCommand runs the minute trigger plus whichever servers the mode asks
// for, until a signal arrives or a server fails.
func serveCommand(ctx context.Context, env *cmdEnv, _ []string) error {
	a, cfg, logger := env.app, env.cfg, env.logger
	mode := cfg.Server.Mode

	trigger := core.NewTrigger(a.scheduler, logger, cfg.Location())
	trigger.Start(ctx)
	logger.Info("trigger started", "location", cfg.Location().String(), "lock", cfg.Scheduler.LockDriver,
		"parallel", cfg.Scheduler.AllowParallel)

	if a.watcher != nil && cfg.Scheduler.WatchDeclarations {
		go func() {
			if err := a.watcher.Watch(ctx); err != nil {
				logger.Error("declarations watcher stopped", "err", err)
			}
		}()
	}

	serverErr := make(chan error, 3)

	var mcpServer *taskcronmcp.MCPServer
	if mode != config.ModeNone {
		mcpServer = taskcronmcp.NewMCPServer(a.scheduler, a.runs, logger, cfg.Location(), version)
	}
	if mode == config.ModeMCP || mode == config.ModeBoth {
		go func() {
			serverErr <- mcpServer.Run()
		}()
	}

	var httpServer *api.Server
	if mode == config.ModeHTTP || mode == config.ModeBoth {
		opts := api.Options{
			Addr:      cfg.Server.Addr,
			AuthToken: cfg.Server.AuthToken,
			Scheduler: a.scheduler,
			Targets:   a.registry,
			Runs:      a.runs,
			MCP:       mcpServer,
			Logger:    logger,
			Location:  cfg.Location(),
		}
		if a.metrics != nil {
			opts.Metrics = a.metrics.Handler()
		}
		httpServer = api.NewServer(opts)
		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()
	}

	var (
		grpcServer *grpc.Server
		healthSrv  *health.Server
	)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			trigger.Stop()
			return fmt.Errorf("listen for gRPC on %s: %w", cfg.Server.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer()
		healthSrv = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthSrv)
		healthSrv.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)
		go func() {
			logger.Info("gRPC health server listening", "addr", cfg.Server.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				serverErr <- err
			}
		}()
	}

	notifySystemd(env, daemon.SdNotifyReady)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down")
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "err", err)
			runErr = err
		} else {
			logger.Info("MCP stdio closed, shutting down")
		}
	}

	notifySystemd(env, daemon.SdNotifyStopping)

	if healthSrv != nil {
		healthSrv.Shutdown()
		grpcServer.GracefulStop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}

	select {
	case <-trigger.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("trigger stop timed out")
	}
	logger.Info("shutdown complete")
	return runErr
}

func notifySystemd(env *cmdEnv, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		env.logger.Warn("sd_notify failed", "state", state, "err", err)
		return
	}
	if sent {
		env.logger.Debug("sd_notify sent", "state", state)
	}
}
