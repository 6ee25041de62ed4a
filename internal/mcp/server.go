package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskcron/internal/core"
	"taskcron/internal/store"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the scheduler as MCP tools.
type MCPServer struct {
	scheduler *core.Scheduler
	runs      *store.RunRepo
	logger    *slog.Logger
	location  *time.Location
	server    *server.MCPServer
	http      *server.StreamableHTTPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
// runs may be nil when run history is not kept.
func NewMCPServer(scheduler *core.Scheduler, runs *store.RunRepo, logger *slog.Logger, location *time.Location, version string) *MCPServer {
	s := &MCPServer{
		scheduler: scheduler,
		runs:      runs,
		logger:    logger,
		location:  location,
	}
	s.server = server.NewMCPServer(
		"taskcron",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(s.server)
	s.http = server.NewStreamableHTTPServer(s.server)
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// ServeHTTP serves the streamable HTTP transport so the server can be mounted
// on the API router.
func (s *MCPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.ServeHTTP(w, r)
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("cron_list_tasks",
		mcp.WithDescription("List stored and declared tasks ordered by next execution"),
		mcp.WithString("kind",
			mcp.Description("Only list tasks of this kind"),
			mcp.Enum(string(core.KindStored), string(core.KindDeclared)),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("cron_register_task",
		mcp.WithDescription("Register a stored task. Use a standard 5-field cron expression (minute hour day month weekday)"),
		mcp.WithString("target",
			mcp.Required(),
			mcp.Description("Registered target name, e.g. 'shell' or 'notify'"),
		),
		mcp.WithString("cron",
			mcp.Description("Cron expression, e.g. '0 9 * * 1-5' for 9am on weekdays. Defaults to every minute"),
		),
		mcp.WithString("arguments",
			mcp.Description("Target arguments as a JSON object"),
		),
		mcp.WithString("command",
			mcp.Description("Shell command; shorthand for the shell target's arguments"),
		),
		mcp.WithString("working_dir",
			mcp.Description("Working directory for the shell command"),
		),
		mcp.WithNumber("timeout_minutes",
			mcp.Description("Shell command timeout in minutes"),
			mcp.Min(0),
		),
		mcp.WithString("description",
			mcp.Description("Free text description"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Enable the task right away. New tasks start disabled"),
		),
	), s.handleRegisterTask)

	mcpServer.AddTool(mcp.NewTool("cron_get_task",
		mcp.WithDescription("Show task details"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID or declared task key"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("cron_update_task",
		mcp.WithDescription("Change the schedule or status of a stored task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
		mcp.WithString("cron",
			mcp.Description("New cron expression"),
		),
		mcp.WithBoolean("enabled",
			mcp.Description("Turn the task on or off"),
		),
	), s.handleUpdateTask)

	mcpServer.AddTool(mcp.NewTool("cron_delete_task",
		mcp.WithDescription("Remove a stored task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID"),
		),
	), s.handleDeleteTask)

	mcpServer.AddTool(mcp.NewTool("cron_run_task",
		mcp.WithDescription("Run a task now regardless of its schedule and status"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID or declared task key"),
		),
	), s.handleRunTask)

	mcpServer.AddTool(mcp.NewTool("cron_run_cycle",
		mcp.WithDescription("Run every due task once, as the minute trigger does"),
		mcp.WithBoolean("dry_run",
			mcp.Description("Only report which tasks are due"),
		),
	), s.handleRunCycle)

	mcpServer.AddTool(mcp.NewTool("cron_list_runs",
		mcp.WithDescription("Show the run history of a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task ID or declared task key"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of runs to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListRuns)

	mcpServer.AddTool(mcp.NewTool("cron_preview",
		mcp.WithDescription("Preview the next fire times of a cron expression"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("Cron expression"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Debug("MCP tools registered", "count", 9)
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind := mcp.ParseString(request, "kind", "")
	descriptors, err := s.scheduler.Catalog().AllTasks(ctx)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}

	var b strings.Builder
	n := 0
	for _, d := range descriptors {
		if kind != "" && string(d.Kind) != kind {
			continue
		}
		n++
		fmt.Fprintf(&b, "[%s] %s (%s)\n", d.Enabled, d.ID, d.Kind)
		fmt.Fprintf(&b, "  Target: %s\n", d.Target)
		fmt.Fprintf(&b, "  Cron: %s\n", d.Expression)
		if d.Description != "" {
			fmt.Fprintf(&b, "  Description: %s\n", truncateString(d.Description, 60))
		}
		fmt.Fprintf(&b, "  Next run: %s\n\n", s.formatTime(&d.NextRunAt))
	}
	if n == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d tasks:\n\n%s", n, b.String())), nil
}

func (s *MCPServer) handleRegisterTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target := mcp.ParseString(request, "target", "")
	cronExpr := mcp.ParseString(request, "cron", core.DefaultExpression)
	description := mcp.ParseString(request, "description", "")

	args, err := BuildArguments(mcp.ParseString(request, "arguments", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if command := mcp.ParseString(request, "command", ""); command != "" && args == nil {
		args = BuildShellArguments(command,
			mcp.ParseString(request, "working_dir", ""),
			mcp.ParseFloat64(request, "timeout_minutes", 0))
	}

	catalog := s.scheduler.Catalog()
	task, err := catalog.Register(ctx, cronExpr, target, args, description)
	if err != nil {
		return toolError("failed to register task", err), nil
	}
	if mcp.ParseBoolean(request, "enabled", false) {
		if task, err = catalog.Enable(ctx, task.ID()); err != nil {
			return toolError("failed to enable task", err), nil
		}
	}
	s.logger.Info("task registered", "task_id", task.ID(), "target", task.Target(), "expression", task.Expression())

	next := task.NextRunAt()
	return mcp.NewToolResultText(fmt.Sprintf("Task registered\nID: %s\nTarget: %s\nStatus: %s\nNext run: %s",
		task.ID(), task.Target(), task.Status(), s.formatTime(&next))), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	d, err := s.scheduler.Catalog().Find(ctx, taskID)
	if err != nil {
		return toolError("failed to load task", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task ID: %s\n", d.ID)
	fmt.Fprintf(&b, "Kind: %s\n", d.Kind)
	fmt.Fprintf(&b, "Status: %s\n", d.Status)
	fmt.Fprintf(&b, "Target: %s\n", d.Target)
	fmt.Fprintf(&b, "Cron: %s\n", d.Expression)
	if args := d.Task.Arguments(); len(args) > 0 {
		fmt.Fprintf(&b, "Arguments: %v\n", map[string]any(args))
	}
	if d.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", d.Description)
	}
	fmt.Fprintf(&b, "Last run: %s\n", s.formatTime(d.LastRunAt))
	fmt.Fprintf(&b, "Next run: %s\n", s.formatTime(&d.NextRunAt))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUpdateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	catalog := s.scheduler.Catalog()

	var (
		task *core.Task
		err  error
	)
	if cronExpr := mcp.ParseString(request, "cron", ""); cronExpr != "" {
		if task, err = catalog.SetSchedule(ctx, taskID, cronExpr); err != nil {
			return toolError("failed to update schedule", err), nil
		}
	}
	if _, ok := request.GetArguments()["enabled"]; ok {
		if mcp.ParseBoolean(request, "enabled", true) {
			task, err = catalog.Enable(ctx, taskID)
		} else {
			task, err = catalog.Disable(ctx, taskID)
		}
		if err != nil {
			return toolError("failed to update status", err), nil
		}
	}
	if task == nil {
		return mcp.NewToolResultError("nothing to update: pass cron or enabled"), nil
	}
	next := task.NextRunAt()
	return mcp.NewToolResultText(fmt.Sprintf("Task updated: %s\nStatus: %s\nCron: %s\nNext run: %s",
		task.ID(), task.Status(), task.Expression(), s.formatTime(&next))), nil
}

func (s *MCPServer) handleDeleteTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.scheduler.Catalog().Remove(ctx, taskID); err != nil {
		return toolError("failed to remove task", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task removed: %s", taskID)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	now := s.scheduler.Catalog().Now().In(s.location)
	res, err := s.scheduler.RunSingle(ctx, taskID, now)
	if err != nil {
		return toolError("failed to run task", err), nil
	}
	return mcp.NewToolResultText(formatResult(*res)), nil
}

func (s *MCPServer) handleRunCycle(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dryRun := mcp.ParseBoolean(request, "dry_run", false)
	now := s.scheduler.Catalog().Now().In(s.location).Truncate(time.Minute)
	report, err := s.scheduler.RunCycle(ctx, now, dryRun)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cycle failed: %v", err)), nil
	}
	if report.Status == core.CycleLockDenied {
		return mcp.NewToolResultText("Another cycle is running, nothing done"), nil
	}
	if len(report.Results) == 0 {
		return mcp.NewToolResultText("No tasks due"), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d tasks, %d failed\n\n", len(report.Results), report.Failed())
	for _, res := range report.Results {
		b.WriteString(formatResult(res))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))
	if s.runs == nil {
		return mcp.NewToolResultText("Run history is not kept"), nil
	}

	runs, err := s.runs.List(ctx, taskID, limit, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("No runs recorded for this task"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d runs:\n\n", len(runs))
	for _, r := range runs {
		fmt.Fprintf(&b, "[%s] Run ID: %s\n", r.Outcome, r.ID)
		fmt.Fprintf(&b, "    Started: %s\n", s.formatTime(&r.StartedAt))
		fmt.Fprintf(&b, "    Duration: %s\n", r.Duration)
		if r.Error != "" {
			fmt.Fprintf(&b, "    Error: %s\n", truncateString(r.Error, 200))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")

	schedule, err := core.ParseCron(cronExpr)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	count := int(mcp.ParseFloat64(request, "count", 5))
	if count < 1 || count > 10 {
		count = 5
	}

	now := time.Now().In(s.location)
	nextTimes := core.NextOccurrences(schedule, now, count)

	var b strings.Builder
	fmt.Fprintf(&b, "Cron: %s\n", core.NormalizeExpression(cronExpr))
	fmt.Fprintf(&b, "Time zone: %s\n\n", s.location)
	b.WriteString("Next fire times:\n")
	for i, t := range nextTimes {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, t.Format("2006-01-02 15:04:05"))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}

func formatResult(res core.Result) string {
	switch res.Outcome {
	case core.OutcomeError:
		return fmt.Sprintf("[Error] %s (%s): %v", res.Task.Target, res.Task.ID, res.Err)
	case core.OutcomeSkippedDryRun:
		return fmt.Sprintf("[Skipped, dry run] %s (%s)", res.Task.Target, res.Task.ID)
	default:
		return fmt.Sprintf("[Success] %s (%s) in %s", res.Task.Target, res.Task.ID, res.Duration.Round(time.Millisecond))
	}
}

func toolError(prefix string, err error) *mcp.CallToolResult {
	if errors.Is(err, core.ErrUnknownTask) {
		return mcp.NewToolResultError(fmt.Sprintf("task not found: %v", err))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
