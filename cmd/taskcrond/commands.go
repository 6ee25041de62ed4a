package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"taskcron/internal/config"
	"taskcron/internal/core"
)

// statusLayout matches the ISO 8601 stamp in front of every status line.
const statusLayout = "2006-01-02T15:04:05-0700"

const lockDeniedMessage = "The scheduler is already running and parallel execution is disabled."

type cmdEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	app    *app
}

type command struct {
	summary    string
	usage      string
	standalone bool
	run        func(ctx context.Context, env *cmdEnv, args []string) error
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

var commands map[string]command

func init() {
	commands = map[string]command{
		"serve":      {summary: "run the minute trigger and the HTTP/MCP/gRPC servers", run: serveCommand},
		"run":        {summary: "run all due tasks once", usage: "[-dry-run]", run: runCommand},
		"list":       {summary: "list stored and declared tasks", run: listCommand},
		"register":   {summary: "register a stored task", usage: "-target NAME [-expression CRON] [-arguments JSON] [-description TEXT] [-enable]", run: registerCommand},
		"remove":     {summary: "remove a stored task", usage: "<task-id>", run: removeCommand},
		"enable":     {summary: "enable a stored task", usage: "<task-id>", run: enableCommand},
		"disable":    {summary: "disable a stored task", usage: "<task-id>", run: disableCommand},
		"run-single": {summary: "run one task now, ignoring status and schedule", usage: "<task-id>", run: runSingleCommand},
		"runs":       {summary: "show the run history of a task", usage: "[-limit N] <task-id>", run: runsCommand},
		"targets":    {summary: "list registered targets", run: targetsCommand},
		"preview":    {summary: "show the next fire times of a cron expression", usage: "[-count N] <expression>", standalone: true, run: previewCommand},
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func singleID(args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", usageError{"expected exactly one task id"}
	}
	return strings.TrimSpace(args[0]), nil
}

// cycleNow is the instant a manual cycle or single run is evaluated at.
func cycleNow(cfg *config.Config) time.Time {
	return time.Now().In(cfg.Location()).Truncate(time.Minute)
}

func runCommand(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("run")
	dryRun := fs.Bool("dry-run", false, "do not execute tasks")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	report, err := env.app.scheduler.RunCycle(ctx, cycleNow(env.cfg), *dryRun)
	if err != nil {
		return err
	}
	printReport(env.out, report, time.Now())
	return nil
}

func listCommand(ctx context.Context, env *cmdEnv, args []string) error {
	descriptors, err := env.app.scheduler.Catalog().AllTasks(ctx)
	if err != nil {
		return err
	}
	return printTaskTable(env.out, descriptors, env.cfg.Location())
}

func registerCommand(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("register")
	expression := fs.String("expression", core.DefaultExpression, "cron expression for the task scheduling")
	target := fs.String("target", "", "target implementation name")
	rawArgs := fs.String("arguments", "", "task arguments as a JSON object")
	description := fs.String("description", "", "task description")
	enable := fs.Bool("enable", false, "enable the task right away")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if strings.TrimSpace(*target) == "" {
		return usageError{"-target is required"}
	}
	taskArgs, err := parseArguments(*rawArgs)
	if err != nil {
		return err
	}
	catalog := env.app.scheduler.Catalog()
	task, err := catalog.Register(ctx, *expression, *target, taskArgs, *description)
	if err != nil {
		return err
	}
	if *enable {
		if task, err = catalog.Enable(ctx, task.ID()); err != nil {
			return err
		}
	}
	fmt.Fprintf(env.out, "Registered %s (%s, %s, next %s)\n", task.ID(), task.Expression(), task.Status(),
		task.NextRunAt().In(env.cfg.Location()).Format(time.DateTime))
	return nil
}

// parseArguments decodes the -arguments flag, which must be a JSON object.
func parseArguments(raw string) (core.Arguments, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var args core.Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments is not a valid JSON object: %w", err)
	}
	if args == nil {
		return nil, errors.New("arguments is not a valid JSON object")
	}
	return args, nil
}

func removeCommand(ctx context.Context, env *cmdEnv, args []string) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	if err := env.app.scheduler.Catalog().Remove(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Removed %s\n", id)
	return nil
}

func enableCommand(ctx context.Context, env *cmdEnv, args []string) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	task, err := env.app.scheduler.Catalog().Enable(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Enabled %s (next %s)\n", task.ID(), task.NextRunAt().In(env.cfg.Location()).Format(time.DateTime))
	return nil
}

func disableCommand(ctx context.Context, env *cmdEnv, args []string) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	if _, err := env.app.scheduler.Catalog().Disable(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(env.out, "Disabled %s\n", id)
	return nil
}

func runSingleCommand(ctx context.Context, env *cmdEnv, args []string) error {
	id, err := singleID(args)
	if err != nil {
		return err
	}
	res, err := env.app.scheduler.RunSingle(ctx, id, time.Now().In(env.cfg.Location()))
	if err != nil {
		return err
	}
	printResult(env.out, *res, time.Now())
	return nil
}

func runsCommand(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("runs")
	limit := fs.Int("limit", 20, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	id, err := singleID(fs.Args())
	if err != nil {
		return err
	}
	runs, err := env.app.runs.List(ctx, id, *limit, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(env.out, "No runs recorded ...")
		return nil
	}
	tw := tabwriter.NewWriter(env.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Run\tOutcome\tStarted\tDuration\tError")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Outcome,
			r.StartedAt.In(env.cfg.Location()).Format(time.DateTime), r.Duration, oneLine(r.Error, 80))
	}
	return tw.Flush()
}

func targetsCommand(_ context.Context, env *cmdEnv, _ []string) error {
	for _, name := range env.app.registry.Targets() {
		fmt.Fprintln(env.out, name)
	}
	return nil
}

func previewCommand(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet("preview")
	count := fs.Int("count", 5, "number of fire times (1-10)")
	if err := fs.Parse(args); err != nil {
		return usageError{err.Error()}
	}
	if fs.NArg() == 0 {
		return usageError{"expected a cron expression"}
	}
	expr := strings.Join(fs.Args(), " ")
	schedule, err := core.ParseCron(expr)
	if err != nil {
		return err
	}
	n := *count
	if n < 1 || n > 10 {
		n = 5
	}
	for _, t := range core.NextOccurrences(schedule, time.Now().In(env.cfg.Location()), n) {
		fmt.Fprintln(env.out, t.Format(time.DateTime+" MST"))
	}
	return nil
}

func tellStatus(w io.Writer, at time.Time, format string, args ...any) {
	fmt.Fprintf(w, "%s: %s\n", at.Format(statusLayout), fmt.Sprintf(format, args...))
}

func printReport(w io.Writer, report *core.CycleReport, at time.Time) {
	if report.Status == core.CycleLockDenied {
		tellStatus(w, at, lockDeniedMessage)
		return
	}
	for _, res := range report.Results {
		printResult(w, res, at)
	}
}

func printResult(w io.Writer, res core.Result, at time.Time) {
	switch res.Outcome {
	case core.OutcomeSkippedDryRun:
		tellStatus(w, at, "[Skipped, dry run] Skipped %q (%s)", res.Task.Target, res.Task.ID)
	case core.OutcomeError:
		tellStatus(w, at, "[Error] Task %q (%s) failed: %v", res.Task.Target, res.Task.ID, res.Err)
	default:
		tellStatus(w, at, "[Success] Run %q (%s)", res.Task.Target, res.Task.ID)
	}
}

func printTaskTable(w io.Writer, descriptors []core.Descriptor, loc *time.Location) error {
	if len(descriptors) == 0 {
		_, err := fmt.Fprintln(w, "Empty task list ...")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Type\tStatus\tIdentifier\tInterval\tImplementation\tNext Execution\tLast Execution\tDescription")
	for _, d := range descriptors {
		next := "-"
		if !d.NextRunAt.IsZero() {
			next = d.NextRunAt.In(loc).Format(time.DateTime)
		}
		last := "-"
		if d.LastRunAt != nil {
			last = d.LastRunAt.In(loc).Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Kind, d.Enabled, d.ID, d.Expression, d.Target, next, last, oneLine(d.Description, 60))
	}
	return tw.Flush()
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > limit {
		return s[:limit-3] + "..."
	}
	return s
}
