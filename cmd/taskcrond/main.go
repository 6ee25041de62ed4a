package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"taskcron/internal/config"
	"taskcron/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := config.Parse(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage(stderr)
			return 0
		}
		fmt.Fprintf(stderr, "taskcrond: %v\n", err)
		return 2
	}

	name := "serve"
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "taskcrond: unknown command %q\n\n", name)
		printUsage(stderr)
		return 2
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cmdEnv{cfg: cfg, logger: logger, out: stdout}
	if !cmd.standalone {
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			logger.Error("startup failed", "err", err)
			return 1
		}
		defer a.Close()
		env.app = a
	}

	if err := cmd.run(ctx, env, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var usageErr usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "taskcrond %s: %v\nusage: taskcrond %s %s\n", name, err, name, cmd.usage)
			return 2
		}
		fmt.Fprintf(stderr, "taskcrond %s: %v\n", name, err)
		return 1
	}
	return 0
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: taskcrond [global flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-11s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'taskcrond -h' for global flags. Every flag also reads TASKCRON_<NAME> from the environment.")
}
