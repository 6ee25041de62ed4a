package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"taskcron/internal/core"
)

// BuildShellArguments builds the arguments of a shell target task from the
// flat tool parameters.
func BuildShellArguments(command, workingDir string, timeoutMinutes float64) core.Arguments {
	args := core.Arguments{"command": command}
	if workingDir != "" {
		args["working_dir"] = workingDir
	}
	if timeoutMinutes > 0 {
		args["timeout_s"] = timeoutMinutes * 60
	}
	return args
}

// BuildArguments decodes a JSON object of target arguments. An empty string
// means no arguments.
func BuildArguments(raw string) (core.Arguments, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var args core.Arguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}
