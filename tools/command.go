package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/pmnowak/ollama-code/errors"
)

// RunCommandTool runs a shell command in the session's working directory.
type RunCommandTool struct {
	timeout time.Duration
}

func (t *RunCommandTool) Name() string { return "run_command" }
func (t *RunCommandTool) Spec() Spec {
	return Spec{
		Name:        t.Name(),
		Description: "Run a shell command and return its output. Use for running tests, installing packages, git operations, etc.",
		Params: []Param{
			{Name: "command", Type: "string", Description: "The shell command to execute", Required: true},
		},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, env Env, args Args) Result {
	command := args.String("command", "")
	if strings.TrimSpace(command) == "" {
		return missingArg("command")
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(ctx, command)
	cmd.Dir = env.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	killProcessGroup(cmd)
	// Grandchildren that keep the pipes open must not block Wait forever.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{Text: fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds()))}
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{Text: fmt.Sprintf("Error running command: %v", err)}
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{Text: formatCommandOutput(stdout.String(), stderr.String(), exitCode)}
}

func formatCommandOutput(stdout, stderr string, exitCode int) string {
	output := stdout
	if stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += "[stderr]: " + stderr
	}
	if exitCode != 0 {
		output += fmt.Sprintf("\n[exit code: %d]", exitCode)
	}
	output = strings.TrimSpace(output)
	if output == "" {
		return "(no output)"
	}
	return output
}

func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
