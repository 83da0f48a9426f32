/*
Package tools provides shell command execution for the agent.

This file implements the ShellTool, which runs the argument of the shell command
through the configured shell in the work directory. Standard output and standard
error are captured separately and reported together in the layout

	STDOUT:
	<stdout>
	STDERR:
	<stderr>

A non-zero exit status or a timeout makes the call fail while still returning the
captured output.
*/
package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

// shellLogger provides structured logging for all shell operations
// with a consistent tool identifier for easy filtering and monitoring
var shellLogger = logrus.WithField("tool", "shell")

// ShellTool executes shell commands in the work directory.
type ShellTool struct {
	workingDir string        // Directory commands run in
	shell      string        // Shell binary, invoked as "<shell> -c <command>"
	timeout    time.Duration // Limit for one command
}

// NewShellTool creates a new instance of the shell command execution tool.
//
// Parameters:
//   - workingDir: Directory the commands execute in
//   - shell: Shell binary (e.g. "bash", "sh")
//   - timeout: Maximum duration of one command
//
// Returns:
//   - *ShellTool: Configured shell tool ready for command execution
func NewShellTool(workingDir, shell string, timeout time.Duration) *ShellTool {
	shellLogger.Debug("Initializing shell tool")
	return &ShellTool{workingDir: workingDir, shell: shell, timeout: timeout}
}

// Description returns the description shown to the model.
func (s *ShellTool) Description() string {
	return "Execute a shell command in the work directory. The argument is the command line; stdout and stderr are returned."
}

// Name returns the identifier for this tool ("shell").
func (s *ShellTool) Name() string {
	return "shell"
}

// Call executes a shell command.
//
// Parameters:
//   - ctx: Context for cancellation
//   - input: Shell command line to execute (e.g., "ls -la", "go test ./...")
//
// Returns:
//   - string: Captured stdout and stderr
//   - error: Non-nil when the command could not run, exited non-zero or timed out
func (s *ShellTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := shellLogger.WithFields(logrus.Fields{
		"input":      input,
		"workingDir": s.workingDir,
	})
	toolLogger.Info("Shell tool called")
	startTime := time.Now()

	command := strings.TrimSpace(input)
	if command == "" {
		toolLogger.Warn("Empty shell command provided")
		return "", errors.New("please provide a shell command to execute")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, s.shell, "-c", command)
	cmd.Dir = s.workingDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Background children can hold the output pipes open after the shell is killed.
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	output := formatShellOutput(stdout.String(), stderr.String())
	executionTime := time.Since(startTime)

	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("command timed out after %s", s.timeout)
		} else {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				err = fmt.Errorf("command exited with status %d", exitErr.ExitCode())
			}
		}
		toolLogger.WithError(err).WithField("executionTime", executionTime).Warn("Shell command failed")
		return output, err
	}

	toolLogger.WithFields(logrus.Fields{
		"command":       command,
		"executionTime": executionTime,
		"outputLength":  len(output),
	}).Info("Shell command completed")

	return output, nil
}

func formatShellOutput(stdout, stderr string) string {
	return "STDOUT:\n" + stdout + "\nSTDERR:\n" + stderr
}

var _ tools.Tool = (*ShellTool)(nil)
