package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
)

var interpreterLogger = logrus.WithField("tool", "interpret_code")

func init() {
	// Python-like dialect: sets, top-level control flow, while loops and recursion.
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
}

// InterpreterTool runs Starlark (a Python dialect) in process. Output written
// with print() is captured and returned.
type InterpreterTool struct {
	timeout     time.Duration
	predeclared starlark.StringDict
}

// NewInterpreterTool creates the interpreter with the json, math and time modules
// predeclared.
func NewInterpreterTool(timeout time.Duration) *InterpreterTool {
	interpreterLogger.Debug("Initializing interpreter tool")
	return &InterpreterTool{
		timeout: timeout,
		predeclared: starlark.StringDict{
			"json": json.Module,
			"math": math.Module,
			"time": starlarktime.Module,
		},
	}
}

func (t *InterpreterTool) Name() string {
	return "interpret_code"
}

func (t *InterpreterTool) Description() string {
	return "Run Python-dialect (Starlark) code in a sandbox. The argument is the code; everything passed to print() is returned. Modules json, math and time are available; there is no file or network access."
}

// Call executes input as a Starlark program. Evaluation errors fail the call and
// include the backtrace after any output printed before the error.
func (t *InterpreterTool) Call(ctx context.Context, input string) (string, error) {
	toolLogger := interpreterLogger.WithField("inputLength", len(input))
	toolLogger.Info("Interpreter tool called")
	startTime := time.Now()

	code := strings.TrimSpace(input)
	if code == "" {
		return "", errors.New("please provide code to run")
	}

	var out strings.Builder
	thread := &starlark.Thread{
		Name: "interpret_code",
		Print: func(_ *starlark.Thread, msg string) {
			out.WriteString(msg)
			out.WriteByte('\n')
		},
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	stop := context.AfterFunc(runCtx, func() {
		thread.Cancel(runCtx.Err().Error())
	})
	defer stop()

	_, err := starlark.ExecFile(thread, "main.star", code, t.predeclared)
	executionTime := time.Since(startTime)
	if err != nil {
		var evalErr *starlark.EvalError
		if errors.As(err, &evalErr) {
			err = errors.New(evalErr.Backtrace())
		}
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			err = fmt.Errorf("execution timed out after %s", t.timeout)
		}
		toolLogger.WithError(err).WithField("executionTime", executionTime).Warn("Code execution failed")
		return out.String(), err
	}

	toolLogger.WithFields(logrus.Fields{
		"executionTime": executionTime,
		"outputLength":  out.Len(),
	}).Info("Code execution completed")

	if out.Len() == 0 {
		return "The code ran without printing anything.", nil
	}
	return out.String(), nil
}

var _ tools.Tool = (*InterpreterTool)(nil)
