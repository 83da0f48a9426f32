package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/tools"
)

// ConfirmationFeedbackPrefix starts the Observation synthesized when the operator
// rejects an Action at the confirmation gate.
const ConfirmationFeedbackPrefix = "User responded: "

// Dispatcher maps commands to executors and owns the confirmation gate.
type Dispatcher struct {
	executors map[Command]tools.Tool
	operator  Operator
	confirm   bool
	handler   callbacks.Handler
	logger    *logrus.Entry
}

// NewDispatcher creates a dispatcher. With confirm set, every executor-backed Action is
// shown to operator before it runs.
func NewDispatcher(executors map[Command]tools.Tool, operator Operator, confirm bool, logger *logrus.Entry) *Dispatcher {
	return &Dispatcher{
		executors: executors,
		operator:  operator,
		confirm:   confirm && operator != nil,
		logger:    logger,
	}
}

// SetCallbacksHandler routes tool start/end/error events to handler.
func (d *Dispatcher) SetCallbacksHandler(handler callbacks.Handler) {
	d.handler = handler
}

// Has reports whether an executor is registered for command.
func (d *Dispatcher) Has(command Command) bool {
	_, ok := d.executors[command]
	return ok
}

// Confirm runs the confirmation gate for action. It returns approved=true when the
// gate is disabled, the command needs no executor, or the operator approves with an
// empty answer. Otherwise the returned Observation carries the operator's feedback.
func (d *Dispatcher) Confirm(ctx context.Context, action Action) (bool, Observation, error) {
	if !d.confirm || action.Command.Internal() {
		return true, Observation{}, nil
	}
	answer, err := d.operator.Confirm(ctx, action)
	if err != nil {
		return false, Observation{}, err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return true, Observation{}, nil
	}
	d.logger.WithFields(logrus.Fields{
		"command":  action.Command,
		"feedback": answer,
	}).Info("Operator rejected action")
	return false, Observation{
		Success: false,
		Error:   ConfirmationFeedbackPrefix + answer + ". Take this comment into consideration.",
	}, nil
}

// Dispatch runs action through its executor and normalizes the result. Executor errors
// and panics become failed Observations; only context cancellation is returned as an
// error.
func (d *Dispatcher) Dispatch(ctx context.Context, action Action) (Observation, error) {
	executor, ok := d.executors[action.Command]
	if !ok {
		return Observation{Success: false, Error: fmt.Sprintf("no executor for command %q", action.Command)}, nil
	}

	toolLogger := d.logger.WithFields(logrus.Fields{
		"command":        action.Command,
		"argumentLength": len(action.Argument),
	})
	toolLogger.Debug("Dispatching action")
	if d.handler != nil {
		d.handler.HandleToolStart(ctx, string(action.Command)+": "+action.Argument)
	}

	output, err := d.call(ctx, executor, action.Argument)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Observation{}, ctxErr
	}

	if err != nil {
		if d.handler != nil {
			d.handler.HandleToolError(ctx, err)
		}
		toolLogger.WithError(err).Info("Action failed")
		return Observation{Success: false, Output: output, Error: err.Error()}, nil
	}

	if d.handler != nil {
		d.handler.HandleToolEnd(ctx, output)
	}
	return Observation{Success: true, Output: output}, nil
}

func (d *Dispatcher) call(ctx context.Context, executor tools.Tool, argument string) (output string, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithField("panic", r).Error("Executor panicked")
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return executor.Call(ctx, argument)
}
