package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/tools"
)

func TestDispatchSuccess(t *testing.T) {
	shell := newFakeTool("shell", nil)
	d := NewDispatcher(map[Command]tools.Tool{CommandShell: shell}, nil, false, testEntry())

	obs, err := d.Dispatch(context.Background(), Action{Command: CommandShell, Argument: "ls"})
	require.NoError(t, err)
	assert.Equal(t, Observation{Success: true, Output: "ran: ls"}, obs)
	assert.Equal(t, []string{"ls"}, shell.Calls())
}

func TestDispatchExecutorErrorKeepsOutput(t *testing.T) {
	shell := newFakeTool("shell", func(_ context.Context, _ string) (string, error) {
		return "STDOUT:\n\nSTDERR:\nno such file", errors.New("command exited with status 2")
	})
	d := NewDispatcher(map[Command]tools.Tool{CommandShell: shell}, nil, false, testEntry())

	obs, err := d.Dispatch(context.Background(), Action{Command: CommandShell, Argument: "cat missing"})
	require.NoError(t, err)
	assert.False(t, obs.Success)
	assert.Equal(t, "STDOUT:\n\nSTDERR:\nno such file", obs.Output)
	assert.Equal(t, "command exited with status 2", obs.Error)
}

func TestDispatchRecoversPanics(t *testing.T) {
	broken := newFakeTool("interpret_code", func(_ context.Context, _ string) (string, error) {
		panic("boom")
	})
	d := NewDispatcher(map[Command]tools.Tool{CommandInterpretCode: broken}, nil, false, testEntry())

	obs, err := d.Dispatch(context.Background(), Action{Command: CommandInterpretCode, Argument: "print(1)"})
	require.NoError(t, err)
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, "executor panicked: boom")
}

func TestDispatchMissingExecutor(t *testing.T) {
	d := NewDispatcher(map[Command]tools.Tool{}, nil, false, testEntry())
	obs, err := d.Dispatch(context.Background(), Action{Command: CommandWebSearch, Argument: "go"})
	require.NoError(t, err)
	assert.False(t, obs.Success)
	assert.Contains(t, obs.Error, "no executor")
	assert.False(t, d.Has(CommandWebSearch))
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	shell := newFakeTool("shell", func(ctx context.Context, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	d := NewDispatcher(map[Command]tools.Tool{CommandShell: shell}, nil, false, testEntry())

	_, err := d.Dispatch(ctx, Action{Command: CommandShell, Argument: "sleep 100"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfirmRejectionCarriesFeedback(t *testing.T) {
	shell := newFakeTool("shell", nil)
	operator := &scriptedOperator{confirms: []string{"no"}}
	d := NewDispatcher(map[Command]tools.Tool{CommandShell: shell}, operator, true, testEntry())

	approved, obs, err := d.Confirm(context.Background(), Action{Command: CommandShell, Argument: "rm -rf build"})
	require.NoError(t, err)
	assert.False(t, approved)
	assert.False(t, obs.Success)
	assert.Equal(t, "User responded: no. Take this comment into consideration.", obs.Error)
	assert.Empty(t, shell.Calls())
	require.Len(t, operator.shown, 1)
	assert.Equal(t, "rm -rf build", operator.shown[0].Argument)
}

func TestConfirmApproval(t *testing.T) {
	operator := &scriptedOperator{confirms: []string{"   "}}
	d := NewDispatcher(map[Command]tools.Tool{}, operator, true, testEntry())

	approved, _, err := d.Confirm(context.Background(), Action{Command: CommandShell, Argument: "ls"})
	require.NoError(t, err)
	assert.True(t, approved)
}

func TestConfirmSkipsInternalCommands(t *testing.T) {
	operator := &scriptedOperator{confirms: []string{"no"}}
	d := NewDispatcher(map[Command]tools.Tool{}, operator, true, testEntry())

	approved, _, err := d.Confirm(context.Background(), Action{Command: CommandDone, Argument: "bye"})
	require.NoError(t, err)
	assert.True(t, approved)
	assert.Empty(t, operator.shown)
}

func TestConfirmDisabledWithoutOperator(t *testing.T) {
	d := NewDispatcher(map[Command]tools.Tool{}, nil, true, testEntry())
	approved, _, err := d.Confirm(context.Background(), Action{Command: CommandShell, Argument: "ls"})
	require.NoError(t, err)
	assert.True(t, approved)
}
