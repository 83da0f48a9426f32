package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelManager(t *testing.T) {
	cm := NewCancelManager()

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())
	ctx3, cancel3 := context.WithCancel(context.Background())
	defer cancel3()
	cm.AddExecution("exec_1", "run_a", cancel1)
	cm.AddExecution("exec_2", "run_b", cancel2)
	cm.AddExecution("exec_3", "run_b", cancel3)
	assert.Len(t, cm.GetActiveExecutions(), 3)

	assert.True(t, cm.CancelExecution("exec_1"))
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.False(t, cm.CancelExecution("exec_1"))

	assert.True(t, cm.CancelRun("run_b"))
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.ErrorIs(t, ctx3.Err(), context.Canceled)
	assert.False(t, cm.CancelRun("run_b"))
	assert.Empty(t, cm.GetActiveExecutions())
}

func TestCancelManagerRemoveExecution(t *testing.T) {
	cm := NewCancelManager()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cm.AddExecution("exec_1", "run_a", cancel)
	cm.RemoveExecution("exec_1")

	assert.False(t, cm.CancelExecution("exec_1"))
	assert.NoError(t, ctx.Err())
}
