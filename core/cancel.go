package core

import (
	"context"
	"sync"
)

// CancelManager tracks the executions of running runs so an external stop signal
// can reach them. Cancelling an execution cancels the run's context; the Orchestrator
// notices at its next suspension point and ends in STOPPED.
type CancelManager struct {
	executions map[string]execution
	mutex      sync.RWMutex
}

type execution struct {
	runID  string
	cancel context.CancelFunc
}

// NewCancelManager creates an empty registry.
func NewCancelManager() *CancelManager {
	return &CancelManager{
		executions: make(map[string]execution),
	}
}

// AddExecution registers the cancel function of runID's execution.
func (cm *CancelManager) AddExecution(executionID, runID string, cancel context.CancelFunc) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.executions[executionID] = execution{runID: runID, cancel: cancel}
}

// RemoveExecution forgets a finished execution.
func (cm *CancelManager) RemoveExecution(executionID string) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	delete(cm.executions, executionID)
}

// CancelExecution cancels an execution by ID and reports whether it was running.
func (cm *CancelManager) CancelExecution(executionID string) bool {
	cm.mutex.Lock()
	exec, exists := cm.executions[executionID]
	delete(cm.executions, executionID)
	cm.mutex.Unlock()

	if exists {
		exec.cancel()
	}
	return exists
}

// CancelRun cancels every execution belonging to runID.
func (cm *CancelManager) CancelRun(runID string) bool {
	cm.mutex.Lock()
	var cancels []context.CancelFunc
	for id, exec := range cm.executions {
		if exec.runID == runID {
			cancels = append(cancels, exec.cancel)
			delete(cm.executions, id)
		}
	}
	cm.mutex.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels) > 0
}

// GetActiveExecutions returns the IDs of all running executions.
func (cm *CancelManager) GetActiveExecutions() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	executions := make([]string, 0, len(cm.executions))
	for id := range cm.executions {
		executions = append(executions, id)
	}
	return executions
}
