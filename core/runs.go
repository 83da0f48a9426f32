/*
Package core provides run management for serve mode.

This file implements the RunStore, a thread-safe registry of runs started through
the HTTP surface. Each run owns its Session (and therefore its own MemoryStore),
its remote operator and, once finished, its Result. Finished runs are removed by a
background cleanup goroutine after they have been idle for the configured maximum age.
*/
package core

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Run is one objective being pursued (or already finished) in serve mode.
type Run struct {
	ID          string
	ExecutionID string
	Session     *Session
	Operator    *RemoteOperator
	Created     time.Time

	result  *Result
	err     error
	updated time.Time
	done    chan struct{}
	mutex   sync.RWMutex
}

// NewRun wraps a session created by Runtime.NewRun.
func NewRun(executionID string, session *Session, operator *RemoteOperator) *Run {
	now := time.Now()
	return &Run{
		ID:          session.ID,
		ExecutionID: executionID,
		Session:     session,
		Operator:    operator,
		Created:     now,
		updated:     now,
		done:        make(chan struct{}),
	}
}

// Finish records the outcome and releases everyone waiting on Done.
func (r *Run) Finish(result *Result, err error) {
	r.mutex.Lock()
	r.result = result
	r.err = err
	r.updated = time.Now()
	r.mutex.Unlock()
	close(r.done)
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Finished reports whether the run has ended.
func (r *Run) Finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *Run) touch() {
	r.mutex.Lock()
	r.updated = time.Now()
	r.mutex.Unlock()
}

// RunView is the JSON representation of a run.
type RunView struct {
	ID          string          `json:"id"`
	ExecutionID string          `json:"executionId"`
	Progress    SessionSnapshot `json:"progress"`
	Pending     *PendingPrompt  `json:"pending,omitempty"`
	Result      *Result         `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Created     time.Time       `json:"created"`
}

// View returns the run's current state.
func (r *Run) View() RunView {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	view := RunView{
		ID:          r.ID,
		ExecutionID: r.ExecutionID,
		Progress:    r.Session.Snapshot(),
		Pending:     r.Operator.Pending(),
		Result:      r.result,
		Created:     r.Created,
	}
	if r.err != nil {
		view.Error = r.err.Error()
	}
	return view
}

// RunSummary is the short form used when listing runs.
type RunSummary struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"executionId"`
	Objective   string    `json:"objective"`
	State       State     `json:"state"`
	Created     time.Time `json:"created"`
}

// RunStore keeps every run of the server process.
type RunStore struct {
	runs            map[string]*Run
	mutex           sync.RWMutex
	maxAge          time.Duration
	cleanupInterval time.Duration
	logger          *logrus.Logger
	stop            chan struct{}
	stopOnce        sync.Once
}

// NewRunStore creates a store and starts its cleanup goroutine.
func NewRunStore(maxAge, cleanupInterval time.Duration, logger *logrus.Logger) *RunStore {
	store := &RunStore{
		runs:            make(map[string]*Run),
		maxAge:          maxAge,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		stop:            make(chan struct{}),
	}
	go store.cleanupExpiredRuns()
	return store
}

// Close stops the cleanup goroutine.
func (m *RunStore) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Add registers a run.
func (m *RunStore) Add(run *Run) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.runs[run.ID] = run
	m.logger.WithFields(logrus.Fields{
		"runID":       run.ID,
		"executionID": run.ExecutionID,
	}).Info("Registered run")
}

// Get returns a run by ID.
func (m *RunStore) Get(id string) (*Run, bool) {
	m.mutex.RLock()
	run, exists := m.runs[id]
	m.mutex.RUnlock()
	if exists {
		run.touch()
	}
	return run, exists
}

// Delete removes a run by ID and reports whether it existed.
func (m *RunStore) Delete(id string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, exists := m.runs[id]
	if exists {
		delete(m.runs, id)
		m.logger.WithField("runID", id).Info("Run deleted")
	}
	return exists
}

// List returns a summary of every run, newest first.
func (m *RunStore) List() []RunSummary {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	summaries := make([]RunSummary, 0, len(m.runs))
	for _, run := range m.runs {
		summaries = append(summaries, RunSummary{
			ID:          run.ID,
			ExecutionID: run.ExecutionID,
			Objective:   run.Session.Objective,
			State:       run.Session.State(),
			Created:     run.Created,
		})
	}
	sortSummaries(summaries)
	return summaries
}

func sortSummaries(s []RunSummary) {
	sort.Slice(s, func(i, j int) bool { return s[i].Created.After(s[j].Created) })
}

// Stats returns counts for the status endpoint.
func (m *RunStore) Stats() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	byState := make(map[State]int)
	for _, run := range m.runs {
		byState[run.Session.State()]++
	}
	return map[string]interface{}{
		"totalRuns": len(m.runs),
		"byState":   byState,
	}
}

// cleanupExpiredRuns removes finished runs idle for longer than maxAge.
func (m *RunStore) cleanupExpiredRuns() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.removeExpired(time.Now())
		}
	}
}

func (m *RunStore) removeExpired(now time.Time) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	expired := make([]string, 0)
	for id, run := range m.runs {
		if !run.Finished() {
			continue
		}
		run.mutex.RLock()
		idle := now.Sub(run.updated)
		run.mutex.RUnlock()
		if idle > m.maxAge {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.runs, id)
	}

	if len(expired) > 0 {
		m.logger.WithFields(logrus.Fields{
			"expiredRuns":     len(expired),
			"remainingRuns":   len(m.runs),
			"cleanupInterval": m.cleanupInterval,
		}).Info("Cleaned up expired runs")
	}
	return len(expired)
}
