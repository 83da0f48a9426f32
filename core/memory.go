/*
Package core provides the per-run memory of the agent.

This file implements the MemoryStore, which owns the append-only log of Turns,
the window of recent Turns kept verbatim in the prompt, and the Summary that
replaces everything evicted from the window.

Key properties:
- The serialized window never exceeds the configured budget (characters or tokens)
- Eviction removes the oldest Turns first and keeps the rest in order
- The Summary is replaced atomically; a failed summarization changes nothing
- Long-term storage and recall are best effort and never fail the loop
*/
package core

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Summarizer folds evicted Turns into the running Summary.
type Summarizer interface {
	Summarize(ctx context.Context, prior string, evicted []Turn) (string, error)
}

// MemoryConfig holds the limits of a MemoryStore.
type MemoryConfig struct {
	Budget         int    // Maximum serialized window length
	Unit           string // "chars" or "tokens"
	Model          string // Model name used for token counting
	MaxObservation int    // Observation output length persisted into memory
	RecallLimit    int    // Records returned by Recall
	RunID          string // Run the stored long-term records belong to
}

// MemoryStore is one run's memory. It is written only by the Orchestrator that owns
// it; the lock lets the HTTP surface read a snapshot while the run is in progress.
type MemoryStore struct {
	log     []Turn
	window  []Turn
	summary string
	mutex   sync.RWMutex

	config     MemoryConfig
	measure    func(string) int
	summarizer Summarizer
	longTerm   LongTermMemory
	handler    callbacks.Handler
	logger     *logrus.Entry
}

// NewMemoryStore creates an empty store for one session.
//
// Parameters:
//   - config: Window budget and unit, observation limit and recall settings
//   - summarizer: Folds evicted turns into the summary; nil makes overflow an error
//   - longTerm: Optional long-term backend; nil turns Recall into a no-op
//   - logger: Structured logger for memory operations
//
// Returns:
//   - *MemoryStore: Store with an empty log, window and summary
func NewMemoryStore(config MemoryConfig, summarizer Summarizer, longTerm LongTermMemory, logger *logrus.Entry) *MemoryStore {
	measure := utf8.RuneCountInString
	if config.Unit == "tokens" {
		model := config.Model
		measure = func(s string) int { return llms.CountTokens(model, s) }
	}
	return &MemoryStore{
		config:     config,
		measure:    measure,
		summarizer: summarizer,
		longTerm:   longTerm,
		logger:     logger,
	}
}

// SetCallbacksHandler routes retriever events of Recall to handler.
func (m *MemoryStore) SetCallbacksHandler(handler callbacks.Handler) {
	m.handler = handler
}

// Append adds turn to the log and the window, evicting and summarizing as needed.
//
// The oldest turns leave the window first and are folded, together with the previous
// summary, into a new summary. The new window and summary are installed together, so on
// error the store is left exactly as it was before the call. Storing the turn in the
// long-term backend is best effort.
//
// Parameters:
//   - ctx: Context for the summarization request
//   - turn: Completed turn; its observation is truncated before it is kept
//
// Returns:
//   - error: Non-nil when summarization failed or no summarizer can absorb the overflow
func (m *MemoryStore) Append(ctx context.Context, turn Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	turn.Observation = m.boundObservation(turn.Observation)

	m.mutex.RLock()
	window := make([]Turn, 0, len(m.window)+1)
	window = append(window, m.window...)
	window = append(window, turn)
	summary := m.summary
	m.mutex.RUnlock()

	evicted := 0
	for evicted < len(window) && m.measure(RenderWindow(window[evicted:])) > m.config.Budget {
		evicted++
	}

	if evicted > 0 {
		if m.summarizer == nil {
			return fmt.Errorf("window over budget and no summarizer configured")
		}
		next, err := m.summarizer.Summarize(ctx, summary, window[:evicted])
		if err != nil {
			return fmt.Errorf("summarize evicted turns: %w", err)
		}
		m.logger.WithFields(logrus.Fields{
			"evicted":       evicted,
			"summaryLength": len(next),
		}).Debug("Folded evicted turns into summary")
		summary = next
	}

	m.mutex.Lock()
	m.log = append(m.log, turn)
	m.window = window[evicted:]
	m.summary = summary
	m.mutex.Unlock()

	m.storeLongTerm(ctx, turn)
	return nil
}

func (m *MemoryStore) storeLongTerm(ctx context.Context, turn Turn) {
	if m.longTerm == nil {
		return
	}
	ref := TurnRef{RunID: m.config.RunID, Index: turn.Index}
	if err := m.longTerm.EmbedAndStore(ctx, RenderTurn(turn), ref); err != nil {
		m.logger.WithError(err).WithField("turn", turn.Index).Warn("Failed to store turn in long-term memory")
	}
}

// boundObservation truncates the observation to the configured item size.
func (m *MemoryStore) boundObservation(o Observation) Observation {
	if m.config.MaxObservation <= 0 {
		return o
	}
	o.Output = truncate(o.Output, m.config.MaxObservation)
	o.Error = truncate(o.Error, m.config.MaxObservation)
	return o
}

// Window returns a copy of the Turns currently kept verbatim, oldest first.
func (m *MemoryStore) Window() []Turn {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]Turn(nil), m.window...)
}

// SummaryText returns the Summary of every Turn evicted so far.
func (m *MemoryStore) SummaryText() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.summary
}

// Log returns a copy of every Turn ever appended, oldest first.
func (m *MemoryStore) Log() []Turn {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]Turn(nil), m.log...)
}

// Len returns the number of Turns in the log.
func (m *MemoryStore) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.log)
}

// WindowSize returns the serialized window length in the configured unit.
func (m *MemoryStore) WindowSize() int {
	return m.measure(RenderWindow(m.Window()))
}

// Recall returns the long-term records most similar to query. Any backend failure
// degrades to an empty result.
func (m *MemoryStore) Recall(ctx context.Context, query string) []LongTermRecord {
	if m.longTerm == nil || m.config.RecallLimit <= 0 {
		return nil
	}
	if m.handler != nil {
		m.handler.HandleRetrieverStart(ctx, query)
	}
	records, err := m.longTerm.Query(ctx, query, m.config.RecallLimit)
	if err != nil {
		m.logger.WithError(err).Warn("Long-term recall failed, continuing without it")
		return nil
	}
	if m.handler != nil {
		docs := make([]schema.Document, 0, len(records))
		for _, r := range records {
			docs = append(docs, schema.Document{PageContent: r.Text, Score: r.Score})
		}
		m.handler.HandleRetrieverEnd(ctx, query, docs)
	}
	return records
}

// truncate shortens s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
