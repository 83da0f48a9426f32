package core

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testEntry() *logrus.Entry {
	return logrus.NewEntry(testLogger())
}

// scriptedCompleter returns its responses in order and repeats the last one.
type scriptedCompleter struct {
	mutex     sync.Mutex
	responses []string
	calls     int
	requests  [][]llms.MessageContent
}

func newScriptedCompleter(responses ...string) *scriptedCompleter {
	return &scriptedCompleter{responses: responses}
}

func (c *scriptedCompleter) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.requests = append(c.requests, messages)
	i := c.calls
	c.calls++
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

func (c *scriptedCompleter) Calls() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.calls
}

func (c *scriptedCompleter) LastPrompt() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.requests) == 0 {
		return ""
	}
	msgs := c.requests[len(c.requests)-1]
	return messageText(msgs[len(msgs)-1])
}

// blockingCompleter waits until the context is cancelled.
var blockingCompleter = CompleterFunc(func(ctx context.Context, _ []llms.MessageContent) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
})

// fakeTool is an executor that records its calls.
type fakeTool struct {
	name  string
	mutex sync.Mutex
	calls []string
	fn    func(ctx context.Context, input string) (string, error)
}

func newFakeTool(name string, fn func(ctx context.Context, input string) (string, error)) *fakeTool {
	if fn == nil {
		fn = func(_ context.Context, input string) (string, error) { return "ran: " + input, nil }
	}
	return &fakeTool{name: name, fn: fn}
}

func (t *fakeTool) Name() string        { return t.name }
func (t *fakeTool) Description() string { return "fake " + t.name }

func (t *fakeTool) Call(ctx context.Context, input string) (string, error) {
	t.mutex.Lock()
	t.calls = append(t.calls, input)
	t.mutex.Unlock()
	return t.fn(ctx, input)
}

func (t *fakeTool) Calls() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]string(nil), t.calls...)
}

// scriptedOperator answers confirmations and questions from fixed lists.
type scriptedOperator struct {
	mutex    sync.Mutex
	confirms []string
	answers  []string
	asked    []string
	shown    []Action
}

func (o *scriptedOperator) Confirm(ctx context.Context, action Action) (string, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.shown = append(o.shown, action)
	if len(o.confirms) == 0 {
		return "", nil
	}
	answer := o.confirms[0]
	o.confirms = o.confirms[1:]
	return answer, nil
}

func (o *scriptedOperator) Ask(ctx context.Context, question string) (string, error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.asked = append(o.asked, question)
	if len(o.answers) == 0 {
		return "", errors.New("no answer scripted")
	}
	answer := o.answers[0]
	o.answers = o.answers[1:]
	return answer, nil
}

// fixedSummarizer concatenates evicted thoughts onto the prior summary.
type fixedSummarizer struct {
	calls int
	err   error
}

func (s *fixedSummarizer) Summarize(ctx context.Context, prior string, evicted []Turn) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	parts := []string{}
	if prior != "" {
		parts = append(parts, prior)
	}
	for _, t := range evicted {
		parts = append(parts, t.Thought)
	}
	return strings.Join(parts, "; "), nil
}

func testMemory(t *testing.T, budget int, summarizer Summarizer, longTerm LongTermMemory) *MemoryStore {
	t.Helper()
	return NewMemoryStore(MemoryConfig{
		Budget:         budget,
		Unit:           "chars",
		MaxObservation: 2000,
		RecallLimit:    3,
		RunID:          "run-test",
	}, summarizer, longTerm, testEntry())
}

func response(thought string, command Command, argument string) string {
	return RenderAction(thought, Action{Command: command, Argument: argument})
}
