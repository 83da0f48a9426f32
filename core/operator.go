package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/labstack/gommon/color"
)

// Operator is the human on the other side of the confirmation gate and of ask_user.
// Both calls block until an answer arrives or ctx is done.
type Operator interface {
	// Confirm shows a pending Action. An empty answer approves it; anything else is
	// feedback that aborts it.
	Confirm(ctx context.Context, action Action) (string, error)
	// Ask relays a question from the model and returns the answer.
	Ask(ctx context.Context, question string) (string, error)
}

// ErrOperatorClosed is returned when the operator's input ends.
var ErrOperatorClosed = errors.New("operator input closed")

type lineResult struct {
	text string
	err  error
}

// ConsoleOperator reads answers from a line-oriented reader such as stdin.
type ConsoleOperator struct {
	in    io.Reader
	out   io.Writer
	color *color.Color
	lines chan lineResult
	once  sync.Once
}

// NewConsoleOperator creates an operator that prompts on out and reads lines from in.
func NewConsoleOperator(in io.Reader, out io.Writer, c *color.Color) *ConsoleOperator {
	if c == nil {
		c = color.New()
		c.SetOutput(out)
	}
	return &ConsoleOperator{
		in:    in,
		out:   out,
		color: c,
		lines: make(chan lineResult),
	}
}

func (o *ConsoleOperator) Confirm(ctx context.Context, action Action) (string, error) {
	return o.readLine(ctx, "Press enter to perform this action or abort by typing feedback: ")
}

func (o *ConsoleOperator) Ask(ctx context.Context, question string) (string, error) {
	fmt.Fprintln(o.out, o.color.Cyan("Agent: "+question))
	return o.readLine(ctx, "Your response: ")
}

func (o *ConsoleOperator) readLine(ctx context.Context, prompt string) (string, error) {
	fmt.Fprint(o.out, prompt)
	o.once.Do(func() { go o.readLoop() })

	select {
	case <-ctx.Done():
		fmt.Fprintln(o.out)
		return "", ctx.Err()
	case r, ok := <-o.lines:
		if !ok {
			return "", ErrOperatorClosed
		}
		return r.text, r.err
	}
}

// readLoop is the only reader of o.in, so a line typed after a cancelled prompt is
// delivered to the next prompt instead of being lost.
func (o *ConsoleOperator) readLoop() {
	defer close(o.lines)
	scanner := bufio.NewScanner(o.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		o.lines <- lineResult{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		o.lines <- lineResult{err: fmt.Errorf("read operator input: %w", err)}
	}
}

// PendingPrompt is a question waiting for a remote operator.
type PendingPrompt struct {
	Kind   string  `json:"kind"` // "confirm" or "ask"
	Text   string  `json:"text"`
	Action *Action `json:"action,omitempty"`
}

// ErrNoPendingPrompt is returned when an answer arrives while nothing is waiting.
var ErrNoPendingPrompt = errors.New("no prompt is waiting for input")

// RemoteOperator is answered through the HTTP surface.
type RemoteOperator struct {
	pending *PendingPrompt
	answers chan string
	notify  func(PendingPrompt)
	mutex   sync.Mutex
}

// NewRemoteOperator creates an operator; notify (optional) is called whenever a new
// prompt starts waiting.
func NewRemoteOperator(notify func(PendingPrompt)) *RemoteOperator {
	return &RemoteOperator{
		answers: make(chan string, 1),
		notify:  notify,
	}
}

func (o *RemoteOperator) Confirm(ctx context.Context, action Action) (string, error) {
	a := action
	return o.wait(ctx, PendingPrompt{
		Kind:   "confirm",
		Text:   "Send empty text to perform this action or abort by sending feedback",
		Action: &a,
	})
}

func (o *RemoteOperator) Ask(ctx context.Context, question string) (string, error) {
	return o.wait(ctx, PendingPrompt{Kind: "ask", Text: question})
}

func (o *RemoteOperator) wait(ctx context.Context, prompt PendingPrompt) (string, error) {
	o.mutex.Lock()
	o.pending = &prompt
	o.mutex.Unlock()
	defer func() {
		o.mutex.Lock()
		o.pending = nil
		o.mutex.Unlock()
	}()

	if o.notify != nil {
		o.notify(prompt)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case answer := <-o.answers:
		return answer, nil
	}
}

// Answer delivers text to the waiting prompt.
func (o *RemoteOperator) Answer(text string) error {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.pending == nil {
		return ErrNoPendingPrompt
	}
	select {
	case o.answers <- text:
		return nil
	default:
		return errors.New("prompt already answered")
	}
}

// Pending returns the prompt currently waiting, or nil.
func (o *RemoteOperator) Pending() *PendingPrompt {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	if o.pending == nil {
		return nil
	}
	p := *o.pending
	return &p
}
