package core

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/labstack/gommon/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainColor(out *bytes.Buffer) *color.Color {
	c := color.New()
	c.SetOutput(out)
	c.Disable()
	return c
}

func TestConsoleOperator(t *testing.T) {
	var out bytes.Buffer
	operator := NewConsoleOperator(strings.NewReader("\nstop that\nblue\n"), &out, plainColor(&out))
	ctx := context.Background()

	answer, err := operator.Confirm(ctx, Action{Command: CommandShell, Argument: "ls"})
	require.NoError(t, err)
	assert.Empty(t, answer)

	answer, err = operator.Confirm(ctx, Action{Command: CommandShell, Argument: "rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, "stop that", answer)

	answer, err = operator.Ask(ctx, "Favorite color?")
	require.NoError(t, err)
	assert.Equal(t, "blue", answer)

	_, err = operator.Ask(ctx, "Anything else?")
	assert.ErrorIs(t, err, ErrOperatorClosed)

	assert.Contains(t, out.String(), "Press enter to perform this action or abort by typing feedback: ")
	assert.Contains(t, out.String(), "Agent: Favorite color?")
	assert.Contains(t, out.String(), "Your response: ")
}

func TestConsoleOperatorCancelled(t *testing.T) {
	var out bytes.Buffer
	reader, writer := io.Pipe()
	defer writer.Close()
	operator := NewConsoleOperator(reader, &out, plainColor(&out))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := operator.Ask(ctx, "Are you there?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRemoteOperator(t *testing.T) {
	var notified []PendingPrompt
	operator := NewRemoteOperator(func(p PendingPrompt) { notified = append(notified, p) })

	assert.ErrorIs(t, operator.Answer("too early"), ErrNoPendingPrompt)
	assert.Nil(t, operator.Pending())

	answers := make(chan string, 1)
	go func() {
		answer, err := operator.Ask(context.Background(), "Which URL?")
		if err == nil {
			answers <- answer
		}
	}()

	require.Eventually(t, func() bool { return operator.Pending() != nil }, time.Second, 5*time.Millisecond)
	pending := operator.Pending()
	assert.Equal(t, "ask", pending.Kind)
	assert.Equal(t, "Which URL?", pending.Text)

	require.NoError(t, operator.Answer("https://example.com"))
	select {
	case answer := <-answers:
		assert.Equal(t, "https://example.com", answer)
	case <-time.After(time.Second):
		t.Fatal("answer was not delivered")
	}
	require.Eventually(t, func() bool { return operator.Pending() == nil }, time.Second, 5*time.Millisecond)
	require.Len(t, notified, 1)
}

func TestRemoteOperatorConfirmCancelled(t *testing.T) {
	operator := NewRemoteOperator(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := operator.Confirm(ctx, Action{Command: CommandShell, Argument: "ls"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, operator.Pending())
}
