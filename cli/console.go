package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"microagent/core"

	"github.com/labstack/gommon/color"
)

// maxConsoleObservation limits how much of an observation is echoed to the terminal.
const maxConsoleObservation = 1500

// consoleReporter prints the loop's events for a human watching the terminal:
// agent lines in cyan, critic lines in magenta and errors in red.
type consoleReporter struct {
	out   io.Writer
	color *color.Color
	debug bool
}

func newConsoleReporter(out io.Writer, c *color.Color, debug bool) *consoleReporter {
	return &consoleReporter{out: out, color: c, debug: debug}
}

// Handle renders one StreamMessage.
func (r *consoleReporter) Handle(msg core.StreamMessage) {
	switch msg.Type {
	case "plan":
		fmt.Fprintln(r.out, r.color.Cyan("Plan:\n"+msg.Content))
	case "thought":
		fmt.Fprintln(r.out, r.color.Cyan("MicroAgent: "+msg.Content))
	case "action":
		fmt.Fprintln(r.out, r.color.Cyan(fmt.Sprintf("Cmd: %s, Arg: %s", msg.Tool, oneLine(msg.Content))))
	case "critique":
		fmt.Fprintln(r.out, r.color.Magenta("Critic: "+msg.Content))
	case "rejected":
		fmt.Fprintln(r.out, r.color.Yellow(msg.Content))
	case "observation":
		text := clip(msg.Content, maxConsoleObservation)
		if success, _ := msg.Details["success"].(bool); success {
			fmt.Fprintln(r.out, text)
		} else {
			fmt.Fprintln(r.out, r.color.Red(text))
		}
	case "debug":
		if r.debug {
			fmt.Fprintln(r.out, r.color.Grey(fmt.Sprintf("[%s]\n%s", msg.Step, msg.Content)))
		}
	}
}

// Finish prints the terminal outcome: the final message on DONE, otherwise the
// reason and the last observation.
func (r *consoleReporter) Finish(result *core.Result, err error) {
	if err == nil {
		fmt.Fprintln(r.out, r.color.Green("Objective achieved."))
		if result != nil && result.Message != "" {
			fmt.Fprintln(r.out, result.Message)
		}
		return
	}

	var failure *core.RunFailure
	if !errors.As(err, &failure) {
		fmt.Fprintln(r.out, r.color.Red("Run failed: "+err.Error()))
		return
	}
	fmt.Fprintln(r.out, r.color.Red(fmt.Sprintf("Run ended in %s: %s", failure.State, failure.Reason)))
	if failure.LastObservation != nil {
		fmt.Fprintln(r.out, r.color.Red("Last observation:\n"+clip(failure.LastObservation.Text(), maxConsoleObservation)))
	}
}

func oneLine(s string) string {
	first, rest, multi := strings.Cut(s, "\n")
	if multi && strings.TrimSpace(rest) != "" {
		return first + " ..."
	}
	return first
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
