package core

import (
	"regexp"
	"strings"
)

var (
	tagLineRegex  = regexp.MustCompile(`^<r>(.*?)</r>\s*<c>(.*?)</c>(.*)$`)
	tagStartRegex = regexp.MustCompile(`^\s*<r>.*</r>\s*<c>`)
	fenceRegex    = regexp.MustCompile("(?s)^```[A-Za-z0-9_+.-]*[ \t]*\n?(.*?)\n?```$")
)

// ResponseParser turns raw completion text into an Action. The grammar is
//
//	<r>THOUGHT</r><c>COMMAND</c>
//	ARGUMENT
//
// where the tag line is the first non-empty line and the argument is everything after it.
type ResponseParser struct {
	allowed map[Command]bool
}

// NewResponseParser accepts the given commands. With no commands the full vocabulary is
// accepted.
func NewResponseParser(commands ...Command) *ResponseParser {
	if len(commands) == 0 {
		commands = Commands
	}
	allowed := make(map[Command]bool, len(commands))
	for _, c := range commands {
		allowed[c] = true
	}
	return &ResponseParser{allowed: allowed}
}

// Parse returns the thought and the Action, or a *FormatError.
//
// The argument is kept byte for byte after the newline that ends the tag line; only a
// code fence wrapping the whole argument is removed. A `done` without an argument takes
// the thought as its final message.
func (p *ResponseParser) Parse(text string) (string, Action, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", Action{}, &FormatError{Raw: text, Reason: "empty response"}
	}

	body := skipBlankLines(text)
	if n := countTagLines(body); n > 1 {
		return "", Action{}, &FormatError{Raw: text, Reason: "more than one command in the response"}
	}

	first, rest, _ := strings.Cut(body, "\n")
	m := tagLineRegex.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", Action{}, &FormatError{Raw: text, Reason: "missing <r>THOUGHT</r><c>COMMAND</c> line"}
	}
	thought := strings.TrimSpace(m[1])
	name := strings.TrimSpace(m[2])

	command, ok := LookupCommand(name)
	if !ok || !p.allowed[command] {
		return "", Action{}, &FormatError{Raw: text, Reason: "unknown command " + quoteName(name)}
	}

	if strings.TrimSpace(rest) == "" {
		rest = ""
	}
	argument := rest
	if inline := strings.TrimSpace(m[3]); inline != "" {
		argument = inline
		if rest != "" {
			argument += "\n" + rest
		}
	}
	argument = stripFences(argument)

	if argument == "" {
		if command.RequiresArgument() {
			return "", Action{}, &FormatError{Raw: text, Reason: "command " + string(command) + " requires an argument"}
		}
		argument = thought
	}
	return thought, Action{Command: command, Argument: argument}, nil
}

// RenderAction produces the canonical response text for an Action.
func RenderAction(thought string, action Action) string {
	thought = strings.Join(strings.Fields(thought), " ")
	return "<r>" + thought + "</r><c>" + string(action.Command) + "</c>\n" + action.Argument
}

func stripFences(s string) string {
	if m := fenceRegex.FindStringSubmatch(strings.TrimSpace(s)); m != nil {
		return m[1]
	}
	return s
}

func skipBlankLines(text string) string {
	for {
		line, rest, found := strings.Cut(text, "\n")
		if !found || strings.TrimSpace(line) != "" {
			return text
		}
		text = rest
	}
}

// countTagLines counts lines that open a new command, ignoring "<c>" inside arguments.
func countTagLines(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if tagStartRegex.MatchString(line) {
			n++
		}
	}
	return n
}

func quoteName(name string) string {
	if name == "" {
		return `""`
	}
	return `"` + name + `"`
}
