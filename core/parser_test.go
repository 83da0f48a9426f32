package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	parser := NewResponseParser()
	actions := []struct {
		thought string
		action  Action
	}{
		{"List the files.", Action{Command: CommandShell, Argument: "ls -la"}},
		{"Compute the sum.", Action{Command: CommandInterpretCode, Argument: "total = 0\nfor i in range(10):\n    total += i\nprint(total)"}},
		{"Search for recipes.", Action{Command: CommandWebSearch, Argument: "chocolate chip cookies"}},
		{"Save the notes.", Action{Command: CommandWriteFile, Argument: "notes/todo.md\n# TODO\n- buy milk"}},
		{"Ask for the URL.", Action{Command: CommandAskUser, Argument: "Which site should I use?"}},
		{"All finished.", Action{Command: CommandDone, Argument: "Saved to cookies.txt"}},
		{"Write the page.", Action{Command: CommandWriteFile, Argument: "index.html\n<p>x</p>\n<c>bold</c>\n"}},
		{"Print a tag.", Action{Command: CommandInterpretCode, Argument: "print('<c>')"}},
		{"Keep the newline.", Action{Command: CommandWriteFile, Argument: "notes.txt\nhello\n"}},
		{"Indented body.", Action{Command: CommandInterpretCode, Argument: "    x = 1\nprint(x)\n\n"}},
		{"Leading blank line.", Action{Command: CommandShell, Argument: "\nls"}},
	}

	// A done without an argument is excluded: it parses back with the thought as its message.
	for _, tc := range actions {
		t.Run(tc.thought, func(t *testing.T) {
			thought, action, err := parser.Parse(RenderAction(tc.thought, tc.action))
			require.NoError(t, err)
			assert.Equal(t, tc.thought, thought)
			assert.Equal(t, tc.action, action)
		})
	}
}

func TestParseIgnoresCommandTagsInsideArgument(t *testing.T) {
	text := "<r>Save the markup.</r><c>write_file</c>\npage.xml\n<r>x</r><c>y</c> inline\n"
	_, _, err := NewResponseParser().Parse(text)
	require.Error(t, err)

	text = "<r>Save the markup.</r><c>write_file</c>\npage.xml\n<item><c>1</c></item>\n"
	_, action, err := NewResponseParser().Parse(text)
	require.NoError(t, err)
	assert.Equal(t, "page.xml\n<item><c>1</c></item>\n", action.Argument)
}

func TestParseSkipsLeadingBlankLines(t *testing.T) {
	_, action, err := NewResponseParser().Parse("\n  \n<r>List.</r><c>shell</c>\nls\n")
	require.NoError(t, err)
	assert.Equal(t, Action{Command: CommandShell, Argument: "ls\n"}, action)
}

func TestParseArgumentOnTagLine(t *testing.T) {
	thought, action, err := NewResponseParser().Parse("<r>Check disk usage.</r><c>shell</c> df -h")
	require.NoError(t, err)
	assert.Equal(t, "Check disk usage.", thought)
	assert.Equal(t, Action{Command: CommandShell, Argument: "df -h"}, action)
}

func TestParseStripsCodeFences(t *testing.T) {
	text := "<r>Run it.</r><c>interpret_code</c>\n```python\nprint(\"hi\")\n```"
	_, action, err := NewResponseParser().Parse(text)
	require.NoError(t, err)
	assert.Equal(t, `print("hi")`, action.Argument)
}

func TestParseAcceptsLegacyNames(t *testing.T) {
	_, action, err := NewResponseParser().Parse("<r>Old name.</r><c>execute_shell</c>\npwd")
	require.NoError(t, err)
	assert.Equal(t, CommandShell, action.Command)

	_, action, err = NewResponseParser().Parse("<r>Old name.</r><c>talk_to_user</c>\nHello?")
	require.NoError(t, err)
	assert.Equal(t, CommandAskUser, action.Command)
}

func TestParseDoneWithoutArgumentUsesThought(t *testing.T) {
	_, action, err := NewResponseParser().Parse("<r>Nothing left to do.</r><c>done</c>")
	require.NoError(t, err)
	assert.Equal(t, Action{Command: CommandDone, Argument: "Nothing left to do."}, action)
}

func TestParseRejections(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"no tags":          "I think I should list the files.\nls",
		"two commands":     "<r>a</r><c>shell</c>\nls\n<r>b</r><c>shell</c>\npwd",
		"unknown command":  "<r>Fly.</r><c>teleport</c>\nmars",
		"missing argument": "<r>List.</r><c>shell</c>",
		"tags not first":   "Sure!\n<r>List.</r><c>shell</c>\nls",
	}
	parser := NewResponseParser()
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := parser.Parse(text)
			var formatErr *FormatError
			require.True(t, errors.As(err, &formatErr), "expected *FormatError, got %v", err)
			assert.NotEmpty(t, formatErr.Reason)
			assert.Contains(t, formatErr.Feedback(), formatErr.Reason)
		})
	}
}

func TestParseRestrictedVocabulary(t *testing.T) {
	parser := NewResponseParser(CommandShell, CommandDone)

	_, _, err := parser.Parse(response("Plan again.", CommandRevisePlan, "1. do it"))
	require.Error(t, err)

	_, action, err := parser.Parse(response("Run.", CommandShell, "true"))
	require.NoError(t, err)
	assert.Equal(t, CommandShell, action.Command)
}

func TestRenderActionCollapsesThoughtWhitespace(t *testing.T) {
	text := RenderAction("first line\nsecond   line", Action{Command: CommandShell, Argument: "ls"})
	assert.Equal(t, "<r>first line second line</r><c>shell</c>\nls", text)
}
