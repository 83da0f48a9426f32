package core

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const (
	agentSystemTemplate = `You are an autonomous agent running on {{.os}}.
You pursue an objective by issuing one command at a time and reading its result.

Supported commands:
{{.command_descriptions}}

The mandatory format is:

<r>[YOUR_REASONING]</r><c>[COMMAND]</c>
[ARGUMENT]

ARGUMENT may have multiple lines if the argument is code or file content.
Use only non-interactive shell commands.
web_fetch argument is a single URL.
write_file argument is the file path on the first line followed by the file content.
Code run with interpret_code must print its result.
Send "done" with a short final message if no further action is required.
DO NOT CHAIN MULTIPLE COMMANDS.
DO NOT INCLUDE EXTRA TEXT BEFORE OR AFTER THE COMMAND.
DO NOT REPEAT PREVIOUSLY EXECUTED COMMANDS.

Example actions:

<r>Search for websites relevant to chocolate chip cookies recipe.</r><c>web_search</c>
chocolate chip cookies recipe

<r>List the files in the working directory.</r><c>shell</c>
ls -la

<r>I need to ask the user for guidance.</r><c>ask_user</c>
What is the URL of a website with chocolate chip cookies recipes?

<r>The objective is complete.</r><c>done</c>
The recipe was saved to cookies.txt`

	agentHumanTemplate = `OBJECTIVE: {{.objective}}
{{if .plan}}
Follow this action plan:

{{.plan}}
{{end}}{{if .summary}}
SUMMARY OF EARLIER ACTIONS:

{{.summary}}
{{end}}{{if .memories}}
RELEVANT MEMORIES:

{{.memories}}
{{end}}
Previous actions:
{{if .history}}{{.history}}{{else}}
None yet.
{{end}}{{if .feedback}}
FEEDBACK ON YOUR LAST RESPONSE:
{{.feedback}}
{{end}}
Respond with the next action. RESPOND WITH PRECISELY ONE THOUGHT/COMMAND/ARG COMBINATION.`

	plannerTemplate = `You are the planner of an agent running on {{.os}}.
Agent objective: {{.objective}}
Agent capabilities

{{.capabilities}}

Create a numbered list consisting of short English sentences.
Write sentences of minimum length.
Plain English only, no commands.
Make the plan as simple as possible.
Use as few items as possible.
Whenever possible, use existing knowledge rather than accessing the Internet.`

	criticTemplate = `You are a critic who reviews the actions of an agent running on {{.os}}.
Agent can interact with the web and the local operating system.
Each action consists of 1 thought and 1 command.

Review the action according to the criteria:

The action should achieve progress towards the objective.
The agent should not perform redundant actions.
The agent should use non-interactive shell commands only.
The thought should be clear and logical.
The action should reference only existent files and URLs.
The command and/or code should be free of syntax errors and logic bugs.
The agent should not unnecessarily access the Internet.

Respond with APPROVE if the action seems fine. If the action should be improved, respond with:

CRITICIZE
[FEEDBACK]

Keep your response short and concise.

OBJECTIVE: {{.objective}}
{{if .plan}}
The agent's action plan is:

{{.plan}}
{{end}}
Previous actions:
{{if .history}}{{.history}}{{else}}None yet.
{{end}}
Next action:
Thought: {{.thought}}
Command: {{.command}}
{{.argument}}

Example 1:
CRITICIZE
Indentation error in line 2 of the code. Fix this error.

Example 2:
CRITICIZE
This command is redundant given previous commands. Move on to the next step.

Example 3:
APPROVE`

	summarizeTemplate = `You maintain the running memory of an autonomous agent.
Merge the previous summary and the actions below into one new summary written from a first person perspective.
Attempt to retain all semantic information including tasks performed by the agent, website content, important data points and hyper-links.
{{if .prior}}
PREVIOUS SUMMARY:
{{.prior}}
{{end}}
ACTIONS TO FOLD IN:
{{.evicted}}`

	condenseTemplate = `Shorten the following text chunk seen by an autonomous agent, {{.limit}} characters max.
Attempt to retain all semantic information including website content, important data points and hyper-links.
{{if .hint}}If the text contains information related to: '{{.hint}}' then include it. If not, write a standard summary.
{{end}}
{{.chunk}}`
)

var commandDescriptions = map[Command]string{
	CommandShell:         "run a non-interactive shell command; argument is the command line",
	CommandInterpretCode: "run a Python-dialect (Starlark) program; argument is the code",
	CommandWebSearch:     "search the web; argument is the query",
	CommandWebFetch:      "fetch a web page and return its text; argument is the URL",
	CommandReadFile:      "read a file in the working directory; argument is the path",
	CommandWriteFile:     "write a file; argument is the path, a newline, then the content",
	CommandAskUser:       "ask the user a question; argument is the question",
	CommandRevisePlan:    "replace the action plan; argument is the new numbered plan",
	CommandDone:          "finish; argument is the final message",
}

// PromptInput is everything a completion request is rendered from.
type PromptInput struct {
	Objective string
	Plan      string
	Summary   string
	Window    []Turn
	Recalled  []LongTermRecord
	Feedback  string
}

// PromptBuilder renders the loop's completion requests. Rendering is a pure function of
// its input: identical input yields identical messages.
type PromptBuilder struct {
	system   prompts.PromptTemplate
	human    prompts.PromptTemplate
	commands []Command
}

// NewPromptBuilder creates a builder that advertises the given commands.
func NewPromptBuilder(commands []Command) *PromptBuilder {
	var descriptions []string
	for _, c := range commands {
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s", c, commandDescriptions[c]))
	}

	return &PromptBuilder{
		system: prompts.PromptTemplate{
			Template:       agentSystemTemplate,
			TemplateFormat: prompts.TemplateFormatGoTemplate,
			InputVariables: []string{},
			PartialVariables: map[string]any{
				"os":                   runtime.GOOS,
				"command_descriptions": strings.Join(descriptions, "\n"),
			},
		},
		human: prompts.PromptTemplate{
			Template:       agentHumanTemplate,
			TemplateFormat: prompts.TemplateFormatGoTemplate,
			InputVariables: []string{"objective", "plan", "summary", "memories", "history", "feedback"},
		},
		commands: commands,
	}
}

// Build renders the system instructions and the current state into messages.
func (b *PromptBuilder) Build(in PromptInput) ([]llms.MessageContent, error) {
	system, err := b.system.Format(map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("render system prompt: %w", err)
	}

	human, err := b.human.Format(map[string]any{
		"objective": in.Objective,
		"plan":      strings.TrimSpace(in.Plan),
		"summary":   strings.TrimSpace(in.Summary),
		"memories":  RenderRecords(in.Recalled),
		"history":   RenderWindow(in.Window),
		"feedback":  strings.TrimSpace(in.Feedback),
	})
	if err != nil {
		return nil, fmt.Errorf("render agent prompt: %w", err)
	}

	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}, nil
}

// RenderTurn serializes a Turn the way the model sees it in the prompt.
func RenderTurn(t Turn) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\nPrevious command #%d:\n", t.Index)
	fmt.Fprintf(&sb, "Thought: %s\n", t.Thought)
	fmt.Fprintf(&sb, "Cmd: %s\n", t.Action.Command)
	fmt.Fprintf(&sb, "Arg:\n%s\n", t.Action.Argument)
	sb.WriteString("Result:\n")
	sb.WriteString(t.Observation.Text())
	sb.WriteString("\n")
	return sb.String()
}

// RenderWindow serializes turns in order. Its length is what the window budget bounds.
func RenderWindow(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(RenderTurn(t))
	}
	return sb.String()
}

// RenderRecords lists recalled long-term records, most similar first.
func RenderRecords(records []LongTermRecord) string {
	lines := make([]string, 0, len(records))
	for _, r := range records {
		lines = append(lines, "- "+strings.TrimSpace(r.Text))
	}
	return strings.Join(lines, "\n")
}

// messageText concatenates the text parts of a message.
func messageText(m llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range m.Parts {
		if text, ok := part.(llms.TextContent); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String()
}

func formatTemplate(tmpl string, values map[string]any) (string, error) {
	p := prompts.PromptTemplate{
		Template:       tmpl,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
	}
	return p.Format(values)
}

// PlannerMessages asks for a numbered action plan for objective.
func PlannerMessages(objective string, commands []Command) ([]llms.MessageContent, error) {
	var capabilities []string
	for _, c := range commands {
		if c == CommandDone || c == CommandRevisePlan {
			continue
		}
		capabilities = append(capabilities, "- "+commandDescriptions[c])
	}
	text, err := formatTemplate(plannerTemplate, map[string]any{
		"os":           runtime.GOOS,
		"objective":    objective,
		"capabilities": strings.Join(capabilities, "\n"),
	})
	if err != nil {
		return nil, fmt.Errorf("render planner prompt: %w", err)
	}
	return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, text)}, nil
}
