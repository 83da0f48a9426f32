/*
Package core contains the objective-pursuit loop of the agent and the data types
that flow through it.

This file defines the loop's vocabulary:
- Command and Action: what the model asked to do
- Observation and Turn: what happened when it was done
- CritiqueVerdict: the optional critic's decision about a proposed Action
- State: the Orchestrator's position in the loop
- API types used by the HTTP surface (RunRequest, StreamMessage, StopRequest)
*/
package core

import (
	"strings"
	"time"
)

// Command is the closed vocabulary of actions the model may request.
type Command string

const (
	CommandShell         Command = "shell"
	CommandInterpretCode Command = "interpret_code"
	CommandWebSearch     Command = "web_search"
	CommandWebFetch      Command = "web_fetch"
	CommandReadFile      Command = "read_file"
	CommandWriteFile     Command = "write_file"
	CommandAskUser       Command = "ask_user"
	CommandRevisePlan    Command = "revise_plan"
	CommandDone          Command = "done"
)

// Commands lists every command in the order it is presented to the model.
var Commands = []Command{
	CommandShell,
	CommandInterpretCode,
	CommandWebSearch,
	CommandWebFetch,
	CommandReadFile,
	CommandWriteFile,
	CommandAskUser,
	CommandRevisePlan,
	CommandDone,
}

// commandAliases maps the command names used by older prompts onto the current vocabulary.
var commandAliases = map[string]Command{
	"execute_shell":  CommandShell,
	"execute_python": CommandInterpretCode,
	"web_scrape":     CommandWebFetch,
	"talk_to_user":   CommandAskUser,
}

// LookupCommand resolves a command name (or one of its aliases). The second result
// reports whether the name is part of the vocabulary.
func LookupCommand(name string) (Command, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range Commands {
		if string(c) == name {
			return c, true
		}
	}
	if c, ok := commandAliases[name]; ok {
		return c, true
	}
	return "", false
}

// RequiresArgument reports whether the command is meaningless without an argument.
func (c Command) RequiresArgument() bool {
	return c != CommandDone
}

// Internal reports whether the command is handled by the Orchestrator itself rather than
// by an executor behind the Dispatcher.
func (c Command) Internal() bool {
	switch c {
	case CommandDone, CommandAskUser, CommandRevisePlan:
		return true
	}
	return false
}

// Action is a single typed command chosen by the model.
type Action struct {
	Command  Command `json:"command"`
	Argument string  `json:"argument"`
}

// Key identifies an action for repeat detection.
func (a Action) Key() string {
	return string(a.Command) + "\x00" + a.Argument
}

// Observation is the normalized result of executing an Action.
type Observation struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`
}

// Text renders the observation the way the model sees it.
func (o Observation) Text() string {
	switch {
	case o.Error == "":
		return o.Output
	case o.Output == "":
		return "ERROR: " + o.Error
	default:
		return o.Output + "\nERROR: " + o.Error
	}
}

// Turn is one loop iteration's record. Turns are append-only.
type Turn struct {
	Index       int         `json:"index"`
	Thought     string      `json:"thought"`
	Action      Action      `json:"action"`
	Observation Observation `json:"observation"`
	Timestamp   time.Time   `json:"timestamp"`
}

// CritiqueVerdict is the critic's decision about a proposed Action.
type CritiqueVerdict struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// State is the Orchestrator's position in the loop.
type State string

const (
	StateThinking          State = "THINKING"
	StateParsing           State = "PARSING"
	StateCritiquing        State = "CRITIQUING"
	StateConfirming        State = "CONFIRMING"
	StateDispatching       State = "DISPATCHING"
	StateObserving         State = "OBSERVING"
	StateAwaitingUserInput State = "AWAITING_USER_INPUT"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
	StateStopped           State = "STOPPED"
)

// Terminal reports whether the loop ends in this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateStopped
}

// RunRequest starts a run through the HTTP surface.
type RunRequest struct {
	Objective string `json:"objective"`         // Natural-language objective for the run
	Confirm   *bool  `json:"confirm,omitempty"` // Override for the confirmation gate
	Critic    *bool  `json:"critic,omitempty"`  // Override for the critic
	Planner   *bool  `json:"planner,omitempty"` // Override for the planner
	Debug     bool   `json:"debug,omitempty"`   // Stream debug events
}

// RunResponse is returned when an asynchronous run has been accepted.
type RunResponse struct {
	RunID       string `json:"runId"`
	ExecutionID string `json:"executionId"`
	State       State  `json:"state"`
}

// InputRequest answers a pending confirmation or ask_user prompt.
type InputRequest struct {
	Text string `json:"text"` // Empty text approves a pending confirmation
}

// StreamMessage represents real-time messages sent to streaming clients.
// The Type field determines how the client should handle each message.
type StreamMessage struct {
	Type      string                 `json:"type"`                // "run", "execution_started", "state", "thought", "action", "observation", "critique", "prompt", "debug", "response", "error", "stopped"
	Content   string                 `json:"content"`             // Main message content
	Tool      string                 `json:"tool,omitempty"`      // Command name when Type is "action" or "observation"
	Complete  bool                   `json:"complete"`            // Whether the run finished with this message
	Debug     bool                   `json:"debug,omitempty"`     // Whether this is a debug message
	Iteration int                    `json:"iteration,omitempty"` // Loop iteration the message belongs to
	Step      string                 `json:"step,omitempty"`      // Step identifier within the iteration
	Details   map[string]interface{} `json:"details,omitempty"`   // Additional structured data
}

// StopRequest represents a client request to stop an ongoing run.
type StopRequest struct {
	ExecutionID string `json:"executionId"`
}

// StopResponse represents the server's response to a stop request.
type StopResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Stopped bool   `json:"stopped"`
}
