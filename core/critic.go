package core

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// Critic reviews a proposed Action before it reaches the confirmation gate. It never
// touches the environment.
type Critic interface {
	Critique(ctx context.Context, req CritiqueRequest) (CritiqueVerdict, error)
}

// CritiqueRequest is what the critic sees.
type CritiqueRequest struct {
	Objective string
	Plan      string
	Thought   string
	Action    Action
	Window    []Turn
}

// LLMCritic asks the model to APPROVE or CRITICIZE an Action.
type LLMCritic struct {
	completer Completer
}

// NewLLMCritic creates a critic backed by completer.
func NewLLMCritic(completer Completer) *LLMCritic {
	return &LLMCritic{completer: completer}
}

func (c *LLMCritic) Critique(ctx context.Context, req CritiqueRequest) (CritiqueVerdict, error) {
	prompt, err := formatTemplate(criticTemplate, map[string]any{
		"os":        runtime.GOOS,
		"objective": req.Objective,
		"plan":      strings.TrimSpace(req.Plan),
		"history":   RenderWindow(req.Window),
		"thought":   req.Thought,
		"command":   string(req.Action.Command),
		"argument":  req.Action.Argument,
	})
	if err != nil {
		return CritiqueVerdict{}, fmt.Errorf("render critic prompt: %w", err)
	}

	response, err := c.completer.Complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	if err != nil {
		return CritiqueVerdict{}, err
	}
	return ParseVerdict(response), nil
}

// ParseVerdict reads a critic response. The Action is rejected only when the first
// non-empty line starts with CRITICIZE and feedback follows it.
func ParseVerdict(response string) CritiqueVerdict {
	response = strings.TrimSpace(response)
	if !strings.HasPrefix(response, "CRITICIZE") {
		return CritiqueVerdict{Approved: true}
	}
	feedback := strings.TrimSpace(response[len("CRITICIZE"):])
	feedback = strings.TrimLeft(feedback, ":- \t")
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return CritiqueVerdict{Approved: true}
	}
	return CritiqueVerdict{Approved: false, Feedback: feedback}
}
