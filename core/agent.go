/*
Package core implements the objective-pursuit loop.

The Orchestrator is an explicit state machine:

	THINKING -> PARSING -> (CRITIQUING) -> (CONFIRMING) -> DISPATCHING -> OBSERVING -> THINKING

with the terminal states DONE, FAILED and STOPPED and the suspended state
AWAITING_USER_INPUT. All loop state of one run lives in a Session value that is
passed through every transition; nothing is shared between runs.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/schema"
)

// Condenser shortens oversized observations before they are truncated into memory.
type Condenser interface {
	Condense(ctx context.Context, text, hint string, limit int) (string, error)
}

// OrchestratorConfig holds the loop limits.
type OrchestratorConfig struct {
	MaxIterations        int  // Hard ceiling on THINKING cycles
	MaxRetries           int  // Consecutive rejected proposals tolerated
	MaxCritiques         int  // Consecutive critic rejections before the critic is skipped, 0 = no cap
	EnablePlanner        bool // Ask for a plan before the first iteration and accept revise_plan
	RejectRepeats        bool // Reject actions that already succeeded once
	CondenseObservations bool // Condense oversized observations with the summarizer
	MaxObservation       int  // Observation size that triggers condensing
	Debug                bool // Emit prompts and raw responses as debug events
}

// Session is the complete state of one run.
type Session struct {
	ID        string
	Objective string
	Memory    *MemoryStore

	state           State
	plan            string
	iterations      int
	rejections      int
	critiques       int
	feedback        string
	lastThought     string
	lastObservation *Observation
	executed        map[string]bool
	started         time.Time
	finished        time.Time
	mutex           sync.RWMutex
}

// NewSession creates the initial state of a run: THINKING with an empty memory.
func NewSession(id, objective string, memory *MemoryStore) *Session {
	return &Session{
		ID:        id,
		Objective: objective,
		Memory:    memory,
		state:     StateThinking,
		executed:  make(map[string]bool),
		started:   time.Now(),
	}
}

// SessionSnapshot is a consistent copy of a Session's progress.
type SessionSnapshot struct {
	ID              string       `json:"id"`
	Objective       string       `json:"objective"`
	State           State        `json:"state"`
	Plan            string       `json:"plan,omitempty"`
	Iterations      int          `json:"iterations"`
	Summary         string       `json:"summary,omitempty"`
	Turns           []Turn       `json:"turns"`
	LastObservation *Observation `json:"lastObservation,omitempty"`
	Started         time.Time    `json:"started"`
	Finished        *time.Time   `json:"finished,omitempty"`
}

// Snapshot returns the Session's current progress.
func (s *Session) Snapshot() SessionSnapshot {
	s.mutex.RLock()
	snap := SessionSnapshot{
		ID:              s.ID,
		Objective:       s.Objective,
		State:           s.state,
		Plan:            s.plan,
		Iterations:      s.iterations,
		LastObservation: s.lastObservation,
		Started:         s.started,
	}
	if !s.finished.IsZero() {
		f := s.finished
		snap.Finished = &f
	}
	s.mutex.RUnlock()

	snap.Summary = s.Memory.SummaryText()
	snap.Turns = s.Memory.Log()
	return snap
}

// State returns the current state.
func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = state
	if state.Terminal() {
		s.finished = time.Now()
	}
}

func (s *Session) setPlan(plan string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.plan = plan
}

func (s *Session) nextIteration() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.iterations++
	return s.iterations
}

// Result is the outcome of a run.
type Result struct {
	State           State        `json:"state"`
	Message         string       `json:"message,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	Iterations      int          `json:"iterations"`
	Turns           []Turn       `json:"turns"`
	Summary         string       `json:"summary,omitempty"`
	LastObservation *Observation `json:"lastObservation,omitempty"`
}

// Orchestrator drives a Session through the loop.
type Orchestrator struct {
	completer  Completer
	prompts    *PromptBuilder
	parser     *ResponseParser
	dispatcher *Dispatcher
	operator   Operator
	critic     Critic
	condenser  Condenser
	config     OrchestratorConfig
	handler    callbacks.Handler
	emit       func(StreamMessage)
	metrics    *Metrics
	logger     *logrus.Entry
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCritic enables the critic.
func WithCritic(c Critic) OrchestratorOption {
	return func(o *Orchestrator) { o.critic = c }
}

// WithCondenser sets the summarizer used for oversized observations.
func WithCondenser(c Condenser) OrchestratorOption {
	return func(o *Orchestrator) { o.condenser = c }
}

// WithCallbacks routes loop events to a langchaingo callbacks handler.
func WithCallbacks(h callbacks.Handler) OrchestratorOption {
	return func(o *Orchestrator) { o.handler = h }
}

// WithEventSink receives a StreamMessage for every visible step of the loop.
func WithEventSink(sink func(StreamMessage)) OrchestratorOption {
	return func(o *Orchestrator) { o.emit = sink }
}

// WithMetrics records run, turn and rejection metrics.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator assembles the objective-pursuit loop.
//
// The orchestrator owns no session state; the same instance can drive several Sessions
// one after another. The dispatcher keeps its own operator reference for the
// confirmation gate, while operator here only answers ask_user.
//
// Parameters:
//   - completer: Model endpoint asked for the next action (and for plans and critiques)
//   - dispatcher: Maps commands to executors and applies the confirmation gate
//   - operator: Human on the other end for ask_user; nil rejects ask_user
//   - config: Iteration, retry and critique limits plus planner and repeat switches
//   - logger: Structured logger carrying the run fields
//   - opts: Optional critic, condenser, callbacks, event sink and metrics
//
// Returns:
//   - *Orchestrator: Loop ready to Run a Session
func NewOrchestrator(completer Completer, dispatcher *Dispatcher, operator Operator, config OrchestratorConfig, logger *logrus.Entry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		completer:  completer,
		dispatcher: dispatcher,
		operator:   operator,
		config:     config,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(o)
	}

	var commands []Command
	for _, c := range Commands {
		switch {
		case c == CommandRevisePlan && !config.EnablePlanner:
		case c == CommandAskUser && operator == nil:
		case c.Internal() || dispatcher.Has(c):
			commands = append(commands, c)
		}
	}
	o.prompts = NewPromptBuilder(commands)
	o.parser = NewResponseParser(commands...)
	return o
}

// Run pursues the session's objective until DONE, FAILED or STOPPED.
//
// Parameters:
//   - ctx: Cancelling it stops the run at the next suspension point
//   - s: Session holding the objective and its MemoryStore
//
// Returns:
//   - *Result: Final state, message, turns and summary (never nil)
//   - error: nil only for DONE; otherwise a *RunFailure naming the reason and last observation
func (o *Orchestrator) Run(ctx context.Context, s *Session) (*Result, error) {
	runLogger := o.logger.WithFields(logrus.Fields{
		"run":       s.ID,
		"objective": truncate(s.Objective, 200),
	})
	runLogger.Info("Run started")
	if o.handler != nil {
		o.handler.HandleChainStart(ctx, map[string]any{"objective": s.Objective})
	}
	o.send(StreamMessage{Type: "run", Content: s.Objective, Details: map[string]interface{}{"runId": s.ID}})

	result, err := o.loop(ctx, s, runLogger)

	o.metrics.RecordRun(result.State, time.Since(s.started))
	fields := logrus.Fields{
		"state":      result.State,
		"iterations": result.Iterations,
		"turns":      len(result.Turns),
	}
	if err != nil {
		runLogger.WithFields(fields).WithError(err).Warn("Run ended without reaching DONE")
		if o.handler != nil {
			o.handler.HandleChainError(ctx, err)
		}
		o.send(StreamMessage{Type: "error", Content: err.Error(), Complete: true})
		return result, err
	}

	runLogger.WithFields(fields).Info("Run completed")
	if o.handler != nil {
		o.handler.HandleChainEnd(ctx, map[string]any{"output": result.Message})
	}
	o.send(StreamMessage{Type: "response", Content: result.Message, Complete: true})
	return result, nil
}

func (o *Orchestrator) loop(ctx context.Context, s *Session, logger *logrus.Entry) (*Result, error) {
	if o.config.EnablePlanner {
		if err := o.plan(ctx, s); err != nil {
			return o.fail(ctx, s, err)
		}
	}

	for {
		if ctx.Err() != nil {
			return o.fail(ctx, s, ctx.Err())
		}
		if s.iterations >= o.config.MaxIterations {
			return o.fail(ctx, s, fmt.Errorf("%w (%d)", ErrIterationLimit, o.config.MaxIterations))
		}
		iteration := s.nextIteration()
		iterLogger := logger.WithField("iteration", iteration)

		// THINKING
		s.setState(StateThinking)
		text, err := o.think(ctx, s, iteration)
		if err != nil {
			return o.fail(ctx, s, err)
		}

		// PARSING
		s.setState(StateParsing)
		thought, action, err := o.parser.Parse(text)
		if err != nil {
			var formatErr *FormatError
			errors.As(err, &formatErr)
			iterLogger.WithField("reason", formatErr.Reason).Info("Unparsable response")
			if o.reject(s, "format", formatErr.Feedback(), iteration) {
				return o.fail(ctx, s, fmt.Errorf("%w: %v", ErrRetriesExhausted, err))
			}
			continue
		}
		o.send(StreamMessage{Type: "thought", Content: thought, Iteration: iteration})
		o.send(StreamMessage{Type: "action", Content: action.Argument, Tool: string(action.Command), Iteration: iteration})
		if o.handler != nil {
			o.handler.HandleAgentAction(ctx, schema.AgentAction{
				Tool:      string(action.Command),
				ToolInput: action.Argument,
				Log:       thought,
			})
		}

		if o.config.RejectRepeats && !action.Command.Internal() && s.executed[action.Key()] {
			iterLogger.WithField("command", action.Command).Info("Repeated action rejected")
			if o.reject(s, "repeat", "You repeated a previous command. Try a different command.", iteration) {
				return o.fail(ctx, s, fmt.Errorf("%w: repeated command %s", ErrRetriesExhausted, action.Command))
			}
			continue
		}

		// CRITIQUING
		if o.shouldCritique(s, action) {
			s.setState(StateCritiquing)
			verdict, err := o.critique(ctx, s, thought, action)
			if err != nil {
				if ctx.Err() != nil {
					return o.fail(ctx, s, ctx.Err())
				}
				iterLogger.WithError(err).Warn("Critic failed, treating action as approved")
				verdict = CritiqueVerdict{Approved: true}
			}
			if !verdict.Approved {
				s.critiques++
				rejection := &CritiqueRejection{Action: action, Feedback: verdict.Feedback}
				o.send(StreamMessage{Type: "critique", Content: verdict.Feedback, Iteration: iteration})
				if o.reject(s, "critique", "Revise your command: "+verdict.Feedback, iteration) {
					return o.fail(ctx, s, fmt.Errorf("%w: %v", ErrRetriesExhausted, rejection))
				}
				continue
			}
		}
		s.critiques = 0

		observation, finished, err := o.act(ctx, s, action, iteration)
		if err != nil {
			return o.fail(ctx, s, err)
		}

		turn := Turn{
			Index:       s.Memory.Len() + 1,
			Thought:     thought,
			Action:      action,
			Observation: observation,
			Timestamp:   time.Now(),
		}
		if err := s.Memory.Append(ctx, turn); err != nil {
			return o.fail(ctx, s, err)
		}
		o.metrics.RecordTurn(action.Command, observation.Success)
		o.observed(s, thought, action, observation)

		if finished {
			s.setState(StateDone)
			if o.handler != nil {
				o.handler.HandleAgentFinish(ctx, schema.AgentFinish{
					ReturnValues: map[string]any{"output": action.Argument},
					Log:          thought,
				})
			}
			return o.result(s, action.Argument, ""), nil
		}
	}
}

// think renders the prompt and asks the model for the next action.
func (o *Orchestrator) think(ctx context.Context, s *Session, iteration int) (string, error) {
	records := s.Memory.Recall(ctx, s.Objective+", "+s.lastThought)

	s.mutex.RLock()
	input := PromptInput{
		Objective: s.Objective,
		Plan:      s.plan,
		Summary:   s.Memory.SummaryText(),
		Window:    s.Memory.Window(),
		Recalled:  records,
		Feedback:  s.feedback,
	}
	s.mutex.RUnlock()

	messages, err := o.prompts.Build(input)
	if err != nil {
		return "", err
	}
	if o.handler != nil {
		o.handler.HandleLLMStart(ctx, []string{messageText(messages[len(messages)-1])})
	}
	if o.config.Debug {
		o.send(StreamMessage{Type: "debug", Debug: true, Iteration: iteration, Step: "prompt", Content: messageText(messages[len(messages)-1])})
	}

	text, err := o.completer.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if o.config.Debug {
		o.send(StreamMessage{Type: "debug", Debug: true, Iteration: iteration, Step: "response", Content: text})
	}
	return text, nil
}

func (o *Orchestrator) plan(ctx context.Context, s *Session) error {
	messages, err := PlannerMessages(s.Objective, o.prompts.commands)
	if err != nil {
		return err
	}
	plan, err := o.completer.Complete(ctx, messages)
	if err != nil {
		return err
	}
	plan = strings.TrimSpace(plan)
	s.setPlan(plan)
	o.send(StreamMessage{Type: "plan", Content: plan})
	return nil
}

func (o *Orchestrator) shouldCritique(s *Session, action Action) bool {
	if o.critic == nil || action.Command == CommandDone || action.Command == CommandAskUser {
		return false
	}
	return o.config.MaxCritiques <= 0 || s.critiques < o.config.MaxCritiques
}

func (o *Orchestrator) critique(ctx context.Context, s *Session, thought string, action Action) (CritiqueVerdict, error) {
	s.mutex.RLock()
	plan := s.plan
	s.mutex.RUnlock()
	return o.critic.Critique(ctx, CritiqueRequest{
		Objective: s.Objective,
		Plan:      plan,
		Thought:   thought,
		Action:    action,
		Window:    s.Memory.Window(),
	})
}

// act moves an approved action through CONFIRMING, DISPATCHING and OBSERVING (or
// AWAITING_USER_INPUT) and returns its Observation. finished reports a done action.
func (o *Orchestrator) act(ctx context.Context, s *Session, action Action, iteration int) (Observation, bool, error) {
	switch action.Command {
	case CommandDone:
		return Observation{Success: true, Output: action.Argument}, true, nil

	case CommandRevisePlan:
		s.setPlan(action.Argument)
		o.send(StreamMessage{Type: "plan", Content: action.Argument, Iteration: iteration})
		return Observation{Success: true, Output: "The action plan was revised."}, false, nil

	case CommandAskUser:
		s.setState(StateObserving)
		s.setState(StateAwaitingUserInput)
		o.send(StreamMessage{Type: "prompt", Content: action.Argument, Iteration: iteration, Details: map[string]interface{}{"kind": "ask"}})
		answer, err := o.operator.Ask(ctx, action.Argument)
		if err != nil {
			return Observation{}, false, err
		}
		return Observation{Success: true, Output: "The user responded with: " + answer}, false, nil
	}

	s.setState(StateConfirming)
	approved, rejection, err := o.dispatcher.Confirm(ctx, action)
	if err != nil {
		return Observation{}, false, err
	}
	if !approved {
		o.send(StreamMessage{Type: "observation", Content: rejection.Text(), Tool: string(action.Command), Iteration: iteration})
		return rejection, false, nil
	}

	s.setState(StateDispatching)
	observation, err := o.dispatcher.Dispatch(ctx, action)
	if err != nil {
		return Observation{}, false, err
	}

	s.setState(StateObserving)
	if o.config.CondenseObservations && o.condenser != nil {
		condensed, err := o.condenser.Condense(ctx, observation.Output, s.Objective, o.config.MaxObservation)
		if err != nil {
			if ctx.Err() != nil {
				return Observation{}, false, ctx.Err()
			}
			o.logger.WithError(err).Warn("Failed to condense observation, truncating instead")
		} else {
			observation.Output = condensed
		}
	}
	if observation.Success {
		s.executed[action.Key()] = true
	}
	o.send(StreamMessage{Type: "observation", Content: observation.Text(), Tool: string(action.Command), Iteration: iteration,
		Details: map[string]interface{}{"success": observation.Success}})
	return observation, false, nil
}

// reject records a proposal that was not dispatched and reports whether the retry
// budget is now exhausted.
func (o *Orchestrator) reject(s *Session, kind, feedback string, iteration int) bool {
	o.metrics.RecordRejection(kind)
	s.mutex.Lock()
	s.rejections++
	s.feedback = feedback
	exhausted := s.rejections > o.config.MaxRetries
	s.mutex.Unlock()
	o.send(StreamMessage{Type: "rejected", Content: feedback, Iteration: iteration, Details: map[string]interface{}{"kind": kind}})
	return exhausted
}

// observed clears the transient rejection state once a Turn has been appended.
func (o *Orchestrator) observed(s *Session, thought string, action Action, observation Observation) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.rejections = 0
	s.feedback = ""
	s.lastThought = thought
	obs := observation
	s.lastObservation = &obs
}

func (o *Orchestrator) fail(ctx context.Context, s *Session, err error) (*Result, error) {
	state := StateFailed
	reason := err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		state = StateStopped
		reason = "stopped"
		err = fmt.Errorf("%w: %v", ErrStopped, err)
	}
	s.setState(state)

	result := o.result(s, "", reason)
	return result, &RunFailure{
		State:           state,
		Reason:          reason,
		LastObservation: result.LastObservation,
		Err:             err,
	}
}

func (o *Orchestrator) result(s *Session, message, reason string) *Result {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return &Result{
		State:           s.state,
		Message:         message,
		Reason:          reason,
		Iterations:      s.iterations,
		Turns:           s.Memory.Log(),
		Summary:         s.Memory.SummaryText(),
		LastObservation: s.lastObservation,
	}
}

func (o *Orchestrator) send(msg StreamMessage) {
	if o.emit != nil {
		o.emit(msg)
	}
}
