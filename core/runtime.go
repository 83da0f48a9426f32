package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/tools"
)

// Runtime holds the collaborators shared by every run of the process: the model, the
// summarizer, the long-term backend and the executors. Per-run state lives in Session.
type Runtime struct {
	Config  *Config
	Logger  *logrus.Logger
	Metrics *Metrics

	completerFor func(handler callbacks.Handler) Completer
	summarizer   *LLMSummarizer
	longTerm     LongTermMemory
	executors    map[Command]tools.Tool
}

// RuntimeParts injects ready-made collaborators, bypassing provider initialization.
type RuntimeParts struct {
	Completer  Completer
	Summarizer Completer // Defaults to Completer
	LongTerm   LongTermMemory
	Executors  map[Command]tools.Tool
	Metrics    *Metrics
}

// NewRuntime initializes the configured provider, the long-term backend and the
// executors.
//
// An unreachable long-term backend is logged and skipped; runs then work from the
// summary and window alone.
//
// Parameters:
//   - ctx: Context for provider and backend initialization
//   - config: Loaded configuration
//   - logger: Root logger
//   - executors: Executors keyed by command name
//   - metrics: Recorder shared by every run; may be nil
//
// Returns:
//   - *Runtime: Shared collaborators for NewRun
//   - error: Non-nil for an unknown executor, a provider failure or an invalid memory setup
func NewRuntime(ctx context.Context, config *Config, logger *logrus.Logger, executors map[string]tools.Tool, metrics *Metrics) (*Runtime, error) {
	byCommand, err := executorsByCommand(executors)
	if err != nil {
		return nil, err
	}

	model, err := NewModel(ctx, config, "", logger)
	if err != nil {
		return nil, err
	}
	cleaned := NewCleaningLLMWrapper(model, config, logger)
	completerLogger := logger.WithField("component", "completer")
	newCompleter := func(m llms.Model, handler callbacks.Handler) Completer {
		return NewModelCompleter(m, completerLogger,
			WithRetryPolicy(config.EndpointRetries, config.EndpointBackoff),
			WithRequestTimeout(config.RequestTimeout),
			WithCompleterMetrics(metrics),
			WithCompleterCallbacks(handler),
		)
	}

	summaryModel := llms.Model(cleaned)
	if config.SummarizerModel != "" && config.SummarizerModel != config.ModelName() {
		m, err := NewModel(ctx, config, config.SummarizerModel, logger)
		if err != nil {
			return nil, fmt.Errorf("summarizer model: %w", err)
		}
		summaryModel = NewCleaningLLMWrapper(m, config, logger)
	}

	var longTerm LongTermMemory
	if config.MemoryType != "none" {
		embedder, err := NewEmbedder(model)
		if err != nil {
			return nil, fmt.Errorf("long-term memory %s: %w", config.MemoryType, err)
		}
		longTerm, err = NewLongTermMemory(ctx, config, embedder, logger)
		if errors.Is(err, ErrBackendUnavailable) {
			logger.WithError(err).WithField("memoryType", config.MemoryType).
				Warn("Long-term memory backend unreachable, continuing without recall")
			longTerm, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
	}

	return &Runtime{
		Config:  config,
		Logger:  logger,
		Metrics: metrics,
		completerFor: func(handler callbacks.Handler) Completer {
			return newCompleter(cleaned, handler)
		},
		summarizer: NewLLMSummarizer(newCompleter(summaryModel, nil), config.SummarizerChunkSize, logger.WithField("component", "summarizer")),
		longTerm:   longTerm,
		executors:  byCommand,
	}, nil
}

// NewRuntimeFromParts assembles a Runtime around injected collaborators.
func NewRuntimeFromParts(config *Config, logger *logrus.Logger, parts RuntimeParts) *Runtime {
	summarizer := parts.Summarizer
	if summarizer == nil {
		summarizer = parts.Completer
	}
	return &Runtime{
		Config:       config,
		Logger:       logger,
		Metrics:      parts.Metrics,
		completerFor: func(callbacks.Handler) Completer { return parts.Completer },
		summarizer:   NewLLMSummarizer(summarizer, config.SummarizerChunkSize, logger.WithField("component", "summarizer")),
		longTerm:     parts.LongTerm,
		executors:    parts.Executors,
	}
}

func executorsByCommand(executors map[string]tools.Tool) (map[Command]tools.Tool, error) {
	byCommand := make(map[Command]tools.Tool, len(executors))
	for name, executor := range executors {
		command, ok := LookupCommand(name)
		if !ok || command.Internal() {
			return nil, fmt.Errorf("executor registered for unknown command %q", name)
		}
		byCommand[command] = executor
	}
	return byCommand, nil
}

// RunOptions override configuration for a single run.
type RunOptions struct {
	Confirm       *bool
	Critic        *bool
	Planner       *bool
	MaxIterations int
	Debug         bool
}

func boolOr(override *bool, fallback bool) bool {
	if override != nil {
		return *override
	}
	return fallback
}

// NewRun creates an isolated Session and the Orchestrator that drives it. sink and
// handler may be nil.
func (r *Runtime) NewRun(objective string, operator Operator, opts RunOptions, sink func(StreamMessage), handler callbacks.Handler) (*Session, *Orchestrator) {
	cfg := r.Config
	id := uuid.NewString()
	runLogger := r.Logger.WithField("run", id)

	memory := NewMemoryStore(MemoryConfig{
		Budget:         cfg.MaxContextSize,
		Unit:           cfg.ContextUnit,
		Model:          cfg.ModelName(),
		MaxObservation: cfg.MaxMemoryItemSize,
		RecallLimit:    cfg.RecallLimit,
		RunID:          id,
	}, r.summarizer, r.longTerm, runLogger)

	dispatcher := NewDispatcher(r.executors, operator, boolOr(opts.Confirm, cfg.PromptUser), runLogger)

	if handler != nil {
		memory.SetCallbacksHandler(handler)
		dispatcher.SetCallbacksHandler(handler)
	}

	completer := r.completerFor(handler)
	maxIterations := cfg.MaxIterations
	if opts.MaxIterations > 0 {
		maxIterations = opts.MaxIterations
	}

	orchestratorOpts := []OrchestratorOption{
		WithCondenser(r.summarizer),
		WithMetrics(r.Metrics),
		WithEventSink(sink),
	}
	if handler != nil {
		orchestratorOpts = append(orchestratorOpts, WithCallbacks(handler))
	}
	if boolOr(opts.Critic, cfg.EnableCritic) {
		orchestratorOpts = append(orchestratorOpts, WithCritic(NewLLMCritic(completer)))
	}

	orchestrator := NewOrchestrator(completer, dispatcher, operator, OrchestratorConfig{
		MaxIterations:        maxIterations,
		MaxRetries:           cfg.MaxRetries,
		MaxCritiques:         cfg.MaxCritiques,
		EnablePlanner:        boolOr(opts.Planner, cfg.EnablePlanner),
		RejectRepeats:        cfg.RejectRepeats,
		CondenseObservations: cfg.CondenseObservations,
		MaxObservation:       cfg.MaxMemoryItemSize,
		Debug:                opts.Debug || cfg.DebugMode,
	}, runLogger, orchestratorOpts...)

	return NewSession(id, objective, memory), orchestrator
}

// Close releases the long-term backend.
func (r *Runtime) Close() error {
	return CloseLongTermMemory(r.longTerm)
}
