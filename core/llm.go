/*
Package core provides LLM integration and response processing for the agent.

This file implements:
- Provider initialization (Ollama, Gemini, OpenAI) behind the langchaingo llms.Model interface
- A cleaning wrapper that strips reasoning tags some models emit around their answer
- The Completer used by the loop, which classifies endpoint failures and retries
  transient ones with exponential backoff
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Completer is the completion endpoint as seen by the loop.
type Completer interface {
	Complete(ctx context.Context, messages []llms.MessageContent) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []llms.MessageContent) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	return f(ctx, messages)
}

// NewModel initializes the language model for the configured provider. A non-empty
// modelOverride replaces the configured model name (used for the summarizer model).
func NewModel(ctx context.Context, config *Config, modelOverride string, logger *logrus.Logger) (llms.Model, error) {
	modelName := config.ModelName()
	if modelOverride != "" {
		modelName = modelOverride
	}
	providerLogger := logger.WithFields(logrus.Fields{
		"provider": config.LLMProvider,
		"model":    modelName,
	})

	var (
		llm llms.Model
		err error
	)
	switch config.LLMProvider {
	case "gemini":
		opts := []googleai.Option{
			googleai.WithAPIKey(config.GeminiAPIKey),
			googleai.WithDefaultModel(modelName),
		}
		if config.EmbeddingModel != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(config.EmbeddingModel))
		}
		llm, err = googleai.New(ctx, opts...)

	case "openai":
		opts := []openai.Option{
			openai.WithToken(config.OpenAIAPIKey),
			openai.WithModel(modelName),
		}
		if config.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.OpenAIBaseURL))
		}
		if config.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(config.EmbeddingModel))
		}
		llm, err = openai.New(opts...)

	default:
		llm, err = ollama.New(
			ollama.WithServerURL(config.OllamaEndpoint),
			ollama.WithModel(modelName),
		)
	}
	if err != nil {
		providerLogger.WithError(err).Error("Failed to initialize LLM")
		return nil, fmt.Errorf("failed to initialize %s LLM: %w", config.LLMProvider, err)
	}
	providerLogger.Info("LLM initialized successfully")
	return llm, nil
}

var (
	thinkRegex        = regexp.MustCompile(`(?i)(?s)<think>.*?</think>`)
	openThinkRegex    = regexp.MustCompile(`(?i)(?s)<think>.*`)
	reasoningRegex    = regexp.MustCompile(`(?i)(?s)<reasoning>.*?</reasoning>`)
	multiNewlineRegex = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// CleaningLLMWrapper strips reasoning tags from model output so the response parser
// only sees the answer. It implements llms.Model.
type CleaningLLMWrapper struct {
	wrappedLLM llms.Model
	config     *Config
	logger     *logrus.Logger
}

// NewCleaningLLMWrapper wraps llm with response cleaning.
func NewCleaningLLMWrapper(llm llms.Model, config *Config, logger *logrus.Logger) *CleaningLLMWrapper {
	return &CleaningLLMWrapper{
		wrappedLLM: llm,
		config:     config,
		logger:     logger,
	}
}

// CleanResponse removes <think> and <reasoning> blocks and collapses blank lines.
// An unterminated <think> swallows the rest of the text.
func CleanResponse(response string) string {
	cleaned := thinkRegex.ReplaceAllString(response, "")
	cleaned = openThinkRegex.ReplaceAllString(cleaned, "")
	cleaned = reasoningRegex.ReplaceAllString(cleaned, "")
	cleaned = strings.TrimSpace(cleaned)
	return multiNewlineRegex.ReplaceAllString(cleaned, "\n\n")
}

// GenerateContent implements llms.Model.
func (w *CleaningLLMWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	response, err := w.wrappedLLM.GenerateContent(ctx, messages, options...)
	if err != nil {
		return response, err
	}

	if response != nil {
		for i := range response.Choices {
			original := response.Choices[i].Content
			cleaned := CleanResponse(original)
			response.Choices[i].Content = cleaned

			if len(original) != len(cleaned) {
				w.logger.WithFields(logrus.Fields{
					"originalLength":  len(original),
					"cleanedLength":   len(cleaned),
					"originalPreview": truncate(original, w.config.LogTruncateLength),
				}).Debug("Cleaned LLM response content")
			}
		}
	}
	return response, nil
}

// Call implements llms.Model.
func (w *CleaningLLMWrapper) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, w, prompt, options...)
}

// ModelCompleter adapts an llms.Model to the Completer interface. Transient failures are
// retried with exponential backoff; authentication and quota failures abort immediately.
type ModelCompleter struct {
	model          llms.Model
	maxAttempts    int
	initialBackoff time.Duration
	timeout        time.Duration
	handler        callbacks.Handler
	metrics        *Metrics
	logger         *logrus.Entry
}

// CompleterOption customizes a ModelCompleter.
type CompleterOption func(*ModelCompleter)

// WithCompleterCallbacks routes LLM start/end/error events to handler.
func WithCompleterCallbacks(handler callbacks.Handler) CompleterOption {
	return func(c *ModelCompleter) { c.handler = handler }
}

// WithCompleterMetrics records retries and failures.
func WithCompleterMetrics(m *Metrics) CompleterOption {
	return func(c *ModelCompleter) { c.metrics = m }
}

// WithRetryPolicy sets the attempt count and the initial backoff.
func WithRetryPolicy(attempts int, initial time.Duration) CompleterOption {
	return func(c *ModelCompleter) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if initial > 0 {
			c.initialBackoff = initial
		}
	}
}

// WithRequestTimeout bounds each completion attempt.
func WithRequestTimeout(timeout time.Duration) CompleterOption {
	return func(c *ModelCompleter) { c.timeout = timeout }
}

// NewModelCompleter builds a Completer around model.
func NewModelCompleter(model llms.Model, logger *logrus.Entry, opts ...CompleterOption) *ModelCompleter {
	c := &ModelCompleter{
		model:          model,
		maxAttempts:    4,
		initialBackoff: 500 * time.Millisecond,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends messages to the model and returns the first choice's text.
func (c *ModelCompleter) Complete(ctx context.Context, messages []llms.MessageContent) (string, error) {
	attempts := 0
	operation := func() (string, error) {
		attempts++
		if c.handler != nil {
			c.handler.HandleLLMGenerateContentStart(ctx, messages)
		}

		callCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		resp, err := c.model.GenerateContent(callCtx, messages)
		if err == nil && (resp == nil || len(resp.Choices) == 0) {
			err = errors.New("empty response from model")
		}
		if err != nil {
			if c.handler != nil {
				c.handler.HandleLLMError(ctx, err)
			}
			if ctx.Err() != nil {
				return "", backoff.Permanent(ctx.Err())
			}
			if ClassifyEndpointError(err) == EndpointFatal {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if c.handler != nil {
			c.handler.HandleLLMGenerateContentEnd(ctx, resp)
		}
		return resp.Choices[0].Content, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.initialBackoff
	expo.MaxInterval = 30 * time.Second

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.metrics.RecordEndpointRetry()
			c.logger.WithError(err).WithField("wait", wait).Warn("Completion failed, retrying")
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		kind := ClassifyEndpointError(err)
		c.metrics.RecordEndpointFailure(kind.String())
		return "", &EndpointError{Kind: kind, Attempts: attempts, Err: err}
	}
	return text, nil
}

var fatalEndpointMarkers = []string{
	"401", "403", "unauthorized", "unauthenticated", "permission denied", "permissiondenied",
	"invalid api key", "incorrect api key", "invalid_api_key", "api key not valid",
	"insufficient_quota", "quota", "billing",
}

// ClassifyEndpointError decides whether a completion failure is worth retrying.
// Authentication, permission and quota failures are fatal; everything else
// (network errors, 429, 5xx, timeouts) is transient.
func ClassifyEndpointError(err error) EndpointErrorKind {
	var endpointErr *EndpointError
	if errors.As(err, &endpointErr) {
		return endpointErr.Kind
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return EndpointTransient
	}
	for _, marker := range fatalEndpointMarkers {
		if strings.Contains(msg, marker) {
			return EndpointFatal
		}
	}
	return EndpointTransient
}
