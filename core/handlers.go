package core

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// VerboseCallbackHandler logs every loop event of one run.
type VerboseCallbackHandler struct {
	callbacks.SimpleHandler
	runLogger *logrus.Entry
	iteration int
	step      int
	config    *Config
}

var _ callbacks.Handler = (*VerboseCallbackHandler)(nil)

func NewVerboseCallbackHandler(runLogger *logrus.Entry, config *Config) *VerboseCallbackHandler {
	return &VerboseCallbackHandler{
		runLogger: runLogger,
		config:    config,
	}
}

func (h *VerboseCallbackHandler) truncateForLog(text string) string {
	return truncate(text, h.config.LogTruncateLength)
}

func (h *VerboseCallbackHandler) fields() logrus.Fields {
	return logrus.Fields{"iteration": h.iteration, "step": h.step}
}

func (h *VerboseCallbackHandler) HandleLLMStart(ctx context.Context, prompts []string) {
	h.iteration++
	h.step = 0
	fields := h.fields()
	if len(prompts) > 0 {
		fields["prompt"] = h.truncateForLog(prompts[0])
		fields["promptLength"] = len(prompts[0])
	}
	h.runLogger.WithFields(fields).Info("Iteration started - asking model for next action")
}

func (h *VerboseCallbackHandler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.step++
	h.runLogger.WithFields(h.fields()).WithField("messageCount", len(ms)).Debug("Completion request sent")
}

func (h *VerboseCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	content := ""
	if res != nil && len(res.Choices) > 0 {
		content = res.Choices[0].Content
	}
	h.runLogger.WithFields(h.fields()).WithField("response", h.truncateForLog(content)).Debug("Completion received")
}

func (h *VerboseCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	h.runLogger.WithFields(h.fields()).WithError(err).Warn("Completion request failed")
}

func (h *VerboseCallbackHandler) HandleChainStart(ctx context.Context, inputs map[string]any) {
	h.runLogger.WithField("inputs", inputs).Info("Run loop started")
}

func (h *VerboseCallbackHandler) HandleChainEnd(ctx context.Context, outputs map[string]any) {
	h.runLogger.WithFields(logrus.Fields{
		"outputs":         outputs,
		"totalIterations": h.iteration,
	}).Info("Run loop finished")
}

func (h *VerboseCallbackHandler) HandleChainError(ctx context.Context, err error) {
	h.runLogger.WithFields(logrus.Fields{
		"error":           err.Error(),
		"totalIterations": h.iteration,
	}).Error("Run loop failed")
}

func (h *VerboseCallbackHandler) HandleToolStart(ctx context.Context, input string) {
	h.step++
	h.runLogger.WithFields(h.fields()).WithField("input", h.truncateForLog(input)).Info("Executor started")
}

func (h *VerboseCallbackHandler) HandleToolEnd(ctx context.Context, output string) {
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"output":       h.truncateForLog(output),
		"outputLength": len(output),
	}).Info("Executor completed")
}

func (h *VerboseCallbackHandler) HandleToolError(ctx context.Context, err error) {
	h.runLogger.WithFields(h.fields()).WithError(err).Info("Executor returned an error")
}

func (h *VerboseCallbackHandler) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	h.runLogger.WithFields(h.fields()).WithFields(logrus.Fields{
		"command":  action.Tool,
		"argument": h.truncateForLog(action.ToolInput),
		"thought":  action.Log,
	}).Info("Model proposed action")
}

func (h *VerboseCallbackHandler) HandleAgentFinish(ctx context.Context, finish schema.AgentFinish) {
	output, _ := finish.ReturnValues["output"].(string)
	h.runLogger.WithFields(logrus.Fields{
		"message":         h.truncateForLog(output),
		"thought":         finish.Log,
		"totalIterations": h.iteration,
	}).Info("Model declared the objective done")
}

func (h *VerboseCallbackHandler) HandleRetrieverStart(ctx context.Context, query string) {
	h.runLogger.WithFields(h.fields()).WithField("query", h.truncateForLog(query)).Debug("Long-term recall started")
}

func (h *VerboseCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	h.runLogger.WithFields(h.fields()).WithField("records", len(documents)).Debug("Long-term recall completed")
}

// StreamingCallbackHandler extends VerboseCallbackHandler to stream debug events to a client.
type StreamingCallbackHandler struct {
	*VerboseCallbackHandler
	streamFunc func(msg StreamMessage)
}

func NewStreamingCallbackHandler(runLogger *logrus.Entry, config *Config, streamFunc func(msg StreamMessage)) *StreamingCallbackHandler {
	return &StreamingCallbackHandler{
		VerboseCallbackHandler: NewVerboseCallbackHandler(runLogger, config),
		streamFunc:             streamFunc,
	}
}

func (h *StreamingCallbackHandler) debug(content, step string, details map[string]interface{}) {
	if h.streamFunc == nil {
		return
	}
	h.streamFunc(StreamMessage{
		Type:      "debug",
		Content:   content,
		Debug:     true,
		Iteration: h.iteration,
		Step:      fmt.Sprintf("%s_%d", step, h.step),
		Details:   details,
	})
}

func (h *StreamingCallbackHandler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	h.VerboseCallbackHandler.HandleLLMGenerateContentEnd(ctx, res)
	content := ""
	if res != nil && len(res.Choices) > 0 {
		content = res.Choices[0].Content
	}
	h.debug("Completion received", "llm_response", map[string]interface{}{
		"responseLength":  len(content),
		"responsePreview": h.truncateForLog(content),
	})
}

func (h *StreamingCallbackHandler) HandleLLMError(ctx context.Context, err error) {
	h.VerboseCallbackHandler.HandleLLMError(ctx, err)
	h.debug("Completion request failed", "llm_error", map[string]interface{}{"error": err.Error()})
}

func (h *StreamingCallbackHandler) HandleToolStart(ctx context.Context, input string) {
	h.VerboseCallbackHandler.HandleToolStart(ctx, input)
	h.debug("Executor started", "tool_start", map[string]interface{}{"input": h.truncateForLog(input)})
}

func (h *StreamingCallbackHandler) HandleToolEnd(ctx context.Context, output string) {
	h.VerboseCallbackHandler.HandleToolEnd(ctx, output)
	h.debug("Executor completed", "tool_end", map[string]interface{}{
		"outputLength": len(output),
		"output":       h.truncateForLog(output),
	})
}

func (h *StreamingCallbackHandler) HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document) {
	h.VerboseCallbackHandler.HandleRetrieverEnd(ctx, query, documents)
	h.debug("Long-term recall completed", "recall", map[string]interface{}{"records": len(documents)})
}
