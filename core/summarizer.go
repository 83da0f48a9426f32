package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/textsplitter"
)

// LLMSummarizer asks the model to fold evicted Turns into the Summary and to condense
// oversized observations chunk by chunk.
type LLMSummarizer struct {
	completer Completer
	splitter  textsplitter.RecursiveCharacter
	logger    *logrus.Entry
}

// NewLLMSummarizer creates a summarizer that splits long texts into chunkSize pieces.
func NewLLMSummarizer(completer Completer, chunkSize int, logger *logrus.Entry) *LLMSummarizer {
	if chunkSize <= 0 {
		chunkSize = 3000
	}
	return &LLMSummarizer{
		completer: completer,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(0),
		),
		logger: logger,
	}
}

// Summarize returns a new Summary covering prior and evicted.
func (s *LLMSummarizer) Summarize(ctx context.Context, prior string, evicted []Turn) (string, error) {
	text, err := formatTemplate(summarizeTemplate, map[string]any{
		"prior":   strings.TrimSpace(prior),
		"evicted": RenderWindow(evicted),
	})
	if err != nil {
		return "", fmt.Errorf("render summary prompt: %w", err)
	}
	summary, err := s.completer.Complete(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// Condense shortens text to roughly limit characters by summarizing each chunk with the
// objective as a hint. Text already within limit is returned unchanged.
func (s *LLMSummarizer) Condense(ctx context.Context, text, hint string, limit int) (string, error) {
	if limit <= 0 || len([]rune(text)) <= limit {
		return text, nil
	}
	chunks, err := s.splitter.SplitText(text)
	if err != nil {
		return "", fmt.Errorf("split text: %w", err)
	}
	if len(chunks) == 0 {
		return "", nil
	}

	perChunk := limit / len(chunks)
	if perChunk < 100 {
		perChunk = 100
	}
	s.logger.WithFields(logrus.Fields{
		"chunks":   len(chunks),
		"perChunk": perChunk,
	}).Debug("Condensing observation")

	var sb strings.Builder
	for _, chunk := range chunks {
		prompt, err := formatTemplate(condenseTemplate, map[string]any{
			"limit": perChunk,
			"hint":  hint,
			"chunk": chunk,
		})
		if err != nil {
			return "", fmt.Errorf("render condense prompt: %w", err)
		}
		part, err := s.completer.Complete(ctx, []llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeHuman, prompt),
		})
		if err != nil {
			return "", err
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(strings.TrimSpace(part))
	}
	return sb.String(), nil
}
