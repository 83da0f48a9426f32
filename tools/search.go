package tools

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

var searchLogger = logrus.WithField("tool", "web_search")

// SearchTool answers web_search with DuckDuckGo results.
type SearchTool struct {
	backend tools.Tool
}

// NewSearchTool creates a DuckDuckGo backed search returning at most maxResults results.
func NewSearchTool(maxResults int, userAgent string) (*SearchTool, error) {
	searchLogger.Debug("Initializing web search tool")
	ddg, err := duckduckgo.New(maxResults, userAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{backend: ddg}, nil
}

// NewSearchToolWithBackend wraps any search tool, e.g. a stub in tests.
func NewSearchToolWithBackend(backend tools.Tool) *SearchTool {
	return &SearchTool{backend: backend}
}

func (s *SearchTool) Name() string {
	return "web_search"
}

func (s *SearchTool) Description() string {
	return "Search the web. The argument is the search query; titles, links and snippets of the top results are returned."
}

func (s *SearchTool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	toolLogger := searchLogger.WithField("query", query)
	toolLogger.Info("Web search called")
	startTime := time.Now()

	if query == "" {
		return "", errors.New("please provide a search query")
	}

	result, err := s.backend.Call(ctx, query)
	if err != nil {
		toolLogger.WithError(err).Warn("Web search failed")
		return "", err
	}

	toolLogger.WithFields(logrus.Fields{
		"executionTime": time.Since(startTime),
		"resultLength":  len(result),
	}).Info("Web search completed")
	return result, nil
}

var _ tools.Tool = (*SearchTool)(nil)
