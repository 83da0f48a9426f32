/*
Package tools provides web page retrieval for the agent.

This file implements the FetchTool, which downloads a single URL and reduces
HTML documents to their readable text: script, style and similar nodes are
dropped, block elements start new lines and runs of whitespace are collapsed.
Non-HTML bodies are returned as they are. Responses with a status of 400 or
above fail the call.
*/
package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
	"golang.org/x/net/html"
)

// fetchLogger provides structured logging for all fetch operations
var fetchLogger = logrus.WithField("tool", "web_fetch")

// maxFetchBytes caps the body read from one response.
const maxFetchBytes = 5 << 20

// FetchTool retrieves web pages for the web_fetch command.
type FetchTool struct {
	client    *http.Client
	userAgent string
}

// NewFetchTool creates a fetcher whose requests time out after timeout.
func NewFetchTool(timeout time.Duration, userAgent string) *FetchTool {
	fetchLogger.Debug("Initializing web fetch tool")
	return &FetchTool{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

func (f *FetchTool) Name() string {
	return "web_fetch"
}

func (f *FetchTool) Description() string {
	return "Fetch a web page. The argument is a single http(s) URL; the readable text of the page is returned."
}

// Call downloads the URL given as input.
//
// Parameters:
//   - ctx: Context for cancellation
//   - input: An absolute http or https URL
//
// Returns:
//   - string: Page text (HTML) or raw body (other content types)
//   - error: Non-nil for invalid URLs, transport failures and error statuses
func (f *FetchTool) Call(ctx context.Context, input string) (string, error) {
	rawURL := strings.TrimSpace(input)
	toolLogger := fetchLogger.WithField("url", rawURL)
	toolLogger.Info("Web fetch called")
	startTime := time.Now()

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: expected an absolute http(s) URL", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		toolLogger.WithError(err).Warn("Web fetch failed")
		return "", fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	text := string(body)
	if isHTML(resp.Header.Get("Content-Type"), body) {
		text = HTMLToText(text)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		toolLogger.WithField("status", resp.StatusCode).Warn("Web fetch returned an error status")
		return text, fmt.Errorf("server responded with %s", resp.Status)
	}

	toolLogger.WithFields(logrus.Fields{
		"status":        resp.StatusCode,
		"executionTime": time.Since(startTime),
		"bodyLength":    len(body),
		"textLength":    len(text),
	}).Info("Web fetch completed")
	return text, nil
}

func isHTML(contentType string, body []byte) bool {
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml")
}

// HTMLToText extracts the readable text of an HTML document.
func HTMLToText(input string) string {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return strings.TrimSpace(input)
	}
	var b strings.Builder
	walkText(&b, doc)

	lines := strings.Split(b.String(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func walkText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipElement(n.Data) {
			return
		}
		if blockElement(n.Data) {
			b.WriteByte('\n')
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		walkText(b, child)
	}
	if n.Type == html.ElementNode && blockElement(n.Data) {
		b.WriteByte('\n')
	}
}

func skipElement(name string) bool {
	switch strings.ToLower(name) {
	case "script", "style", "noscript", "template", "svg", "iframe":
		return true
	}
	return false
}

func blockElement(name string) bool {
	switch strings.ToLower(name) {
	case "p", "div", "br", "li", "ul", "ol", "tr", "table", "section", "article",
		"header", "footer", "nav", "main", "aside", "pre", "blockquote", "title",
		"h1", "h2", "h3", "h4", "h5", "h6":
		return true
	}
	return false
}

var _ tools.Tool = (*FetchTool)(nil)
