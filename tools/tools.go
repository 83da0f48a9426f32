/*
Package tools provides the executors behind the agent's command vocabulary.

Every executor is a langchaingo tools.Tool whose Name is the command it serves:
shell, interpret_code, web_search, web_fetch, read_file and write_file. A
successful call returns the output; a failed call returns whatever output was
produced together with a non-nil error, which the dispatcher turns into a failed
Observation. Executors never decide whether the loop continues.
*/
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

var registryLogger = logrus.WithField("tool", "registry")

// Options configures the executors.
type Options struct {
	WorkDir          string        // Directory relative paths and shell commands resolve against
	Shell            string        // Shell binary used by the shell executor (default: "bash")
	ExecTimeout      time.Duration // Limit for one shell or interpreter execution
	FetchTimeout     time.Duration // Limit for one web_fetch request
	SearchMaxResults int           // Results returned by web_search
	UserAgent        string        // User-Agent sent by web_search and web_fetch
}

const defaultUserAgent = "microagent/1.0 (+https://github.com/microagent)"

func (o Options) withDefaults() (Options, error) {
	if o.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return o, fmt.Errorf("failed to get working directory: %w", err)
		}
		o.WorkDir = wd
	}
	abs, err := filepath.Abs(o.WorkDir)
	if err != nil {
		return o, fmt.Errorf("resolve work dir: %w", err)
	}
	o.WorkDir = abs
	if o.Shell == "" {
		o.Shell = "bash"
	}
	if o.ExecTimeout <= 0 {
		o.ExecTimeout = 120 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 20 * time.Second
	}
	if o.SearchMaxResults <= 0 {
		o.SearchMaxResults = 5
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o, nil
}

// NewExecutors builds one executor per command, keyed by command name.
func NewExecutors(opts Options) (map[string]tools.Tool, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	search, err := NewSearchTool(opts.SearchMaxResults, opts.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("initialize web search: %w", err)
	}

	executors := map[string]tools.Tool{}
	for _, t := range []tools.Tool{
		NewShellTool(opts.WorkDir, opts.Shell, opts.ExecTimeout),
		NewInterpreterTool(opts.ExecTimeout),
		search,
		NewFetchTool(opts.FetchTimeout, opts.UserAgent),
		NewReadFileTool(opts.WorkDir),
		NewWriteFileTool(opts.WorkDir),
	} {
		executors[t.Name()] = t
	}

	registryLogger.WithFields(logrus.Fields{
		"workDir":   opts.WorkDir,
		"executors": len(executors),
	}).Info("Executors initialized")
	return executors, nil
}

// resolvePath resolves path against workDir unless it is absolute.
func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(workDir, path)
}
