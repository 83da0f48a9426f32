/*
Package tools provides file system access for the agent.

This file implements the read_file and write_file executors. Relative paths
resolve against the work directory. write_file takes the path on the first line
of its argument and the file content on the following lines; missing parent
directories are created.
*/
package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/tools"
)

// fileLogger provides structured logging for all file operations
// with a consistent tool identifier for easy filtering and monitoring
var fileLogger = logrus.WithField("tool", "file")

// maxReadBytes caps the size of a file read_file returns.
const maxReadBytes = 10 << 20

// ReadFileTool returns the content of a file.
type ReadFileTool struct {
	workingDir string // Directory relative paths resolve against
}

// NewReadFileTool creates a new instance of the read_file executor.
//
// Parameters:
//   - workingDir: Directory relative paths resolve against
//
// Returns:
//   - *ReadFileTool: Configured tool ready for use
func NewReadFileTool(workingDir string) *ReadFileTool {
	fileLogger.Debug("Initializing read_file tool")
	return &ReadFileTool{workingDir: workingDir}
}

func (f *ReadFileTool) Name() string {
	return "read_file"
}

func (f *ReadFileTool) Description() string {
	return "Read a text file. The argument is the file path, absolute or relative to the work directory."
}

// Call reads the file named by input.
func (f *ReadFileTool) Call(ctx context.Context, input string) (string, error) {
	path := strings.TrimSpace(input)
	toolLogger := fileLogger.WithFields(logrus.Fields{"command": "read_file", "path": path})
	toolLogger.Info("File tool called")
	startTime := time.Now()

	if path == "" {
		return "", errors.New("please specify a file path")
	}
	targetPath := resolvePath(f.workingDir, path)

	info, err := os.Stat(targetPath)
	if err != nil {
		toolLogger.WithError(err).Warn("File read failed")
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("read %s: path is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return "", fmt.Errorf("read %s: file is larger than %d bytes", path, maxReadBytes)
	}

	content, err := os.ReadFile(targetPath)
	if err != nil {
		toolLogger.WithError(err).Warn("File read failed")
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	toolLogger.WithFields(logrus.Fields{
		"targetPath":    targetPath,
		"executionTime": time.Since(startTime),
		"outputLength":  len(content),
	}).Info("File read completed")
	return string(content), nil
}

// WriteFileTool writes content to a file, replacing what was there.
type WriteFileTool struct {
	workingDir string // Directory relative paths resolve against
}

// NewWriteFileTool creates a new instance of the write_file executor.
func NewWriteFileTool(workingDir string) *WriteFileTool {
	fileLogger.Debug("Initializing write_file tool")
	return &WriteFileTool{workingDir: workingDir}
}

func (f *WriteFileTool) Name() string {
	return "write_file"
}

func (f *WriteFileTool) Description() string {
	return "Write a text file. The first line of the argument is the file path; all following lines are the content."
}

// Call writes the file described by input.
func (f *WriteFileTool) Call(ctx context.Context, input string) (string, error) {
	path, content, _ := strings.Cut(strings.TrimLeft(input, " \t\r\n"), "\n")
	path = strings.TrimSpace(path)
	toolLogger := fileLogger.WithFields(logrus.Fields{"command": "write_file", "path": path})
	toolLogger.Info("File tool called")

	if path == "" {
		return "", errors.New("please put the file path on the first line of the argument")
	}
	targetPath := resolvePath(f.workingDir, path)

	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		toolLogger.WithError(err).Warn("File write failed")
		return "", fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(targetPath, []byte(content), 0o644); err != nil {
		toolLogger.WithError(err).Warn("File write failed")
		return "", fmt.Errorf("write %s: %w", path, err)
	}

	toolLogger.WithFields(logrus.Fields{
		"targetPath":  targetPath,
		"bytesLength": len(content),
	}).Info("File write completed")
	return fmt.Sprintf("File written successfully: %s (%d bytes)", targetPath, len(content)), nil
}

var (
	_ tools.Tool = (*ReadFileTool)(nil)
	_ tools.Tool = (*WriteFileTool)(nil)
)
