package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/callbacks"
)

// Server exposes the agent loop over HTTP. Every run owns its Session and
// MemoryStore; the Server only tracks them.
type Server struct {
	runtime       *Runtime
	runs          *RunStore
	cancelManager *CancelManager
	slots         chan struct{}
	config        *Config
	logger        *logrus.Logger
	metrics       *Metrics
}

// ErrTooManyRuns is returned when MAX_CONCURRENT_RUNS runs are already executing.
var ErrTooManyRuns = errors.New("too many concurrent runs")

// NewServer creates the HTTP surface around an initialized Runtime.
//
// It starts the background cleanup of finished runs; call Close to stop it.
//
// Parameters:
//   - runtime: Shared collaborators every run is built from
//
// Returns:
//   - *Server: Server ready for RegisterRoutes
func NewServer(runtime *Runtime) *Server {
	config := runtime.Config
	logger := runtime.Logger

	runs := NewRunStore(config.SessionMaxAge, config.CleanupInterval, logger)
	logger.WithFields(logrus.Fields{
		"sessionMaxAge":     config.SessionMaxAge,
		"maxConcurrentRuns": config.MaxConcurrentRuns,
	}).Info("Run store initialized")

	return &Server{
		runtime:       runtime,
		runs:          runs,
		cancelManager: NewCancelManager(),
		slots:         make(chan struct{}, config.MaxConcurrentRuns),
		config:        config,
		logger:        logger,
		metrics:       runtime.Metrics,
	}
}

// Close cancels every running execution and stops the run store cleanup.
func (s *Server) Close() {
	for _, id := range s.cancelManager.GetActiveExecutions() {
		s.cancelManager.CancelExecution(id)
	}
	s.runs.Close()
}

func (s *Server) requestLogger(c echo.Context, endpoint string) *logrus.Entry {
	requestID := c.Request().Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return s.logger.WithFields(logrus.Fields{
		"requestId": requestID,
		"endpoint":  endpoint,
		"method":    c.Request().Method,
		"clientIP":  c.RealIP(),
	})
}

func (s *Server) acquireSlot() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) releaseSlot() {
	<-s.slots
}

func (req RunRequest) options() RunOptions {
	return RunOptions{
		Confirm: req.Confirm,
		Critic:  req.Critic,
		Planner: req.Planner,
		Debug:   req.Debug,
	}
}

// startRun creates and registers a run. The caller must call execute exactly once.
func (s *Server) startRun(parent context.Context, req RunRequest, sink func(StreamMessage), handler callbacks.Handler, notify func(PendingPrompt)) (*Run, *Orchestrator, context.Context, error) {
	if !s.acquireSlot() {
		return nil, nil, nil, ErrTooManyRuns
	}

	operator := NewRemoteOperator(notify)
	session, orchestrator := s.runtime.NewRun(req.Objective, operator, req.options(), sink, handler)
	executionID := "exec_" + uuid.NewString()
	run := NewRun(executionID, session, operator)
	s.runs.Add(run)

	ctx, cancel := context.WithCancel(parent)
	s.cancelManager.AddExecution(executionID, run.ID, cancel)
	return run, orchestrator, ctx, nil
}

// execute drives the run to a terminal state and releases its slot.
func (s *Server) execute(ctx context.Context, run *Run, orchestrator *Orchestrator) (*Result, error) {
	defer func() {
		s.cancelManager.RemoveExecution(run.ExecutionID)
		s.releaseSlot()
		s.metrics.DecActiveRuns()
	}()
	s.metrics.IncActiveRuns()

	var (
		result *Result
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.WithFields(logrus.Fields{
					"runID": run.ID,
					"panic": r,
				}).Error("Panic occurred during run")
				err = fmt.Errorf("run failed due to internal error: %v", r)
				result = &Result{State: StateFailed, Reason: err.Error()}
			}
		}()
		result, err = orchestrator.Run(ctx, run.Session)
	}()

	run.Finish(result, err)
	return result, err
}

func (s *Server) handleCreateRun(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/runs")
	requestLogger.Info("Received run request")

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Objective == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Objective is required"})
	}

	handler := NewVerboseCallbackHandler(requestLogger.WithField("component", "run"), s.config)
	run, orchestrator, ctx, err := s.startRun(context.Background(), req, nil, handler, nil)
	if err != nil {
		requestLogger.WithError(err).Warn("Run rejected")
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	}

	requestLogger.WithFields(logrus.Fields{
		"runID":       run.ID,
		"executionID": run.ExecutionID,
	}).Info("Run started")

	go func() {
		if _, err := s.execute(ctx, run, orchestrator); err != nil {
			requestLogger.WithField("runID", run.ID).WithError(err).Warn("Run finished without reaching DONE")
		}
	}()

	return c.JSON(http.StatusAccepted, RunResponse{
		RunID:       run.ID,
		ExecutionID: run.ExecutionID,
		State:       run.Session.State(),
	})
}

func (s *Server) handleStreamRun(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/runs/stream")
	requestLogger.Info("Received streaming run request")

	var req RunRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse streaming request body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Objective == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Objective is required"})
	}

	var writeMutex sync.Mutex
	send := func(msg StreamMessage) {
		writeMutex.Lock()
		defer writeMutex.Unlock()
		s.sendStreamMessage(c, msg)
	}
	notify := func(p PendingPrompt) {
		// ask_user prompts are already announced by the loop
		if p.Kind == "confirm" {
			send(StreamMessage{Type: "prompt", Content: p.Text, Tool: string(p.Action.Command), Details: map[string]interface{}{
				"kind":     p.Kind,
				"argument": p.Action.Argument,
			}})
		}
	}

	var handler callbacks.Handler
	if req.Debug || s.config.DebugMode {
		handler = NewStreamingCallbackHandler(requestLogger.WithField("component", "debug_run"), s.config, send)
	} else {
		handler = NewVerboseCallbackHandler(requestLogger.WithField("component", "run"), s.config)
	}

	run, orchestrator, ctx, err := s.startRun(c.Request().Context(), req, send, handler, notify)
	if err != nil {
		requestLogger.WithError(err).Warn("Streaming run rejected")
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	send(StreamMessage{Type: "execution_started", Content: run.ExecutionID, Details: map[string]interface{}{"runId": run.ID}})

	startTime := time.Now()
	result, err := s.execute(ctx, run, orchestrator)
	executionTime := time.Since(startTime)

	fields := logrus.Fields{
		"runID":         run.ID,
		"executionID":   run.ExecutionID,
		"executionTime": executionTime,
		"state":         result.State,
	}
	if err != nil {
		if result.State == StateStopped {
			send(StreamMessage{Type: "stopped", Content: "Run was stopped", Complete: true})
		}
		requestLogger.WithFields(fields).WithError(err).Warn("Streaming run finished without reaching DONE")
		return nil
	}
	requestLogger.WithFields(fields).Info("Streaming run completed")
	return nil
}

func (s *Server) sendStreamMessage(c echo.Context, msg StreamMessage) {
	data, _ := json.Marshal(msg)
	fmt.Fprintf(c.Response(), "data: %s\n\n", string(data))
	c.Response().Flush()
}

func (s *Server) handleListRuns(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/runs")
	runs := s.runs.List()
	requestLogger.WithField("runCount", len(runs)).Debug("Runs listed")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs": runs,
	})
}

func (s *Server) handleGetRun(c echo.Context) error {
	runID := c.Param("id")
	run, exists := s.runs.Get(runID)
	if !exists {
		s.requestLogger(c, "/runs/:id").WithField("runID", runID).Warn("Run not found")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}
	return c.JSON(http.StatusOK, run.View())
}

func (s *Server) handleRunInput(c echo.Context) error {
	runID := c.Param("id")
	requestLogger := s.requestLogger(c, "/runs/:id/input").WithField("runID", runID)

	run, exists := s.runs.Get(runID)
	if !exists {
		requestLogger.Warn("Run not found")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}

	var req InputRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse input body")
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if err := run.Operator.Answer(req.Text); err != nil {
		requestLogger.WithError(err).Warn("Input rejected")
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}

	requestLogger.WithField("approved", req.Text == "").Info("Operator input delivered")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Input delivered",
		"runId":   runID,
	})
}

func (s *Server) handleDeleteRun(c echo.Context) error {
	runID := c.Param("id")
	requestLogger := s.requestLogger(c, "/runs/:id").WithField("runID", runID)

	stopped := s.cancelManager.CancelRun(runID)
	if !s.runs.Delete(runID) {
		requestLogger.Warn("Run not found for deletion")
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Run not found"})
	}

	requestLogger.WithField("stopped", stopped).Info("Run deleted")
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Run deleted successfully",
		"runId":   runID,
		"stopped": stopped,
	})
}

func (s *Server) handleStopExecution(c echo.Context) error {
	requestLogger := s.requestLogger(c, "/stop")
	requestLogger.Info("Received stop execution request")

	var req StopRequest
	if err := c.Bind(&req); err != nil {
		requestLogger.WithError(err).Error("Failed to parse stop request body")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Invalid request format",
		})
	}

	if req.ExecutionID == "" {
		requestLogger.Error("Empty execution ID in stop request")
		return c.JSON(http.StatusBadRequest, StopResponse{
			Success: false,
			Message: "Execution ID is required",
		})
	}

	if s.cancelManager.CancelExecution(req.ExecutionID) {
		requestLogger.WithField("executionID", req.ExecutionID).Info("Execution stopped successfully")
		return c.JSON(http.StatusOK, StopResponse{
			Success: true,
			Message: "Execution stopped successfully",
			Stopped: true,
		})
	}

	requestLogger.WithField("executionID", req.ExecutionID).Warn("Execution not found or already completed")
	return c.JSON(http.StatusNotFound, StopResponse{
		Success: false,
		Message: "Execution not found or already completed",
	})
}

func (s *Server) handleStatus(c echo.Context) error {
	runStats := s.runs.Stats()
	activeExecutions := s.cancelManager.GetActiveExecutions()

	s.requestLogger(c, "/status").WithFields(logrus.Fields{
		"activeExecutions": len(activeExecutions),
		"runs":             runStats["totalRuns"],
	}).Debug("Status check completed")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"provider":         s.config.LLMProvider,
		"model":            s.config.ModelName(),
		"workDir":          s.config.WorkDir,
		"runs":             runStats,
		"activeExecutions": activeExecutions,
		"executionCount":   len(activeExecutions),
	})
}

// RegisterRoutes registers all HTTP routes for the server
func (s *Server) RegisterRoutes(e *echo.Echo) {
	s.logger.Info("Registering routes")

	e.POST("/runs", s.handleCreateRun)
	e.POST("/runs/stream", s.handleStreamRun)
	e.GET("/runs", s.handleListRuns)
	e.GET("/runs/:id", s.handleGetRun)
	e.POST("/runs/:id/input", s.handleRunInput)
	e.DELETE("/runs/:id", s.handleDeleteRun)
	e.POST("/stop", s.handleStopExecution)
	e.GET("/status", s.handleStatus)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	s.logger.Info("Routes registered successfully")
}
