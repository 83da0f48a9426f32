package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/tools"
)

func testServerConfig() *Config {
	return &Config{
		LLMProvider:         "ollama",
		OllamaModel:         "qwen3",
		MaxIterations:       10,
		MaxRetries:          2,
		RejectRepeats:       true,
		MaxContextSize:      6000,
		ContextUnit:         "chars",
		MaxMemoryItemSize:   2000,
		SummarizerChunkSize: 3000,
		SessionMaxAge:       time.Hour,
		CleanupInterval:     time.Hour,
		MaxConcurrentRuns:   4,
		LogTruncateLength:   200,
		WorkDir:             "/tmp",
	}
}

func newTestServer(t *testing.T, completer Completer, shell tools.Tool, mutate func(*Config)) (*Server, *echo.Echo) {
	t.Helper()
	config := testServerConfig()
	if mutate != nil {
		mutate(config)
	}
	if shell == nil {
		shell = newFakeTool("shell", nil)
	}
	runtime := NewRuntimeFromParts(config, testLogger(), RuntimeParts{
		Completer: completer,
		Executors: map[Command]tools.Tool{CommandShell: shell},
		Metrics:   NewMetrics(),
	})
	server := NewServer(runtime)
	t.Cleanup(server.Close)

	e := echo.New()
	server.RegisterRoutes(e)
	return server, e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func createRun(t *testing.T, e *echo.Echo, body string) RunResponse {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.True(t, strings.HasPrefix(resp.ExecutionID, "exec_"))
	return resp
}

func getRun(t *testing.T, e *echo.Echo, id string) RunView {
	t.Helper()
	rec := doRequest(e, http.MethodGet, "/runs/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view RunView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view
}

func waitForState(t *testing.T, e *echo.Echo, id string, state State) RunView {
	t.Helper()
	var view RunView
	require.Eventually(t, func() bool {
		view = getRun(t, e, id)
		return view.Progress.State == state && view.Result != nil
	}, 5*time.Second, 10*time.Millisecond)
	return view
}

func TestServerCreateRun(t *testing.T) {
	completer := newScriptedCompleter(
		response("List.", CommandShell, "ls"),
		response("Finished.", CommandDone, "two files"),
	)
	_, e := newTestServer(t, completer, nil, nil)

	resp := createRun(t, e, `{"objective":"Count the files","confirm":false}`)
	view := waitForState(t, e, resp.RunID, StateDone)

	assert.Equal(t, "two files", view.Result.Message)
	assert.Len(t, view.Progress.Turns, 2)
	assert.Empty(t, view.Error)

	rec := doRequest(e, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), resp.RunID)
}

func TestServerCreateRunValidation(t *testing.T) {
	_, e := newTestServer(t, newScriptedCompleter("unused"), nil, nil)

	rec := doRequest(e, http.MethodPost, "/runs", `{"objective":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodPost, "/runs", `{"objective":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerConfirmationThroughInput(t *testing.T) {
	shell := newFakeTool("shell", nil)
	completer := newScriptedCompleter(
		response("List.", CommandShell, "ls"),
		response("Finished.", CommandDone, "listed"),
	)
	_, e := newTestServer(t, completer, shell, nil)

	resp := createRun(t, e, `{"objective":"List files","confirm":true}`)

	require.Eventually(t, func() bool {
		view := getRun(t, e, resp.RunID)
		return view.Pending != nil && view.Pending.Kind == "confirm"
	}, 5*time.Second, 10*time.Millisecond)
	view := getRun(t, e, resp.RunID)
	require.NotNil(t, view.Pending.Action)
	assert.Equal(t, "ls", view.Pending.Action.Argument)
	assert.Empty(t, shell.Calls())

	rec := doRequest(e, http.MethodPost, "/runs/"+resp.RunID+"/input", `{"text":""}`)
	require.Equal(t, http.StatusOK, rec.Code)

	waitForState(t, e, resp.RunID, StateDone)
	assert.Equal(t, []string{"ls"}, shell.Calls())
}

func TestServerInputWithoutPendingPrompt(t *testing.T) {
	_, e := newTestServer(t, newScriptedCompleter(response("Finished.", CommandDone, "ok")), nil, nil)
	resp := createRun(t, e, `{"objective":"Nothing"}`)
	waitForState(t, e, resp.RunID, StateDone)

	rec := doRequest(e, http.MethodPost, "/runs/"+resp.RunID+"/input", `{"text":"hello"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(e, http.MethodPost, "/runs/missing/input", `{"text":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStopExecution(t *testing.T) {
	_, e := newTestServer(t, blockingCompleter, nil, nil)
	resp := createRun(t, e, `{"objective":"Wait forever"}`)

	rec := doRequest(e, http.MethodPost, "/stop", `{"executionId":"`+resp.ExecutionID+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var stop StopResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stop))
	assert.True(t, stop.Stopped)

	view := waitForState(t, e, resp.RunID, StateStopped)
	assert.Equal(t, "stopped", view.Result.Reason)

	rec = doRequest(e, http.MethodPost, "/stop", `{"executionId":"`+resp.ExecutionID+`"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodPost, "/stop", `{"executionId":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServerRejectsRunsOverCapacity(t *testing.T) {
	server, e := newTestServer(t, blockingCompleter, nil, func(c *Config) { c.MaxConcurrentRuns = 1 })

	first := createRun(t, e, `{"objective":"Wait"}`)
	rec := doRequest(e, http.MethodPost, "/runs", `{"objective":"Wait too"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.True(t, server.cancelManager.CancelExecution(first.ExecutionID))
	waitForState(t, e, first.RunID, StateStopped)

	require.Eventually(t, func() bool {
		return doRequest(e, http.MethodPost, "/runs", `{"objective":"Wait again"}`).Code == http.StatusAccepted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServerDeleteRun(t *testing.T) {
	_, e := newTestServer(t, newScriptedCompleter(response("Finished.", CommandDone, "ok")), nil, nil)
	resp := createRun(t, e, `{"objective":"Nothing"}`)
	waitForState(t, e, resp.RunID, StateDone)

	rec := doRequest(e, http.MethodDelete, "/runs/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(e, http.MethodGet, "/runs/"+resp.RunID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/runs/"+resp.RunID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStreamRun(t *testing.T) {
	completer := newScriptedCompleter(
		response("List.", CommandShell, "ls"),
		response("Finished.", CommandDone, "two files"),
	)
	_, e := newTestServer(t, completer, nil, nil)

	rec := doRequest(e, http.MethodPost, "/runs/stream", `{"objective":"Count the files","confirm":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var types []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var msg StreamMessage
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
		types = append(types, msg.Type)
		if msg.Type == "response" {
			assert.Equal(t, "two files", msg.Content)
			assert.True(t, msg.Complete)
		}
	}
	require.NotEmpty(t, types)
	assert.Equal(t, "execution_started", types[0])
	assert.Contains(t, types, "observation")
	assert.Equal(t, "response", types[len(types)-1])
}

func TestServerStatusAndMetrics(t *testing.T) {
	_, e := newTestServer(t, newScriptedCompleter(response("Finished.", CommandDone, "ok")), nil, nil)
	resp := createRun(t, e, `{"objective":"Nothing"}`)
	waitForState(t, e, resp.RunID, StateDone)

	rec := doRequest(e, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, "qwen3", status["model"])

	require.Eventually(t, func() bool {
		rec := doRequest(e, http.MethodGet, "/metrics", "")
		return rec.Code == http.StatusOK && strings.Contains(rec.Body.String(), `microagent_runs_total{state="DONE"} 1`)
	}, 5*time.Second, 10*time.Millisecond)
}
