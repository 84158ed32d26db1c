package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/taskmesh/core"
	"github.com/taskmesh/taskmesh/engine"
	"github.com/taskmesh/taskmesh/graph"
	"github.com/taskmesh/taskmesh/model"
)

// closeNotifyRecorder adds the http.CloseNotifier method gin's Stream
// requires, which httptest.ResponseRecorder does not implement.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func newCloseNotifyRecorder() *closeNotifyRecorder {
	return &closeNotifyRecorder{httptest.NewRecorder(), make(chan bool, 1)}
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func newTestServer(t *testing.T, turns ...model.Turn) *Server {
	t.Helper()

	store := graph.NewInMemoryStore()
	store.Put(&graph.ProjectDefinition{
		ID:         "demo",
		EntryAgent: "triage",
		Agents: []graph.AgentDefinition{
			{ID: "triage", Name: "Triage", Instruction: "Route requests.", TransferTarget: "billing"},
			{ID: "billing", Name: "Billing", Instruction: "Handle billing."},
		},
	})

	reg := prometheus.NewRegistry()
	e := engine.New("demo", graph.NewResolver(store), model.NewScriptedModel(turns...),
		func(o *engine.Options) {
			o.Registerer = reg
			o.RetryBackoff = time.Millisecond
		})
	t.Cleanup(e.Shutdown)

	return New(e, func(o *Options) {
		o.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	})
}

func TestSubmitStreamsEvents(t *testing.T) {
	s := newTestServer(t, model.Turn{Tokens: []string{"Hello"}})

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks",
		strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	w := newCloseNotifyRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")
	assert.True(t, strings.HasPrefix(w.Header().Get(StreamIDHeader), "task_"))

	body := w.Body.String()
	assert.Contains(t, body, "event:token")
	assert.Contains(t, body, "event:final")
	assert.Contains(t, body, "Hello")
}

func TestSubmitEmptyMessage(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks",
		strings.NewReader(`{"message":""}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(core.CodeEmptyMessage))
}

func TestContinueUnknownStream(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/streams/task_elsewhere-chatcmpl-1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(core.CodeStreamNotFound),
		"foreign continuations must get the well-defined not-found-here code")
}

func TestCancelUnknownTask(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/v1/tasks/task_nope-chatcmpl-1", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskAfterCompletion(t *testing.T) {
	s := newTestServer(t, model.Turn{Tokens: []string{"done"}})

	submit := httptest.NewRequest(http.MethodPost, "/v1/tasks",
		strings.NewReader(`{"task_id":"task_conv-x-chatcmpl-9","message":"hi"}`))
	submit.Header.Set("Content-Type", "application/json")
	w := newCloseNotifyRecorder()
	s.Handler().ServeHTTP(w, submit)
	require.Equal(t, http.StatusOK, w.Code)

	get := httptest.NewRequest(http.MethodGet, "/v1/tasks/task_conv-x-chatcmpl-9", nil)
	w = newCloseNotifyRecorder()
	s.Handler().ServeHTTP(w, get)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"completed"`)
	assert.Contains(t, w.Body.String(), `"conversation_id":"conv-x"`)
}

func TestListAgents(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"billing"`)
	assert.Contains(t, w.Body.String(), `"transfer_target":"billing"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, model.Turn{Tokens: []string{"ok"}})

	submit := httptest.NewRequest(http.MethodPost, "/v1/tasks",
		strings.NewReader(`{"message":"hi"}`))
	submit.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(newCloseNotifyRecorder(), submit)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskmesh_tasks_started_total")
}
