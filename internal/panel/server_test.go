package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/internal/trigger"
	"github.com/rendis/tabflow/pkg/schema"
)

type stubStore struct {
	store.Store
	workflows  map[string]*schema.Workflow
	executions map[string]*schema.Execution
}

func (s *stubStore) LoadWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	if wf, ok := s.workflows[id]; ok {
		return wf, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
}

func (s *stubStore) GetExecution(_ context.Context, id string) (*schema.Execution, error) {
	if e, ok := s.executions[id]; ok {
		return e, nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "execution %q not found", id)
}

func (s *stubStore) ListExecutions(_ context.Context, f store.ExecutionFilter) ([]*schema.Execution, error) {
	var out []*schema.Execution
	for _, e := range s.executions {
		if f.WorkflowID == "" || f.WorkflowID == e.WorkflowID {
			out = append(out, e)
		}
	}
	return out, nil
}

type stubSessions map[string][]browser.TabInfo

func (s stubSessions) Sessions() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

func (s stubSessions) ListTabs(id string) ([]browser.TabInfo, error) {
	tabs, ok := s[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "session %s not found", id)
	}
	return tabs, nil
}

type runnerFunc func(ctx context.Context, id, session string) (*schema.ExecutionSummary, error)

func (f runnerFunc) ExecuteByID(ctx context.Context, id, session string) (*schema.ExecutionSummary, error) {
	return f(ctx, id, session)
}

type stubSchedules []trigger.JobState

func (s stubSchedules) Jobs() []trigger.JobState { return s }

func serve(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewServer(deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := serve(t, Deps{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMissingCollaboratorsAnswer503(t *testing.T) {
	srv := serve(t, Deps{})
	for _, path := range []string{"/api/workflows", "/api/executions/x", "/api/executions/x/events", "/api/sessions", "/api/schedules", "/sse/events"} {
		assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+path, nil), path)
	}
}

func TestExecutions(t *testing.T) {
	st := &stubStore{executions: map[string]*schema.Execution{
		"e1": {ID: "e1", WorkflowID: "wf", Status: schema.ExecutionStatusCompleted},
		"e2": {ID: "e2", WorkflowID: "other", Status: schema.ExecutionStatusFailed},
	}}
	srv := serve(t, Deps{Store: st})

	var list struct {
		Executions []*schema.Execution `json:"executions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/executions?workflow_id=wf", &list))
	require.Len(t, list.Executions, 1)
	assert.Equal(t, "e1", list.Executions[0].ID)

	var exec schema.Execution
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/executions/e2", &exec))
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/executions/nope", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/executions?since=yesterday", nil))
}

func TestSessionsAndTabs(t *testing.T) {
	srv := serve(t, Deps{Sessions: stubSessions{
		"shop": {{ID: "t1", SessionID: "shop", URL: "https://example.com", Active: true}},
	}})

	var sessions struct {
		Sessions []struct {
			SessionID string            `json:"session_id"`
			Tabs      []browser.TabInfo `json:"tabs"`
		} `json:"sessions"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/sessions", &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, "t1", sessions.Sessions[0].Tabs[0].ID)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/sessions/shop/tabs", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/sessions/gone/tabs", nil))
}

func TestRunWorkflow(t *testing.T) {
	var gotSession string
	srv := serve(t, Deps{Runner: runnerFunc(func(_ context.Context, id, session string) (*schema.ExecutionSummary, error) {
		gotSession = session
		switch id {
		case "ok":
			return &schema.ExecutionSummary{ExecutionID: "e1", WorkflowID: id, Status: schema.ExecutionStatusCompleted}, nil
		case "cyclic":
			return &schema.ExecutionSummary{ExecutionID: "e2", WorkflowID: id, Status: schema.ExecutionStatusFailed},
				schema.NewError(schema.ErrCodeScheduling, "cycle")
		default:
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
		}
	})})

	post := func(path string) (int, schema.ExecutionSummary) {
		resp, err := http.Post(srv.URL+path, "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		var summary schema.ExecutionSummary
		_ = json.NewDecoder(resp.Body).Decode(&summary)
		return resp.StatusCode, summary
	}

	status, summary := post("/api/workflows/ok/run")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "e1", summary.ExecutionID)
	assert.Equal(t, "default", gotSession)

	status, summary = post("/api/workflows/cyclic/run?session_id=s1")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, schema.ExecutionStatusFailed, summary.Status)
	assert.Equal(t, "s1", gotSession)

	status, _ = post("/api/workflows/missing/run")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestSchedules(t *testing.T) {
	srv := serve(t, Deps{Schedules: stubSchedules{{Job: trigger.Job{ID: "nightly", Cron: "@daily", WorkflowID: "wf"}}}})
	var body struct {
		Schedules []trigger.JobState `json:"schedules"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/schedules", &body))
	require.Len(t, body.Schedules, 1)
	assert.Equal(t, "nightly", body.Schedules[0].ID)
}

func TestSSEStreamsFilteredEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	srv := serve(t, Deps{Hub: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/sse/events?session_id=shop&type=step_completed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Headers are flushed after the subscription exists.
	require.NoError(t, hub.Publish(ctx, "other", schema.Event{Type: schema.EventStepCompleted, ExecutionID: "e0"}))
	require.NoError(t, hub.Publish(ctx, "shop", schema.Event{Type: schema.EventProgress, ExecutionID: "e1"}))
	require.NoError(t, hub.Publish(ctx, "shop", schema.Event{Type: schema.EventStepCompleted, ExecutionID: "e1", StepID: "a"}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: step_completed\n", line)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))

	var event schema.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event))
	assert.Equal(t, "e1", event.ExecutionID)
	assert.Equal(t, "a", event.StepID)
	assert.Equal(t, "shop", event.SessionID)
}

func TestWorkflowDiagram(t *testing.T) {
	st := &stubStore{
		workflows: map[string]*schema.Workflow{"wf": {ID: "wf", Strategy: schema.StrategyParallel, Steps: []schema.Step{
			{ID: "open", Action: schema.ActionNavigate, Target: "https://example.com"},
			{ID: "read", Action: schema.ActionExtract, Target: "h1", DependsOn: []string{"open"}},
		}}},
		executions: map[string]*schema.Execution{
			"e1": {ID: "e1", WorkflowID: "wf", Results: map[string]*schema.StepResult{
				"open": {StepID: "open", Status: schema.StepStatusCompleted},
			}},
			"e2": {ID: "e2", WorkflowID: "other"},
		},
	}
	srv := serve(t, Deps{Store: st})

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		var b strings.Builder
		_, _ = bufio.NewReader(resp.Body).WriteTo(&b)
		return resp.StatusCode, b.String()
	}

	status, body := get("/api/workflows/wf/diagram?execution_id=e1")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "open --> read")
	assert.Contains(t, body, "class open completed")

	status, body = get("/api/workflows/wf/diagram?format=ascii")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "=== wf (parallel) ===")

	status, _ = get("/api/workflows/wf/diagram?execution_id=e2")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = get("/api/workflows/missing/diagram")
	assert.Equal(t, http.StatusNotFound, status)
}
