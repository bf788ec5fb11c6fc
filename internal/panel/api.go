package panel

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/pkg/schema"
)

const defaultSessionID = "default"

func (s *Server) handleWorkflows(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	workflows, err := s.deps.Store.ListWorkflows(r.Context(), store.WorkflowFilter{
		Status: schema.WorkflowStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	})
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	wf, err := s.deps.Store.LoadWorkflow(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleWorkflowStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	stats, err := s.deps.Store.GetWorkflowStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRunWorkflow executes a stored workflow synchronously and returns its
// summary. A summary that comes back with an error is still returned.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		notConfigured(w, "executor")
		return
	}
	session := r.URL.Query().Get("session_id")
	if session == "" {
		session = defaultSessionID
	}
	id := r.PathValue("id")
	summary, err := s.deps.Runner.ExecuteByID(r.Context(), id, session)
	if summary == nil {
		if err == nil {
			err = schema.NewErrorf(schema.ErrCodeHandler, "workflow %s produced no summary", id)
		}
		writeFlowError(w, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		s.logger.WarnContext(r.Context(), "panel run failed", "workflow_id", id, "error", err)
		status = httpStatus(schema.AsFlowError(err, schema.ErrCodeHandler).Code)
	}
	writeJSON(w, status, summary)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	q := r.URL.Query()
	filter := store.ExecutionFilter{
		WorkflowID: q.Get("workflow_id"),
		SessionID:  q.Get("session_id"),
		Status:     schema.ExecutionStatus(q.Get("status")),
		Limit:      queryInt(r, "limit", 50),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("since must be RFC3339: %q", since))
			return
		}
		filter.Since = &t
	}
	execs, err := s.deps.Store.ListExecutions(r.Context(), filter)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	exec, err := s.deps.Store.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleExecutionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		notConfigured(w, "event log")
		return
	}
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be a sequence number")
			return
		}
		since = n
	}
	events, err := s.deps.Events.Events(r.Context(), r.PathValue("id"), since)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleShadowTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	tasks, err := s.deps.Store.ListShadowTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shadow_tasks": tasks})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Sessions == nil {
		notConfigured(w, "browser")
		return
	}
	type sessionView struct {
		SessionID string            `json:"session_id"`
		Tabs      []browser.TabInfo `json:"tabs"`
	}
	ids := s.deps.Sessions.Sessions()
	out := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		tabs, err := s.deps.Sessions.ListTabs(id)
		if err != nil {
			// Closed between the two calls.
			continue
		}
		out = append(out, sessionView{SessionID: id, Tabs: tabs})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		notConfigured(w, "browser")
		return
	}
	tabs, err := s.deps.Sessions.ListTabs(r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": r.PathValue("id"), "tabs": tabs})
}

func (s *Server) handleSchedules(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Schedules == nil {
		notConfigured(w, "scheduler")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.deps.Schedules.Jobs()})
}
