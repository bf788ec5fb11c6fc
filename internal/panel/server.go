// Package panel serves a read-mostly HTTP view of tabflow: stored workflows,
// executions with their event logs, open browser sessions, cron schedules,
// and a live Server-Sent Events stream of execution progress.
package panel

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/internal/trigger"
	"github.com/rendis/tabflow/pkg/schema"
)

// Subscriber is the live side of an event hub.
type Subscriber interface {
	Subscribe(ctx context.Context, filter streaming.Filter) (<-chan schema.Event, func(), error)
}

// EventSource reads the persisted execution event log.
type EventSource interface {
	Events(ctx context.Context, executionID string, since int64) ([]*store.RecordedEvent, error)
}

// Sessions lists open browser sessions and their tabs.
type Sessions interface {
	Sessions() []string
	ListTabs(sessionID string) ([]browser.TabInfo, error)
}

// Runner starts a stored workflow.
type Runner interface {
	ExecuteByID(ctx context.Context, workflowID, sessionID string) (*schema.ExecutionSummary, error)
}

// Schedules reports cron job state.
type Schedules interface {
	Jobs() []trigger.JobState
}

// Deps holds the panel's collaborators. Routes whose collaborator is nil
// answer 503.
type Deps struct {
	Store     store.Store
	Hub       Subscriber
	Events    EventSource
	Sessions  Sessions
	Runner    Runner
	Schedules Schedules
	Logger    *slog.Logger
}

// Server serves the panel routes.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps, logger: logging.OrDiscard(deps.Logger)}
}

// Handler returns the HTTP handler for the panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/workflows", s.handleWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/stats", s.handleWorkflowStats)
	mux.HandleFunc("GET /api/workflows/{id}/diagram", s.handleWorkflowDiagram)
	mux.HandleFunc("POST /api/workflows/{id}/run", s.handleRunWorkflow)

	mux.HandleFunc("GET /api/executions", s.handleExecutions)
	mux.HandleFunc("GET /api/executions/{id}", s.handleExecution)
	mux.HandleFunc("GET /api/executions/{id}/events", s.handleExecutionEvents)
	mux.HandleFunc("GET /api/executions/{id}/shadow", s.handleShadowTasks)

	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/tabs", s.handleTabs)
	mux.HandleFunc("GET /api/schedules", s.handleSchedules)

	mux.HandleFunc("GET /sse/events", s.handleSSE)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
