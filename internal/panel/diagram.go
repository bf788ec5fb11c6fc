package panel

import (
	"net/http"

	"github.com/rendis/tabflow/internal/diagram"
	"github.com/rendis/tabflow/pkg/schema"
)

// handleWorkflowDiagram renders a stored workflow as Mermaid (default) or
// ASCII. With execution_id the step results of that run are overlaid.
func (s *Server) handleWorkflowDiagram(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		notConfigured(w, "store")
		return
	}
	ctx := r.Context()
	wf, err := s.deps.Store.LoadWorkflow(ctx, r.PathValue("id"))
	if err != nil {
		writeFlowError(w, err)
		return
	}

	var results map[string]*schema.StepResult
	if execID := r.URL.Query().Get("execution_id"); execID != "" {
		exec, err := s.deps.Store.GetExecution(ctx, execID)
		if err != nil {
			writeFlowError(w, err)
			return
		}
		if exec.WorkflowID != wf.ID {
			writeError(w, http.StatusBadRequest, "execution "+execID+" belongs to workflow "+exec.WorkflowID)
			return
		}
		results = exec.Results
	}

	model, err := diagram.Build(wf, results)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	switch r.URL.Query().Get("format") {
	case "", "mermaid":
		_, _ = w.Write([]byte(diagram.RenderMermaid(model)))
	case "ascii":
		_, _ = w.Write([]byte(diagram.RenderASCII(model)))
	default:
		writeError(w, http.StatusBadRequest, "format must be mermaid or ascii")
	}
}
