package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/engine"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/pkg/schema"
)

func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", engine.DefaultSessionID)
	workflowID := req.GetString("workflow_id", "")
	raw, hasInline := req.GetArguments()["workflow"]
	if workflowID == "" && !hasInline {
		return mcp.NewToolResultError("one of workflow or workflow_id is required"), nil
	}
	if s.executor == nil {
		return mcp.NewToolResultError("no executor configured"), nil
	}
	s.captureSession(ctx, sessionID)

	var (
		summary *schema.ExecutionSummary
		err     error
	)
	if workflowID != "" {
		summary, err = s.executor.ExecuteByID(ctx, workflowID, sessionID)
	} else {
		wf, derr := decodeWorkflow(raw)
		if derr != nil {
			return mcp.NewToolResultError(derr.Error()), nil
		}
		if s.validator != nil {
			if verr := s.validator.ValidateWorkflow(wf); verr != nil {
				return errorResult("workflow is invalid", verr)
			}
		}
		summary, err = s.executor.Execute(ctx, wf, sessionID)
	}

	if summary == nil {
		return errorResult("execution failed", err)
	}
	res, merr := marshalResult(summary)
	if merr == nil && err != nil {
		res.IsError = true
	}
	return res, merr
}

func (s *Server) handleGetTabs(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if s.browser == nil {
		return mcp.NewToolResultError("no browser configured"), nil
	}
	s.captureSession(ctx, sessionID)

	tabs, lerr := s.browser.ListTabs(sessionID)
	if lerr != nil {
		return errorResult("list tabs failed", lerr)
	}
	return marshalResult(map[string]any{"session_id": sessionID, "tabs": tabs})
}

func (s *Server) handleNavigate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError("url is required"), nil
	}
	if s.browser == nil {
		return mcp.NewToolResultError("no browser configured"), nil
	}
	sessionID := req.GetString("session_id", "")
	tabID := req.GetString("tab_id", "")

	var res *browser.NavigationResult
	switch {
	case sessionID != "":
		s.captureSession(ctx, sessionID)
		res, err = s.browser.Open(ctx, sessionID, tabID, url)
	case tabID != "":
		res, err = s.browser.Navigate(ctx, tabID, url)
	default:
		return mcp.NewToolResultError("session_id or tab_id is required"), nil
	}
	if err != nil {
		return errorResult("navigate failed", err)
	}
	out, merr := marshalResult(res)
	if merr == nil && !res.OK {
		out.IsError = true
	}
	return out, merr
}

func (s *Server) handleAct(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tabID, err := req.RequireString("tab_id")
	if err != nil {
		return mcp.NewToolResultError("tab_id is required"), nil
	}
	kind, err := req.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError("kind is required"), nil
	}
	if s.browser == nil {
		return mcp.NewToolResultError("no browser configured"), nil
	}

	action := browser.Action{
		Kind:     browser.ActionKind(kind),
		Selector: req.GetString("selector", ""),
		Text:     req.GetString("text", ""),
		X:        req.GetFloat("x", 0),
		Y:        req.GetFloat("y", 0),
		DX:       req.GetFloat("dx", 0),
		DY:       req.GetFloat("dy", 0),
	}
	if d := req.GetString("duration", ""); d != "" {
		dur, perr := time.ParseDuration(d)
		if perr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid duration %q", d)), nil
		}
		action.Duration = dur
	}

	res, aerr := s.browser.Act(ctx, tabID, action)
	if aerr != nil {
		return errorResult("act failed", aerr)
	}
	out, merr := marshalResult(res)
	if merr == nil && !res.OK {
		out.IsError = true
	}
	return out, merr
}

func (s *Server) handleCloseSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	if s.browser == nil {
		return mcp.NewToolResultError("no browser configured"), nil
	}
	if cerr := s.browser.CloseSession(ctx, sessionID); cerr != nil {
		return errorResult("close session failed", cerr)
	}
	s.sessions.Forget(sessionID)
	return marshalResult(map[string]any{"ok": true, "session_id": sessionID})
}

func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["workflow"]
	if !ok {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	wf, err := decodeWorkflow(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if wf.ID == "" {
		return mcp.NewToolResultError("workflow.id is required"), nil
	}
	if s.validator != nil {
		if verr := s.validator.ValidateWorkflow(wf); verr != nil {
			return errorResult("workflow is invalid", verr)
		}
	}
	if wf.Status == "" {
		wf.Status = schema.WorkflowStatusReady
	}
	if serr := s.store.SaveWorkflow(ctx, wf); serr != nil {
		return errorResult("store workflow failed", serr)
	}
	return marshalResult(map[string]any{"workflow_id": wf.ID, "status": wf.Status, "steps": len(wf.Steps)})
}

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	execID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	exec, gerr := s.store.GetExecution(ctx, execID)
	if gerr != nil {
		return errorResult("status query failed", gerr)
	}
	return marshalResult(exec)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("no store configured"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		return s.queryWorkflows(ctx, filter)
	case "executions":
		return s.queryExecutions(ctx, filter)
	case "shadow_tasks":
		execID := extractString(filter, "execution_id")
		if execID == "" {
			return mcp.NewToolResultError("shadow_tasks query requires filter.execution_id"), nil
		}
		tasks, qerr := s.store.ListShadowTasks(ctx, execID)
		if qerr != nil {
			return errorResult("query failed", qerr)
		}
		return marshalResult(map[string]any{"shadow_tasks": tasks})
	case "stats":
		wfID := extractString(filter, "workflow_id")
		if wfID == "" {
			return mcp.NewToolResultError("stats query requires filter.workflow_id"), nil
		}
		stats, qerr := s.store.GetWorkflowStats(ctx, wfID)
		if qerr != nil {
			return errorResult("query failed", qerr)
		}
		return marshalResult(stats)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

func (s *Server) queryWorkflows(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	wf := store.WorkflowFilter{
		Status: schema.WorkflowStatus(extractString(filter, "status")),
		Limit:  extractInt(filter, "limit", 50),
		Offset: extractInt(filter, "offset", 0),
	}
	workflows, err := s.store.ListWorkflows(ctx, wf)
	if err != nil {
		return errorResult("query failed", err)
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *Server) queryExecutions(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.ExecutionFilter{
		WorkflowID: extractString(filter, "workflow_id"),
		SessionID:  extractString(filter, "session_id"),
		Status:     schema.ExecutionStatus(extractString(filter, "status")),
		Limit:      extractInt(filter, "limit", 50),
	}
	if since := extractString(filter, "since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be RFC3339: %q", since)), nil
		}
		ef.Since = &t
	}
	execs, err := s.store.ListExecutions(ctx, ef)
	if err != nil {
		return errorResult("query failed", err)
	}
	return marshalResult(map[string]any{"executions": execs})
}

// captureSession remembers which MCP client drives a browser session so
// execution events can be pushed back to it.
func (s *Server) captureSession(ctx context.Context, sessionID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Register(sessionID, session.SessionID())
	}
}

func decodeWorkflow(raw any) (*schema.Workflow, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("workflow is not valid JSON: %w", err)
	}
	var wf schema.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("workflow does not match the workflow shape: %w", err)
	}
	return &wf, nil
}

// errorResult reports err to the client, keeping a FlowError's code and
// details readable.
func errorResult(prefix string, err error) (*mcp.CallToolResult, error) {
	if err == nil {
		return mcp.NewToolResultError(prefix), nil
	}
	fe := schema.AsFlowError(err, schema.ErrCodeHandler)
	data, merr := json.Marshal(map[string]any{"error": fe})
	if merr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err)), nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %s", prefix, data)), nil
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

func extractString(filter map[string]any, key string) string {
	s, _ := filter[key].(string)
	return s
}

func extractInt(filter map[string]any, key string, defaultVal int) int {
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
