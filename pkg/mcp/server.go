package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/internal/store"
	"github.com/rendis/tabflow/pkg/schema"
)

// Executor runs workflows. Satisfied by *engine.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, wf *schema.Workflow, sessionID string) (*schema.ExecutionSummary, error)
	ExecuteByID(ctx context.Context, workflowID, sessionID string) (*schema.ExecutionSummary, error)
}

// Browser is the session manager surface exposed as tools.
// Satisfied by *browser.Manager.
type Browser interface {
	Open(ctx context.Context, sessionID, tabID, url string) (*browser.NavigationResult, error)
	Navigate(ctx context.Context, tabID, url string) (*browser.NavigationResult, error)
	Act(ctx context.Context, tabID string, action browser.Action) (*browser.ActionResult, error)
	ListTabs(sessionID string) ([]browser.TabInfo, error)
	CloseSession(ctx context.Context, sessionID string) error
}

// Validator checks a workflow before it is stored or run.
type Validator interface {
	ValidateWorkflow(wf *schema.Workflow) error
}

// ServerDeps holds the dependencies of a Server. Store and Validator may
// be nil; the tools that need them then report an error.
type ServerDeps struct {
	Executor  Executor
	Browser   Browser
	Store     store.Store
	Validator Validator
	Logger    *slog.Logger
}

// Server exposes workflow execution and browser control as MCP tools.
type Server struct {
	executor  Executor
	browser   Browser
	store     store.Store
	validator Validator
	sessions  *SessionRegistry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		executor:  deps.Executor,
		browser:   deps.Browser,
		store:     deps.Store,
		validator: deps.Validator,
		sessions:  NewSessionRegistry(),
		logger:    logging.OrDiscard(deps.Logger),
	}

	mcpSrv := server.NewMCPServer(
		"tabflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("tabflow runs multi-step browser workflows in isolated sessions. Use tabflow.execute to run a workflow, tabflow.get_tabs, tabflow.navigate and tabflow.act to drive tabs directly, and tabflow.status or tabflow.query to inspect past executions."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	return server.NewStdioServer(s.mcpServer).Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying server for custom transports.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// Notifier returns a notifier that forwards execution events to the MCP
// client that last used each browser session.
func (s *Server) Notifier() *Notifier {
	return NewNotifier(s.mcpServer, s.sessions)
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: getTabsTool(), Handler: s.handleGetTabs},
		{Tool: navigateTool(), Handler: s.handleNavigate},
		{Tool: actTool(), Handler: s.handleAct},
		{Tool: closeSessionTool(), Handler: s.handleCloseSession},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

func executeTool() mcp.Tool {
	return mcp.NewTool("tabflow.execute",
		mcp.WithDescription("Execute a workflow inline or by stored id and return its execution summary"),
		mcp.WithObject("workflow", mcp.Description("Workflow definition: {id, title, strategy, steps:[{id, action, target, params, depends_on, shadow, on_error, retry, timeout}]}")),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow (instead of an inline workflow)")),
		mcp.WithString("session_id", mcp.Description("Browser session to run in (default: \"default\")")),
	)
}

func getTabsTool() mcp.Tool {
	return mcp.NewTool("tabflow.get_tabs",
		mcp.WithDescription("List the tabs of a browser session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Browser session id")),
	)
}

func navigateTool() mcp.Tool {
	return mcp.NewTool("tabflow.navigate",
		mcp.WithDescription("Load a URL in a tab, creating the tab when needed"),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL")),
		mcp.WithString("session_id", mcp.Description("Browser session; required unless tab_id names an open tab")),
		mcp.WithString("tab_id", mcp.Description("Tab to reuse or the id for a new tab")),
	)
}

func actTool() mcp.Tool {
	return mcp.NewTool("tabflow.act",
		mcp.WithDescription("Perform an in-page action on a tab"),
		mcp.WithString("tab_id", mcp.Required(), mcp.Description("Target tab")),
		mcp.WithString("kind", mcp.Required(),
			mcp.Enum(string(browser.ActClick), string(browser.ActType), string(browser.ActScroll),
				string(browser.ActWait), string(browser.ActExtract), string(browser.ActScreenshot)),
			mcp.Description("Action kind"),
		),
		mcp.WithString("selector", mcp.Description("CSS selector (click, type, extract)")),
		mcp.WithString("text", mcp.Description("Text to type")),
		mcp.WithNumber("x", mcp.Description("Click x coordinate")),
		mcp.WithNumber("y", mcp.Description("Click y coordinate")),
		mcp.WithNumber("dx", mcp.Description("Horizontal scroll delta")),
		mcp.WithNumber("dy", mcp.Description("Vertical scroll delta")),
		mcp.WithString("duration", mcp.Description("Wait duration, e.g. 500ms")),
	)
}

func closeSessionTool() mcp.Tool {
	return mcp.NewTool("tabflow.close_session",
		mcp.WithDescription("Close a browser session and all of its tabs"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Browser session id")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("tabflow.define",
		mcp.WithDescription("Validate and store a workflow for later execution"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow definition; id is required")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("tabflow.status",
		mcp.WithDescription("Get a stored execution with its step results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution id")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("tabflow.query",
		mcp.WithDescription("Query stored workflows, executions, shadow tasks or workflow stats"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions", "shadow_tasks", "stats"),
			mcp.Description("Resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter (status, workflow_id, session_id, execution_id, since, limit, offset)")),
	)
}
