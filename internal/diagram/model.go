// Package diagram renders a workflow's dependency graph and scheduler groups
// as Mermaid or box-drawn text, optionally overlaid with step results.
package diagram

// NodeKind classifies a diagram node by its step action.
type NodeKind string

const (
	NodeKindBrowse    NodeKind = "browse"    // navigate, extract
	NodeKindSearch    NodeKind = "search"
	NodeKindAnalyze   NodeKind = "analyze"
	NodeKindReport    NodeKind = "report"
	NodeKindIntegrate NodeKind = "integrate"
	NodeKindGeneric   NodeKind = "generic"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
// Levels are the scheduler groups for the workflow's strategy, wrapped in
// virtual start and end levels.
type DiagramModel struct {
	Title    string
	Strategy string
	Nodes    []*Node
	Edges    []Edge
	Levels   [][]string
}

// Node represents a single step in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Shadow bool
	Status *StatusOverlay
}

// StatusOverlay carries the recorded outcome of a step.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Attempts   int
	Error      string
}

// Edge represents a dependency between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
