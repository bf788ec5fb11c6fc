package diagram

import (
	"fmt"

	"github.com/rendis/tabflow/internal/engine"
	"github.com/rendis/tabflow/pkg/schema"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a workflow and optional step results
// keyed by step id. The graph must pass engine.ParseDAG.
func Build(wf *schema.Workflow, results map[string]*schema.StepResult) (*DiagramModel, error) {
	if wf == nil {
		return nil, fmt.Errorf("diagram: workflow is nil")
	}
	dag, err := engine.ParseDAG(wf)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse DAG: %w", err)
	}
	strategy := wf.EffectiveStrategy()
	plan := engine.NewScheduler(dag, strategy).Plan()

	nodes := make([]*Node, 0, len(dag.Order)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for _, id := range dag.Order {
		step := dag.Steps[id]
		node := &Node{
			ID:     step.ID,
			Label:  nodeLabel(step),
			Kind:   actionKind(step.Action),
			Shadow: step.Shadow,
		}
		overlayStatus(node, results[step.ID])
		nodes = append(nodes, node)
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	levels := make([][]string, 0, len(plan)+2)
	levels = append(levels, []string{startID})
	levels = append(levels, plan...)
	levels = append(levels, []string{endID})

	return &DiagramModel{
		Title:    title(wf),
		Strategy: string(strategy),
		Nodes:    nodes,
		Edges:    buildEdges(dag),
		Levels:   levels,
	}, nil
}

func actionKind(a schema.ActionType) NodeKind {
	switch a {
	case schema.ActionNavigate, schema.ActionExtract:
		return NodeKindBrowse
	case schema.ActionSearch:
		return NodeKindSearch
	case schema.ActionAnalyze:
		return NodeKindAnalyze
	case schema.ActionReport:
		return NodeKindReport
	case schema.ActionIntegrate:
		return NodeKindIntegrate
	default:
		return NodeKindGeneric
	}
}

// nodeLabel is "id" on the first line and "(action)" on the second.
func nodeLabel(step *schema.Step) string {
	if step.Action != "" {
		return fmt.Sprintf("%s\n(%s)", step.ID, step.Action)
	}
	return step.ID
}

func overlayStatus(node *Node, res *schema.StepResult) {
	if res == nil {
		return
	}
	overlay := &StatusOverlay{
		Status:     string(res.Status),
		DurationMs: res.DurationMs,
		Attempts:   res.Attempts,
	}
	if res.Error != nil {
		overlay.Error = res.Error.Message
	}
	node.Status = overlay
}

// buildEdges links dependencies to dependents in declaration order, with
// start feeding the roots and every leaf feeding end.
func buildEdges(dag *engine.DAG) []Edge {
	var edges []Edge
	for _, root := range dag.Roots {
		edges = append(edges, Edge{From: startID, To: root})
	}

	hasDependents := make(map[string]bool, len(dag.Order))
	for _, id := range dag.Order {
		for _, dep := range dag.Edges[id] {
			edges = append(edges, Edge{From: dep, To: id})
			hasDependents[dep] = true
		}
	}
	for _, id := range dag.Order {
		if !hasDependents[id] {
			label := ""
			if dag.Steps[id].Shadow {
				label = "shadow"
			}
			edges = append(edges, Edge{From: id, To: endID, Label: label})
		}
	}
	return edges
}

func title(wf *schema.Workflow) string {
	switch {
	case wf.Title != "":
		return wf.Title
	case wf.ID != "":
		return wf.ID
	default:
		return "Workflow"
	}
}
