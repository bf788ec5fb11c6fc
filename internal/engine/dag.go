package engine

import (
	"slices"

	"github.com/rendis/tabflow/pkg/schema"
)

// DAG is the validated dependency graph of a workflow.
type DAG struct {
	Steps   map[string]*schema.Step // step ID → step (copied from the workflow)
	Order   []string                // declaration order
	Edges   map[string][]string     // step ID → dependencies
	Reverse map[string][]string     // step ID → dependents
	Sorted  []string                // topological order
	Roots   []string                // steps with no dependencies
	Levels  [][]string              // static parallel levels
}

// ParseDAG validates a workflow's step graph. Empty or duplicate step ids
// are ValidationErrors; dangling, self and cyclic dependencies are
// SchedulingErrors. The workflow itself is not modified.
func ParseDAG(wf *schema.Workflow) (*DAG, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if len(wf.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	steps := slices.Clone(wf.Steps)
	dag := &DAG{
		Steps:   make(map[string]*schema.Step, len(steps)),
		Order:   make([]string, 0, len(steps)),
		Edges:   make(map[string][]string, len(steps)),
		Reverse: make(map[string][]string, len(steps)),
	}

	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty id", i)
		}
		if _, dup := dag.Steps[step.ID]; dup {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step id: %s", step.ID).WithStep(step.ID)
		}
		dag.Steps[step.ID] = step
		dag.Order = append(dag.Order, step.ID)
	}

	for _, id := range dag.Order {
		step := dag.Steps[id]
		deps := make([]string, 0, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if dep == id {
				return nil, schedulingError("step %s depends on itself", id).WithStep(id).
					WithDetails(map[string]any{"reason": "self_dependency"})
			}
			if _, ok := dag.Steps[dep]; !ok {
				return nil, schedulingError("step %s depends on unknown step %s", id, dep).WithStep(id).
					WithDetails(map[string]any{"reason": "missing_dependency", "dependency": dep})
			}
			// Dependencies are a set.
			if slices.Contains(deps, dep) {
				continue
			}
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
		dag.Edges[id] = deps
	}

	// Kahn's algorithm, visiting in declaration order for stable output.
	inDegree := make(map[string]int, len(dag.Steps))
	var queue []string
	for _, id := range dag.Order {
		inDegree[id] = len(dag.Edges[id])
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	dag.Roots = slices.Clone(queue)

	sorted := make([]string, 0, len(dag.Steps))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)
		for _, dependent := range dag.Reverse[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(dag.Steps) {
		var stuck []string
		for _, id := range dag.Order {
			if inDegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, schedulingError("workflow contains a dependency cycle among %v", stuck).
			WithDetails(map[string]any{"reason": "cycle", "steps": stuck})
	}

	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)
	return dag, nil
}

func schedulingError(format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeScheduling, format, args...)
}

// computeLevels groups steps by longest dependency depth. Within a level,
// steps keep declaration order.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Steps))
	maxLevel := 0
	for _, id := range dag.Sorted {
		d := 0
		for _, dep := range dag.Edges[id] {
			d = max(d, depth[dep]+1)
		}
		depth[id] = d
		maxLevel = max(maxLevel, d)
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Order {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

// Dependents returns every step that transitively depends on id.
func (d *DAG) Dependents(id string) []string {
	seen := map[string]bool{}
	stack := slices.Clone(d.Reverse[id])
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, d.Reverse[n]...)
	}
	var out []string
	for _, sid := range d.Order {
		if seen[sid] {
			out = append(out, sid)
		}
	}
	return out
}
