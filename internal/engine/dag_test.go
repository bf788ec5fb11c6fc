package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func step(id string, deps ...string) schema.Step {
	return schema.Step{ID: id, Action: schema.ActionGeneric, DependsOn: deps}
}

func workflow(strategy schema.Strategy, steps ...schema.Step) *schema.Workflow {
	return &schema.Workflow{ID: "wf", Strategy: strategy, Steps: steps}
}

func TestParseDAGOrderAndLevels(t *testing.T) {
	dag, err := ParseDAG(workflow("", step("fetch"), step("search"), step("merge", "fetch", "search"), step("report", "merge")))
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch", "search", "merge", "report"}, dag.Order)
	assert.Equal(t, []string{"fetch", "search"}, dag.Roots)
	assert.Equal(t, [][]string{{"fetch", "search"}, {"merge"}, {"report"}}, dag.Levels)
	assert.Equal(t, []string{"fetch", "search", "merge", "report"}, dag.Sorted)
	assert.Equal(t, []string{"merge", "report"}, dag.Dependents("fetch"))
}

func TestParseDAGTopologicalProperty(t *testing.T) {
	wf := workflow("",
		step("e", "d", "b"), step("a"), step("d", "a", "c"), step("b", "a"), step("c"),
	)
	dag, err := ParseDAG(wf)
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range dag.Sorted {
		pos[id] = i
	}
	for id, deps := range dag.Edges {
		for _, dep := range deps {
			assert.Less(t, pos[dep], pos[id], "%s must sort before %s", dep, id)
		}
	}
}

func TestParseDAGDoesNotMutateWorkflow(t *testing.T) {
	wf := workflow("", step("a"), step("b", "a", "a"))
	dag, err := ParseDAG(wf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, dag.Edges["b"])
	assert.Equal(t, []string{"a", "a"}, wf.Steps[1].DependsOn)

	dag.Steps["a"].Target = "changed"
	assert.Empty(t, wf.Steps[0].Target)
}

func TestParseDAGErrors(t *testing.T) {
	tests := []struct {
		name string
		wf   *schema.Workflow
		code string
	}{
		{"nil", nil, schema.ErrCodeValidation},
		{"no steps", workflow(""), schema.ErrCodeValidation},
		{"empty id", workflow("", step("")), schema.ErrCodeValidation},
		{"duplicate", workflow("", step("a"), step("a")), schema.ErrCodeValidation},
		{"self", workflow("", step("a", "a")), schema.ErrCodeScheduling},
		{"dangling", workflow("", step("a", "ghost")), schema.ErrCodeScheduling},
		{"cycle", workflow("", step("a", "c"), step("b", "a"), step("c", "b")), schema.ErrCodeScheduling},
		{"cycle behind root", workflow("", step("root"), step("x", "root", "y"), step("y", "x")), schema.ErrCodeScheduling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag, err := ParseDAG(tt.wf)
			assert.Nil(t, dag)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tt.code), "got %v", err)
		})
	}
}

func TestParseDAGCycleDetails(t *testing.T) {
	_, err := ParseDAG(workflow("", step("root"), step("x", "root", "y"), step("y", "x")))
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "cycle", fe.Details["reason"])
	assert.Equal(t, []string{"x", "y"}, fe.Details["steps"])
}
