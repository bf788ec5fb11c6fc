package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func dagStep(id string, deps ...string) schema.Step {
	return schema.Step{ID: id, Action: schema.ActionGeneric, DependsOn: deps}
}

func TestDAG_Plan(t *testing.T) {
	wf := &schema.Workflow{Strategy: schema.StrategyParallel, Steps: []schema.Step{dagStep("A"), dagStep("B"), dagStep("C", "A", "B")}}
	r, plan := validateDAG(wf)
	assert.True(t, r.Valid())
	assert.Empty(t, r.Warnings)
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, plan)
}

func TestDAG_Cycle(t *testing.T) {
	wf := &schema.Workflow{Steps: []schema.Step{dagStep("A", "C"), dagStep("B", "A"), dagStep("C", "B")}}
	r, plan := validateDAG(wf)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeScheduling, r.Errors[0].Code)
	assert.Nil(t, plan)
}

func TestDAG_SequentialWidthWarning(t *testing.T) {
	wf := &schema.Workflow{Steps: []schema.Step{dagStep("A"), dagStep("B"), dagStep("C")}}
	r, plan := validateDAG(wf)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "strategy", r.Warnings[0].Path)
	assert.Equal(t, [][]string{{"A"}, {"B"}, {"C"}}, plan)
}

func TestDAG_ShadowWithDependents(t *testing.T) {
	bg := dagStep("bg")
	bg.Shadow = true
	wf := &schema.Workflow{Strategy: schema.StrategyHybrid, Steps: []schema.Step{bg, dagStep("after", "bg")}}
	r, _ := validateDAG(wf)
	assert.True(t, r.Valid())
	assert.Equal(t, []string{"steps[bg].shadow"}, paths(r.Warnings))
}

func TestDAG_ParallelNavigatesWithoutTabID(t *testing.T) {
	nav := func(id, tab string) schema.Step {
		s := schema.Step{ID: id, Action: schema.ActionNavigate, Target: "https://example.com/" + id}
		if tab != "" {
			s.Params = map[string]any{"tab_id": tab}
		}
		return s
	}

	wf := &schema.Workflow{Strategy: schema.StrategyParallel, Steps: []schema.Step{nav("a", ""), nav("b", ""), nav("c", "tab-c")}}
	r, _ := validateDAG(wf)
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "plan[0]", r.Warnings[0].Path)
	assert.Contains(t, r.Warnings[0].Message, "[a b]")

	wf.Steps = []schema.Step{nav("a", "tab-a"), nav("b", "tab-b")}
	r, _ = validateDAG(wf)
	assert.Empty(t, r.Warnings)

	wf.Strategy = schema.StrategySequential
	wf.Steps = []schema.Step{nav("a", ""), nav("b", "")}
	r, _ = validateDAG(wf)
	assert.Equal(t, []string{"strategy"}, paths(r.Warnings))
}
