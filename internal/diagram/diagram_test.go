package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func fanInWorkflow(strategy schema.Strategy) *schema.Workflow {
	return &schema.Workflow{
		ID:       "compare",
		Title:    "Price compare",
		Strategy: strategy,
		Steps: []schema.Step{
			{ID: "shop-a", Action: schema.ActionNavigate, Target: "https://a.example.com"},
			{ID: "shop-b", Action: schema.ActionNavigate, Target: "https://b.example.com"},
			{ID: "cheapest", Action: schema.ActionAnalyze, DependsOn: []string{"shop-a", "shop-b"}},
			{ID: "archive", Action: schema.ActionIntegrate, DependsOn: []string{"shop-a"}, Shadow: true},
		},
	}
}

func TestBuild(t *testing.T) {
	model, err := Build(fanInWorkflow(schema.StrategyParallel), nil)
	require.NoError(t, err)

	assert.Equal(t, "Price compare", model.Title)
	assert.Equal(t, "parallel", model.Strategy)
	require.Len(t, model.Nodes, 6)
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, NodeKindEnd, model.Nodes[5].Kind)
	assert.Equal(t, NodeKindBrowse, model.Nodes[1].Kind)
	assert.Equal(t, NodeKindAnalyze, model.Nodes[3].Kind)
	assert.True(t, model.Nodes[4].Shadow)

	assert.Equal(t, [][]string{
		{"__start__"},
		{"shop-a", "shop-b"},
		{"cheapest", "archive"},
		{"__end__"},
	}, model.Levels)

	assert.Equal(t, []Edge{
		{From: "__start__", To: "shop-a"},
		{From: "__start__", To: "shop-b"},
		{From: "shop-a", To: "cheapest"},
		{From: "shop-b", To: "cheapest"},
		{From: "shop-a", To: "archive"},
		{From: "cheapest", To: "__end__"},
		{From: "archive", To: "__end__", Label: "shadow"},
	}, model.Edges)
}

func TestBuildSequentialLevels(t *testing.T) {
	model, err := Build(fanInWorkflow(""), nil)
	require.NoError(t, err)
	assert.Equal(t, "sequential", model.Strategy)
	assert.Len(t, model.Levels, 6)
	for _, level := range model.Levels {
		assert.Len(t, level, 1)
	}
}

func TestBuildOverlaysResults(t *testing.T) {
	model, err := Build(fanInWorkflow(schema.StrategyHybrid), map[string]*schema.StepResult{
		"shop-a": {StepID: "shop-a", Status: schema.StepStatusCompleted, DurationMs: 120},
		"shop-b": {StepID: "shop-b", Status: schema.StepStatusFailed, Attempts: 3,
			Error: schema.NewError(schema.ErrCodeNavigation, "timeout")},
	})
	require.NoError(t, err)

	require.NotNil(t, model.Nodes[1].Status)
	assert.Equal(t, "completed", model.Nodes[1].Status.Status)
	assert.Equal(t, "timeout", model.Nodes[2].Status.Error)
	assert.Nil(t, model.Nodes[3].Status)
}

func TestBuildRejectsInvalidGraph(t *testing.T) {
	_, err := Build(nil, nil)
	assert.Error(t, err)

	_, err = Build(&schema.Workflow{ID: "loop", Steps: []schema.Step{
		{ID: "a", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
	}}, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeScheduling))
}

func TestRenderMermaid(t *testing.T) {
	model, err := Build(fanInWorkflow(schema.StrategyParallel), map[string]*schema.StepResult{
		"cheapest": {Status: schema.StepStatusCompleted},
	})
	require.NoError(t, err)

	out := RenderMermaid(model)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% Price compare (parallel)")
	assert.Contains(t, out, `shop_a["shop-a (navigate)"]`)
	assert.Contains(t, out, `cheapest{{"cheapest (analyze)"}}`)
	assert.Contains(t, out, `archive[["archive (integrate)"]]`)
	assert.Contains(t, out, "shop_a --> cheapest")
	assert.Contains(t, out, "archive -.->|shadow| __end__")
	assert.Contains(t, out, "class archive shadow")
	assert.Contains(t, out, "class cheapest completed")
}

func TestRenderASCII(t *testing.T) {
	model, err := Build(fanInWorkflow(schema.StrategyParallel), map[string]*schema.StepResult{
		"shop-a": {Status: schema.StepStatusCompleted, DurationMs: 42},
		"shop-b": {Status: schema.StepStatusFailed, Attempts: 2},
	})
	require.NoError(t, err)

	out := RenderASCII(model)
	assert.Contains(t, out, "=== Price compare (parallel) ===")
	assert.Contains(t, out, "┌")
	assert.Contains(t, out, "▼")
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "42ms")
	assert.Contains(t, out, "[FAIL]")
	assert.Contains(t, out, "x2")
	assert.Contains(t, out, "archive ~")

	// shop-a and shop-b share a row.
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "shop-a") {
			assert.Contains(t, line, "shop-b")
		}
	}
}
