package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func newValidator(t *testing.T) *WorkflowValidator {
	t.Helper()
	wv, err := NewWorkflowValidator(connectorSet{"webhook": true})
	require.NoError(t, err)
	return wv
}

const compareYAML = `
id: compare-prices
title: Compare prices
strategy: parallel
steps:
  - id: shop_a
    action: navigate
    target: https://a.example.com
  - id: shop_b
    action: navigate
    target: https://b.example.com
    params:
      new_tab: true
  - id: cheapest
    action: analyze
    depends_on: [shop_a, shop_b]
    params:
      engine: jq
      expression: '[.shop_a.payload.title, .shop_b.payload.title]'
  - id: notify
    action: integrate
    target: webhook
    depends_on: [cheapest]
    on_error: retry
    retry:
      max: 2
      backoff: constant
      delay: 100ms
`

func TestLoad_YAML(t *testing.T) {
	wf, r, err := newValidator(t).Load([]byte(compareYAML))
	require.NoError(t, err)
	require.NotNil(t, wf)
	assert.Equal(t, "compare-prices", wf.ID)
	assert.Equal(t, schema.StrategyParallel, wf.Strategy)
	require.Len(t, wf.Steps, 4)
	assert.Equal(t, true, wf.Steps[1].Params["new_tab"])
	assert.Equal(t, 2, wf.Steps[3].Retry.Max)
	assert.Equal(t, [][]string{{"shop_a", "shop_b"}, {"cheapest"}, {"notify"}}, r.Plan)
}

func TestLoad_JSON(t *testing.T) {
	doc := `{"steps": [{"id": "a", "action": "navigate", "target": "https://example.com"}]}`
	wf, r, err := newValidator(t).Load([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "a", wf.Steps[0].ID)
	assert.Equal(t, [][]string{{"a"}}, r.Plan)
}

func TestLoad_Errors(t *testing.T) {
	wv := newValidator(t)

	_, _, err := wv.Load([]byte("steps: [unclosed"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	wf, r, err := wv.Load([]byte("steps:\n  - id: a\n    action: generic\n    colour: red\n"))
	assert.Nil(t, wf)
	require.Error(t, err)
	assert.False(t, r.Valid())

	wf, r, err = wv.Load([]byte("steps:\n  - id: a\n    action: generic\n    depends_on: [b]\n  - id: b\n    action: generic\n    depends_on: [a]\n"))
	require.NotNil(t, wf)
	assert.True(t, schema.IsCode(err, schema.ErrCodeScheduling))
	assert.Nil(t, r.Plan)
}

func TestValidate_StagesShortCircuit(t *testing.T) {
	wv := newValidator(t)

	// Params fail structurally, so the missing expression is never reported.
	r := wv.Validate(&schema.Workflow{Steps: []schema.Step{{ID: "a", Action: schema.ActionAnalyze, Params: map[string]any{"engine": "python"}}}})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].params/engine", r.Errors[0].Path)

	// A dangling reference is semantic; the graph stage does not repeat it.
	r = wv.Validate(&schema.Workflow{Steps: []schema.Step{{ID: "a", Action: schema.ActionGeneric, DependsOn: []string{"x"}}}})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].depends_on[0]", r.Errors[0].Path)
	assert.Nil(t, r.Plan)
}

func TestValidateWorkflow(t *testing.T) {
	wv := newValidator(t)
	assert.NoError(t, wv.ValidateWorkflow(&schema.Workflow{Steps: []schema.Step{{ID: "a", Action: schema.ActionReport}}}))

	err := wv.ValidateWorkflow(&schema.Workflow{Steps: []schema.Step{{ID: "a", Action: schema.ActionIntegrate, Target: "slack"}}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}
