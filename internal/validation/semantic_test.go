package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

type connectorSet map[string]bool

func (c connectorSet) Has(name string) bool { return c[name] }

func semantic(steps ...schema.Step) *Result {
	return validateSemantic(&schema.Workflow{Steps: steps}, connectorSet{"telegram": true})
}

func TestSemantic_Valid(t *testing.T) {
	r := semantic(
		schema.Step{ID: "open", Action: schema.ActionNavigate, Target: "https://example.com"},
		schema.Step{ID: "find", Action: schema.ActionSearch, Params: map[string]any{"query": "go"}},
		schema.Step{ID: "read", Action: schema.ActionExtract, Target: "h1", DependsOn: []string{"open"}},
		schema.Step{ID: "calc", Action: schema.ActionAnalyze, Params: map[string]any{"expression": "1 + 1"}},
		schema.Step{ID: "send", Action: schema.ActionIntegrate, Target: "telegram", DependsOn: []string{"calc"}},
		schema.Step{ID: "sum", Action: schema.ActionReport},
	)
	assert.True(t, r.Valid(), "%v", r.Errors)
	assert.Empty(t, r.Warnings)
}

func TestSemantic_References(t *testing.T) {
	r := semantic(
		schema.Step{ID: "a", Action: schema.ActionGeneric, DependsOn: []string{"a"}},
		schema.Step{ID: "b", Action: schema.ActionGeneric, DependsOn: []string{"ghost"}},
		schema.Step{ID: "c", Action: schema.ActionGeneric, DependsOn: []string{"b", "b"}},
	)
	require.Len(t, r.Errors, 2)
	assert.Equal(t, "steps[0].depends_on[0]", r.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeScheduling, r.Errors[0].Code)
	assert.Contains(t, r.Errors[1].Message, "ghost")
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[2].depends_on[1]", r.Warnings[0].Path)
}

func TestSemantic_DuplicateIDs(t *testing.T) {
	r := semantic(schema.Step{ID: "a", Action: "generic"}, schema.Step{ID: "a", Action: "generic"})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[1].id", r.Errors[0].Path)
}

func TestSemantic_ActionInputs(t *testing.T) {
	cases := map[string]schema.Step{
		"navigate":  {ID: "s", Action: schema.ActionNavigate},
		"search":    {ID: "s", Action: schema.ActionSearch, Params: map[string]any{"query": ""}},
		"extract":   {ID: "s", Action: schema.ActionExtract},
		"analyze":   {ID: "s", Action: schema.ActionAnalyze, Params: map[string]any{"engine": "jq"}},
		"integrate": {ID: "s", Action: schema.ActionIntegrate},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			r := semantic(s)
			require.Len(t, r.Errors, 1)
			assert.Equal(t, schema.ErrCodeValidation, r.Errors[0].Code)
		})
	}
}

func TestSemantic_NavigateURLParam(t *testing.T) {
	r := semantic(schema.Step{ID: "s", Action: schema.ActionNavigate, Params: map[string]any{"url": "https://example.com"}})
	assert.True(t, r.Valid())
}

func TestSemantic_Connectors(t *testing.T) {
	r := semantic(schema.Step{ID: "s", Action: schema.ActionIntegrate, Params: map[string]any{"connector": "slack"}})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeHandler, r.Errors[0].Code)

	r = validateSemantic(&schema.Workflow{Steps: []schema.Step{{ID: "s", Action: schema.ActionIntegrate, Target: "slack"}}}, nil)
	assert.True(t, r.Valid(), "nil lookup skips connector checks")
}

func TestSemantic_UnknownActionWarns(t *testing.T) {
	r := semantic(schema.Step{ID: "s", Action: "scroll"})
	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, "steps[0].action", r.Warnings[0].Path)
}

func TestSemantic_RetryWarnings(t *testing.T) {
	r := semantic(
		schema.Step{ID: "a", Action: "generic", Retry: &schema.RetryPolicy{Max: 2}},
		schema.Step{ID: "b", Action: "generic", OnError: schema.OnErrorRetry, Retry: &schema.RetryPolicy{Max: 20}},
		schema.Step{ID: "c", Action: "generic", OnError: schema.OnErrorRetry, Retry: &schema.RetryPolicy{Max: 1, Delay: "5s", MaxDelay: "1s"}},
	)
	assert.True(t, r.Valid())
	assert.Equal(t, []string{"steps[0].retry", "steps[1].retry.max", "steps[2].retry.delay"}, paths(r.Warnings))
}

func TestSemantic_Timeout(t *testing.T) {
	r := semantic(schema.Step{ID: "a", Action: "generic", Timeout: "0s"})
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps[0].timeout", r.Errors[0].Path)
}
