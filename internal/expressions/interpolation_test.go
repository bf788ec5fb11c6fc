package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func priorResults() map[string]*schema.StepResult {
	return map[string]*schema.StepResult{
		"nav": {
			StepID: "nav",
			Status: schema.StepStatusCompleted,
			Payload: map[string]any{
				"tab_id":      "t1",
				"title":       "Example Domain",
				"status_code": 200,
			},
		},
		"broken": {
			StepID: "broken",
			Status: schema.StepStatusFailed,
			Error:  schema.NewError(schema.ErrCodeNavigation, "dns failure"),
		},
	}
}

func TestInterpolator_WholeReferenceKeepsType(t *testing.T) {
	in := NewInterpolator(nil)
	scope := NewScope(priorResults(), "wf", "s1", nil)

	out, err := in.ResolveParams(context.Background(), map[string]any{
		"code": "${{ steps.nav.payload.status_code }}",
		"tab":  "${{steps.nav.payload.tab_id}}",
	}, scope)
	require.NoError(t, err)
	assert.Equal(t, float64(200), out["code"])
	assert.Equal(t, "t1", out["tab"])
}

func TestInterpolator_EmbeddedReferences(t *testing.T) {
	in := NewInterpolator(nil)
	scope := NewScope(priorResults(), "wf", "s1", nil)

	out, err := in.ResolveParams(context.Background(), map[string]any{
		"text": "Page ${{ steps.nav.payload.title }} returned ${{ steps.nav.payload.status_code }} in ${{ session.id }}",
		"nested": map[string]any{
			"list": []any{"${{ steps.broken.error.code }}", 3},
		},
	}, scope)
	require.NoError(t, err)
	assert.Equal(t, "Page Example Domain returned 200 in s1", out["text"])
	assert.Equal(t, []any{"NAVIGATION_ERROR", 3}, out["nested"].(map[string]any)["list"])
}

func TestInterpolator_MissingPathIsEmpty(t *testing.T) {
	in := NewInterpolator(nil)
	scope := NewScope(nil, "wf", "s1", nil)

	out, err := in.ResolveParams(context.Background(), map[string]any{
		"whole": "${{ steps.nope.payload.x }}",
		"text":  "x=${{ steps.nope.payload.x }}",
	}, scope)
	require.NoError(t, err)
	assert.Nil(t, out["whole"])
	assert.Equal(t, "x=", out["text"])
}

func TestInterpolator_BadExpression(t *testing.T) {
	in := NewInterpolator(nil)
	_, err := in.ResolveParams(context.Background(), map[string]any{"a": "${{ steps[ }}"}, NewScope(nil, "", "", nil))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestInterpolator_DoesNotMutateInput(t *testing.T) {
	in := NewInterpolator(nil)
	params := map[string]any{"a": "${{ session.id }}"}
	_, err := in.ResolveParams(context.Background(), params, NewScope(nil, "", "s9", nil))
	require.NoError(t, err)
	assert.Equal(t, "${{ session.id }}", params["a"])
}

func TestInterpolator_ResolveString(t *testing.T) {
	in := NewInterpolator(nil)
	scope := NewScope(priorResults(), "wf", "s1", nil)

	s, err := in.ResolveString(context.Background(), "https://x.test/?q=${{ steps.nav.payload.title }}", scope)
	require.NoError(t, err)
	assert.Equal(t, "https://x.test/?q=Example Domain", s)

	s, err = in.ResolveString(context.Background(), "plain", scope)
	require.NoError(t, err)
	assert.Equal(t, "plain", s)
}

func TestHasReferences(t *testing.T) {
	assert.True(t, HasReferences(map[string]any{"a": []any{"${{ x }}"}}))
	assert.False(t, HasReferences(map[string]any{"a": "plain", "b": 1}))
}

func TestNewScope_CopiesPayload(t *testing.T) {
	prior := priorResults()
	scope := NewScope(prior, "wf", "s1", nil)
	scope.Steps["nav"].(map[string]any)["payload"].(map[string]any)["title"] = "changed"
	assert.Equal(t, "Example Domain", prior["nav"].Payload["title"])
}
