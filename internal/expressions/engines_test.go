package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func testScope() map[string]any {
	return map[string]any{
		"steps": map[string]any{
			"search": map[string]any{
				"status": "completed",
				"payload": map[string]any{
					"results": []any{
						map[string]any{"rank": float64(1), "url": "https://a.example"},
						map[string]any{"rank": float64(2), "url": "https://b.example"},
					},
				},
			},
		},
		"workflow": map[string]any{"id": "wf-1"},
		"session":  map[string]any{"id": "s1"},
		"params":   map[string]any{"min": float64(1)},
	}
}

func TestCELEngine_Predicate(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	out, err := eng.Evaluate(context.Background(), `steps.search.status == "completed" && session.id == "s1"`, testScope())
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_MissingScopeKeys(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	out, err := eng.Evaluate(context.Background(), `size(steps) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_CompileError(t *testing.T) {
	eng, err := NewCELEngine()
	require.NoError(t, err)

	_, err = eng.Evaluate(context.Background(), `steps.(`, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = eng.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestExprEngine_ListOps(t *testing.T) {
	eng := NewExprEngine()
	out, err := eng.Evaluate(context.Background(),
		`len(filter(steps.search.payload.results, {#.rank > params.min}))`, testScope())
	require.NoError(t, err)
	assert.Equal(t, 1, out)
}

func TestExprEngine_UndefinedVariable(t *testing.T) {
	eng := NewExprEngine()
	out, err := eng.Evaluate(context.Background(), `missing ?? "fallback"`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", out)
}

func TestGoJQEngine_SingleAndMulti(t *testing.T) {
	eng := NewGoJQEngine()
	ctx := context.Background()

	out, err := eng.Evaluate(ctx, ".steps.search.payload.results[0].url", testScope())
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", out)

	out, err = eng.Evaluate(ctx, ".steps.search.payload.results[].url", testScope())
	require.NoError(t, err)
	assert.Equal(t, []any{"https://a.example", "https://b.example"}, out)

	out, err = eng.Evaluate(ctx, "empty", testScope())
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_Errors(t *testing.T) {
	eng := NewGoJQEngine()
	ctx := context.Background()

	_, err := eng.Evaluate(ctx, ".[", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = eng.Evaluate(ctx, `error("boom")`, map[string]any{})
	assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
}

func TestGoJQEngine_NoEnvLeak(t *testing.T) {
	t.Setenv("TABFLOW_SECRET", "shh")
	eng := NewGoJQEngine()
	out, err := eng.Evaluate(context.Background(), "$ENV.TABFLOW_SECRET", map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQEngine_NormalizesGoInts(t *testing.T) {
	eng := NewGoJQEngine()
	out, err := eng.Evaluate(context.Background(), ".n + 1", map[string]any{"n": int64(41)})
	require.NoError(t, err)
	assert.EqualValues(t, 42, out)
}

func TestProgramCache_ConcurrentCompileOnce(t *testing.T) {
	eng := NewGoJQEngine()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Evaluate(context.Background(), ".params.min", testScope())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, eng.cache.len())
}

func TestEngines_Get(t *testing.T) {
	engines, err := NewEngines()
	require.NoError(t, err)

	for _, name := range []string{"cel", "expr", "jq"} {
		eng, err := engines.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, eng.Name())
	}

	_, err = engines.Get("lua")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
