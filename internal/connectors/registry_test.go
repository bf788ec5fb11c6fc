package connectors

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func echoConnector(name string) Func {
	return Func{ConnectorName: name, Fn: func(_ context.Context, action string, params map[string]any) (map[string]any, error) {
		return map[string]any{"action": action, "params": params}, nil
	}}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(echoConnector("echo")))
	assert.True(t, reg.Has("echo"))

	err := reg.Register(echoConnector("echo"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.True(t, schema.IsCode(reg.Register(nil), schema.ErrCodeValidation))
	assert.True(t, schema.IsCode(reg.Register(echoConnector("")), schema.ErrCodeValidation))

	_, err = reg.Get("missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_ListSorted(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(echoConnector("zeta")))
	require.NoError(t, reg.Register(NewWebhook(nil, nil)))

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "webhook", infos[0].Name)
	assert.Equal(t, []string{"post", "get"}, infos[0].Actions)
	assert.Equal(t, "closed", infos[0].Circuit)
	assert.Equal(t, "zeta", infos[1].Name)
}

func TestRegistry_Invoke(t *testing.T) {
	reg := NewRegistry(nil, nil)
	require.NoError(t, reg.Register(echoConnector("echo")))

	out, err := reg.Invoke(context.Background(), "echo", "ping", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "ping", out["action"])

	_, err = reg.Invoke(context.Background(), "nope", "ping", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_InvokeOpensCircuit(t *testing.T) {
	calls := 0
	failing := Func{ConnectorName: "flaky", Fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		calls++
		return nil, errBoom
	}}
	reg := NewRegistry(NewBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}), nil)
	require.NoError(t, reg.Register(failing))

	for i := 0; i < 2; i++ {
		_, err := reg.Invoke(context.Background(), "flaky", "", nil)
		assert.True(t, schema.IsCode(err, schema.ErrCodeHandler))
	}
	_, err := reg.Invoke(context.Background(), "flaky", "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCircuitOpen))
	assert.Equal(t, 2, calls)
}

func TestRegistry_ValidationErrorsDoNotTripCircuit(t *testing.T) {
	bad := Func{ConnectorName: "strict", Fn: func(context.Context, string, map[string]any) (map[string]any, error) {
		return nil, schema.NewError(schema.ErrCodeValidation, "missing text")
	}}
	reg := NewRegistry(NewBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour}), nil)
	require.NoError(t, reg.Register(bad))

	for i := 0; i < 3; i++ {
		_, err := reg.Invoke(context.Background(), "strict", "", nil)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	}
}

func TestInt64Param(t *testing.T) {
	for _, v := range []any{42, int64(42), float64(42), "42"} {
		n, ok := int64Param(map[string]any{"id": v}, "id")
		assert.True(t, ok)
		assert.EqualValues(t, 42, n)
	}
	_, ok := int64Param(map[string]any{"id": "abc"}, "id")
	assert.False(t, ok)
}
