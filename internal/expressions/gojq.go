package expressions

import (
	"context"

	"github.com/itchyny/gojq"
	"github.com/rendis/tabflow/pkg/schema"
)

// GoJQEngine evaluates jq programs. It backs both analyze steps with
// engine "jq" and ${{ }} parameter interpolation.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate returns the single output of the program, nil for none, or a
// []any when the program emits several values.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll returns every output of the program in order.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}
	code, err := e.cache.getOrCompile(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	var input any = map[string]any{}
	if data != nil {
		input = normalizeJSON(data)
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if verr, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeHandler, "jq evaluation failed for %q: %s", expression, verr).
				WithCause(verr).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq parse error in %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	// Empty environ keeps $ENV from leaking process variables into workflows.
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "jq compile error in %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return code, nil
}

// normalizeJSON coerces Go-native values into the shapes gojq accepts:
// float64 numbers, []any slices and map[string]any objects.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = item
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return v
	}
}

var _ Engine = (*GoJQEngine)(nil)
