package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/rendis/tabflow/pkg/schema"
)

// CELEngine evaluates boolean predicates over a Scope with Google's Common
// Expression Language. Programs are compiled once and shared across goroutines.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine builds a sandboxed environment exposing the Scope keys as
// map(string, dyn) variables.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(scopeKeys))
	for _, v := range scopeKeys {
		opts = append(opts, cel.Variable(v, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}
	prg, err := e.cache.getOrCompile(expression, e.compile)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, fillScope(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "CEL evaluation failed for %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "CEL compile error in %q: %s", expression, issues.Err()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "CEL program error for %q: %s", expression, err).
			WithCause(err)
	}
	return prg, nil
}

// fillScope substitutes empty maps for missing scope keys so programs never
// fail on an undeclared activation variable.
func fillScope(data map[string]any) map[string]any {
	activation := make(map[string]any, len(scopeKeys))
	for _, key := range scopeKeys {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = v
		} else {
			activation[key] = map[string]any{}
		}
	}
	return activation
}

var _ Engine = (*CELEngine)(nil)
