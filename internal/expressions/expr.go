package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rendis/tabflow/pkg/schema"
)

// ExprEngine evaluates expr-lang programs for analyze steps that need more
// than a predicate: filter/map/count over extracted lists, ?? and ?. chains.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with every key of data as a top-level variable.
// Unknown identifiers resolve to nil rather than failing compilation.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	if data == nil {
		data = map[string]any{}
	}

	prg, err := e.cache.getOrCompile(expression, func(src string) (*vm.Program, error) {
		p, cerr := expr.Compile(src, expr.Env(data), expr.AllowUndefinedVariables())
		if cerr != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "expr compile error in %q: %s", src, cerr).
				WithCause(cerr).
				WithDetails(map[string]any{"expression": src})
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "expr evaluation failed for %q: %s", expression, err).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

var _ Engine = (*ExprEngine)(nil)
