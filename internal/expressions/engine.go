package expressions

import (
	"context"
	"fmt"

	"github.com/rendis/tabflow/pkg/schema"
)

// Engine evaluates expressions against prior step results.
// Three local implementations: CEL (predicates), GoJQ (transforms), Expr (logic).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines is a name-keyed set of local expression engines.
type Engines map[string]Engine

// NewEngines builds the default set: cel, expr and jq.
func NewEngines() (Engines, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return Engines{
		celEngine.Name(): celEngine,
		"expr":           NewExprEngine(),
		"jq":             NewGoJQEngine(),
	}, nil
}

// Get returns the engine registered under name.
func (e Engines) Get(name string) (Engine, error) {
	eng, ok := e[name]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("unknown expression engine %q", name))
	}
	return eng, nil
}
