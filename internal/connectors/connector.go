package connectors

import "context"

// Connector is an external platform reachable from integrate steps.
// Invoke receives the step's action name and resolved params and returns a
// JSON-shaped result.
type Connector interface {
	Name() string
	Actions() []string
	Invoke(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// Info summarizes a registered connector for listing.
type Info struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
	Circuit string   `json:"circuit"`
}

// Func adapts a plain function into a single-purpose Connector.
type Func struct {
	ConnectorName string
	Fn            func(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

func (f Func) Name() string      { return f.ConnectorName }
func (f Func) Actions() []string { return nil }

func (f Func) Invoke(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	return f.Fn(ctx, action, params)
}
