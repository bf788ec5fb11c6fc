package connectors

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

// Registry is the thread-safe name -> Connector table consulted by integrate
// steps. Every call goes through the connector's circuit breaker.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	breakers   *Breakers
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry. A nil breakers uses the defaults.
func NewRegistry(breakers *Breakers, logger *slog.Logger) *Registry {
	if breakers == nil {
		breakers = NewBreakers(DefaultBreakerConfig())
	}
	return &Registry{
		connectors: make(map[string]Connector),
		breakers:   breakers,
		logger:     logging.OrDiscard(logger),
	}
}

// Register adds a connector. Duplicate names return a Conflict error.
func (r *Registry) Register(c Connector) error {
	if c == nil {
		return schema.NewError(schema.ErrCodeValidation, "connector is nil")
	}
	name := c.Name()
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "connector name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "connector %q already registered", name)
	}
	r.connectors[name] = c
	return nil
}

// Get returns the connector registered under name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "connector %q not registered", name).
			WithDetails(map[string]any{"connector": name})
	}
	return c, nil
}

// Has reports whether a connector is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connectors[name]
	return ok
}

// List returns all connectors sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.connectors))
	for _, c := range r.connectors {
		infos = append(infos, Info{Name: c.Name(), Actions: c.Actions()})
	}
	r.mu.RUnlock()

	for i := range infos {
		infos[i].Circuit = r.breakers.State(infos[i].Name).String()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Invoke calls connector name with action and params. Unknown connectors
// return NotFound; an open circuit returns CircuitOpen without calling out.
func (r *Registry) Invoke(ctx context.Context, name, action string, params map[string]any) (map[string]any, error) {
	c, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if err := r.breakers.Allow(name); err != nil {
		return nil, err
	}

	out, err := c.Invoke(ctx, action, params)
	// Caller mistakes do not count against the platform's health.
	if err == nil || !schema.IsCode(err, schema.ErrCodeValidation) {
		if state := r.breakers.Record(name, err); state == CircuitOpen && err != nil {
			logging.LogWith(ctx, r.logger).Warn("connector circuit opened", "connector", name, "error", err)
		}
	}
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeHandler)
	}
	return out, nil
}
