package engine

import "github.com/rendis/tabflow/pkg/schema"

// Scheduler emits runnable groups from a DAG according to a strategy.
type Scheduler struct {
	dag      *DAG
	strategy schema.Strategy
}

func NewScheduler(dag *DAG, strategy schema.Strategy) *Scheduler {
	if strategy == "" {
		strategy = schema.StrategySequential
	}
	return &Scheduler{dag: dag, strategy: strategy}
}

func (s *Scheduler) Strategy() schema.Strategy { return s.strategy }

// NextGroup returns the unresolved steps whose dependencies are all in
// resolved, in declaration order. Sequential scheduling returns only the
// first of them. An empty group means nothing more can run.
func (s *Scheduler) NextGroup(resolved map[string]bool) []string {
	var group []string
	for _, id := range s.dag.Order {
		if resolved[id] || !s.ready(id, resolved) {
			continue
		}
		group = append(group, id)
		if s.strategy == schema.StrategySequential {
			break
		}
	}
	return group
}

func (s *Scheduler) ready(id string, resolved map[string]bool) bool {
	for _, dep := range s.dag.Edges[id] {
		if !resolved[dep] {
			return false
		}
	}
	return true
}

// Plan returns the group sequence NextGroup would produce if every step
// completed.
func (s *Scheduler) Plan() [][]string {
	resolved := make(map[string]bool, len(s.dag.Steps))
	var groups [][]string
	for {
		group := s.NextGroup(resolved)
		if len(group) == 0 {
			return groups
		}
		for _, id := range group {
			resolved[id] = true
		}
		groups = append(groups, group)
	}
}

// ValidStrategy reports whether s names a known execution strategy. The
// empty string selects sequential.
func ValidStrategy(s schema.Strategy) bool {
	switch s {
	case "", schema.StrategySequential, schema.StrategyParallel, schema.StrategyHybrid:
		return true
	}
	return false
}
