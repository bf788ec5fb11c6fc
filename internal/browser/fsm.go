package browser

import (
	"slices"

	"github.com/rendis/tabflow/pkg/schema"
)

// TabState is the lifecycle state of a tab.
type TabState string

const (
	TabCreated TabState = "created"
	TabLoading TabState = "loading"
	TabReady   TabState = "ready"
	TabClosed  TabState = "closed"
)

// ValidTabTransitions defines the allowed tab state transitions:
// created -> loading -> ready -> (loading -> ready)* -> closed.
var ValidTabTransitions = map[TabState][]TabState{
	TabCreated: {TabLoading, TabClosed},
	TabLoading: {TabReady, TabClosed},
	TabReady:   {TabLoading, TabClosed},
	TabClosed:  {},
}

func isValidTabTransition(from, to TabState) bool {
	allowed, ok := ValidTabTransitions[from]
	return ok && slices.Contains(allowed, to)
}

// transition moves t to the next state. Callers hold t.mu.
func (t *Tab) transition(to TabState) error {
	if !isValidTabTransition(t.state, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidState,
			"invalid tab transition: %s -> %s", t.state, to).
			WithDetails(map[string]any{"tab_id": t.ID, "from": string(t.state), "to": string(to)})
	}
	t.state = to
	return nil
}
