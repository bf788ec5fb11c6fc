package expressions

import (
	"encoding/json"

	"github.com/rendis/tabflow/pkg/schema"
)

// scopeKeys are the top-level names visible to expressions.
var scopeKeys = []string{"steps", "workflow", "session", "params"}

// Scope is the read-only data an expression sees:
//
//	steps.<id>.status | payload | error
//	workflow.id | title
//	session.id
//	params (the current step's raw params)
type Scope struct {
	Steps    map[string]any
	Workflow map[string]any
	Session  map[string]any
	Params   map[string]any
}

// NewScope snapshots prior results into a JSON-shaped Scope. Payloads are
// copied, so expressions can never mutate recorded results.
func NewScope(prior map[string]*schema.StepResult, workflowID, sessionID string, params map[string]any) *Scope {
	steps := make(map[string]any, len(prior))
	for id, r := range prior {
		if r == nil {
			continue
		}
		entry := map[string]any{
			"status":  string(r.Status),
			"payload": toJSONValue(r.Payload),
		}
		if r.Error != nil {
			entry["error"] = map[string]any{"code": r.Error.Code, "message": r.Error.Message}
		}
		steps[id] = entry
	}
	p, _ := toJSONValue(params).(map[string]any)
	if p == nil {
		p = map[string]any{}
	}
	return &Scope{
		Steps:    steps,
		Workflow: map[string]any{"id": workflowID},
		Session:  map[string]any{"id": sessionID},
		Params:   p,
	}
}

// Map returns the scope as expression input data.
func (s *Scope) Map() map[string]any {
	if s == nil {
		return map[string]any{
			"steps": map[string]any{}, "workflow": map[string]any{},
			"session": map[string]any{}, "params": map[string]any{},
		}
	}
	return map[string]any{
		"steps":    s.Steps,
		"workflow": s.Workflow,
		"session":  s.Session,
		"params":   s.Params,
	}
}

// toJSONValue deep-copies v through its JSON form. Values that cannot be
// encoded fall back to the numeric normalization gojq needs.
func toJSONValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return normalizeJSON(v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return normalizeJSON(v)
	}
	return out
}
