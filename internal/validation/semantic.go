package validation

import (
	"fmt"
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

// ConnectorLookup reports whether an integrate target is registered.
type ConnectorLookup interface {
	Has(name string) bool
}

const maxSensibleRetries = 10

var knownActions = map[schema.ActionType]bool{
	schema.ActionNavigate:  true,
	schema.ActionSearch:    true,
	schema.ActionExtract:   true,
	schema.ActionAnalyze:   true,
	schema.ActionReport:    true,
	schema.ActionIntegrate: true,
	schema.ActionGeneric:   true,
}

// validateSemantic checks what the document schema cannot: step
// references, the inputs each action needs, connector names and timing.
func validateSemantic(wf *schema.Workflow, connectors ConnectorLookup) *Result {
	r := &Result{}
	ids := make(map[string]bool, len(wf.Steps))
	for i, s := range wf.Steps {
		if ids[s.ID] {
			r.addError(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		ids[s.ID] = true
	}

	for i := range wf.Steps {
		validateStep(&wf.Steps[i], fmt.Sprintf("steps[%d]", i), ids, connectors, r)
	}
	return r
}

func validateStep(s *schema.Step, path string, ids map[string]bool, connectors ConnectorLookup, r *Result) {
	seen := make(map[string]bool, len(s.DependsOn))
	for j, dep := range s.DependsOn {
		p := fmt.Sprintf("%s.depends_on[%d]", path, j)
		switch {
		case dep == s.ID:
			r.addError(p, schema.ErrCodeScheduling, fmt.Sprintf("step %q depends on itself", s.ID))
		case !ids[dep]:
			r.addError(p, schema.ErrCodeScheduling, fmt.Sprintf("references non-existent step %q", dep))
		case seen[dep]:
			r.addWarning(p, fmt.Sprintf("duplicate dependency %q", dep))
		}
		seen[dep] = true
	}

	if !knownActions[s.Action] {
		r.addWarning(path+".action", fmt.Sprintf("unknown action %q runs as a no-op", s.Action))
	}

	switch s.Action {
	case schema.ActionNavigate:
		if s.Target == "" && !hasParam(s, "url") {
			r.addError(path+".target", schema.ErrCodeValidation, "navigate needs a target url")
		}
	case schema.ActionSearch:
		if s.Target == "" && !hasParam(s, "query") {
			r.addError(path+".target", schema.ErrCodeValidation, "search needs a query")
		}
	case schema.ActionExtract:
		if s.Target == "" && !hasParam(s, "selector") {
			r.addError(path+".target", schema.ErrCodeValidation, "extract needs a selector")
		}
	case schema.ActionAnalyze:
		if !hasParam(s, "expression") && !hasParam(s, "prompt") {
			r.addError(path+".params", schema.ErrCodeValidation, "analyze needs an expression or a prompt")
		}
	case schema.ActionIntegrate:
		validateConnector(s, path, connectors, r)
	}

	if s.Retry != nil {
		if s.EffectiveOnError() != schema.OnErrorRetry {
			r.addWarning(path+".retry", fmt.Sprintf("retry policy is ignored unless on_error is %q", schema.OnErrorRetry))
		}
		if s.Retry.Max > maxSensibleRetries {
			r.addWarning(path+".retry.max", fmt.Sprintf("high retry count (%d) may cause long delays", s.Retry.Max))
		}
		if s.Retry.Delay != "" && s.Retry.MaxDelay != "" {
			d, derr := time.ParseDuration(s.Retry.Delay)
			m, merr := time.ParseDuration(s.Retry.MaxDelay)
			if derr == nil && merr == nil && d > m {
				r.addWarning(path+".retry.delay", fmt.Sprintf("delay %s exceeds max_delay %s", d, m))
			}
		}
	}

	if s.Timeout != "" {
		if d, err := time.ParseDuration(s.Timeout); err != nil || d <= 0 {
			r.addError(path+".timeout", schema.ErrCodeValidation, fmt.Sprintf("invalid timeout %q", s.Timeout))
		}
	}
}

func validateConnector(s *schema.Step, path string, connectors ConnectorLookup, r *Result) {
	name := s.Target
	if name == "" {
		name, _ = s.Params["connector"].(string)
	}
	if name == "" {
		r.addError(path+".target", schema.ErrCodeValidation, "integrate needs a connector name")
		return
	}
	if connectors != nil && !connectors.Has(name) {
		r.addError(path+".target", schema.ErrCodeHandler, fmt.Sprintf("connector %q not registered", name))
	}
}

func hasParam(s *schema.Step, key string) bool {
	v, ok := s.Params[key]
	if !ok {
		return false
	}
	str, isString := v.(string)
	return !isString || str != ""
}
