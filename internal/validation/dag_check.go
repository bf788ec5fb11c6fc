package validation

import (
	"fmt"

	"github.com/rendis/tabflow/internal/engine"
	"github.com/rendis/tabflow/pkg/schema"
)

// validateDAG runs the scheduler's own graph parse, so a workflow that
// passes here never fails scheduling, and reports the resulting plan.
func validateDAG(wf *schema.Workflow) (*Result, [][]string) {
	r := &Result{}
	dag, err := engine.ParseDAG(wf)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeScheduling)
		r.addError("steps", fe.Code, fe.Message)
		return r, nil
	}

	plan := engine.NewScheduler(dag, wf.EffectiveStrategy()).Plan()
	if wf.EffectiveStrategy() == schema.StrategySequential {
		widest := 0
		for _, level := range dag.Levels {
			widest = max(widest, len(level))
		}
		if widest > 1 {
			r.addWarning("strategy", fmt.Sprintf("up to %d independent steps run one at a time; strategy %q would run them together", widest, schema.StrategyParallel))
		}
	} else {
		warnSharedActiveTab(dag, plan, r)
	}
	for _, s := range wf.Steps {
		if !s.Shadow {
			continue
		}
		if deps := dag.Dependents(s.ID); len(deps) > 0 {
			r.addWarning(fmt.Sprintf("steps[%s].shadow", s.ID), fmt.Sprintf("shadow step %q has dependents %v", s.ID, deps))
		}
	}
	return r, plan
}

// warnSharedActiveTab flags groups where several navigate steps without a
// tab_id run together on the session's active tab.
func warnSharedActiveTab(dag *engine.DAG, plan [][]string, r *Result) {
	for i, group := range plan {
		var shared []string
		for _, id := range group {
			s := dag.Steps[id]
			if s.Action != schema.ActionNavigate {
				continue
			}
			if tab, _ := s.Params["tab_id"].(string); tab == "" {
				shared = append(shared, id)
			}
		}
		if len(shared) > 1 {
			r.addWarning(fmt.Sprintf("plan[%d]", i),
				fmt.Sprintf("navigate steps %v run in parallel without tab_id and share the session's active tab; give each its own tab_id", shared))
		}
	}
}
