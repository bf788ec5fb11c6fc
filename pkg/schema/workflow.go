package schema

// Workflow is a declarative, ordered set of steps with dependency and
// strategy metadata. Produced by a planner or loaded from a workflow file.
type Workflow struct {
	ID       string         `json:"id" yaml:"id"`
	Title    string         `json:"title,omitempty" yaml:"title,omitempty"`
	Steps    []Step         `json:"steps" yaml:"steps"`
	Strategy Strategy       `json:"strategy,omitempty" yaml:"strategy,omitempty"` // sequential | parallel | hybrid (default: sequential)
	Status   WorkflowStatus `json:"status,omitempty" yaml:"status,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Step is one unit of automation work.
type Step struct {
	ID        string         `json:"id" yaml:"id"`
	Action    ActionType     `json:"action" yaml:"action"`
	Target    string         `json:"target,omitempty" yaml:"target,omitempty"`
	Params    map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Shadow    bool           `json:"shadow,omitempty" yaml:"shadow,omitempty"`
	OnError   ErrorPolicy    `json:"on_error,omitempty" yaml:"on_error,omitempty"` // retry | skip | fail (default: fail)
	Retry     *RetryPolicy   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Timeout   string         `json:"timeout,omitempty" yaml:"timeout,omitempty"` // step-level timeout (e.g. "30s")
}

// Strategy selects how runnable groups are executed.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyHybrid     Strategy = "hybrid"
)

// ActionType enumerates the closed set of step actions.
type ActionType string

const (
	ActionNavigate  ActionType = "navigate"
	ActionSearch    ActionType = "search"
	ActionExtract   ActionType = "extract"
	ActionAnalyze   ActionType = "analyze"
	ActionReport    ActionType = "report"
	ActionIntegrate ActionType = "integrate"
	ActionGeneric   ActionType = "generic"
)

// ErrorPolicy decides what happens to dependents when a step fails.
type ErrorPolicy string

const (
	OnErrorRetry ErrorPolicy = "retry"
	OnErrorSkip  ErrorPolicy = "skip"
	OnErrorFail  ErrorPolicy = "fail"
)

// RetryPolicy configures the bounded retry loop for steps with on_error=retry.
type RetryPolicy struct {
	Max      int    `json:"max" yaml:"max"`                                 // additional attempts after the first
	Backoff  string `json:"backoff,omitempty" yaml:"backoff,omitempty"`     // none | constant | linear | exponential (default: exponential)
	Delay    string `json:"delay,omitempty" yaml:"delay,omitempty"`         // initial delay (e.g. "500ms")
	MaxDelay string `json:"max_delay,omitempty" yaml:"max_delay,omitempty"` // cap on any single delay
}

// Defaults applied when a retry-policy step omits its RetryPolicy.
const (
	DefaultRetryMax      = 3
	DefaultRetryBackoff  = "exponential"
	DefaultRetryDelay    = "500ms"
	DefaultRetryMaxDelay = "10s"
)

// EffectiveStrategy returns the workflow strategy, defaulting to sequential.
func (w *Workflow) EffectiveStrategy() Strategy {
	if w.Strategy == "" {
		return StrategySequential
	}
	return w.Strategy
}

// EffectiveOnError returns the step error policy, defaulting to fail.
func (s *Step) EffectiveOnError() ErrorPolicy {
	if s.OnError == "" {
		return OnErrorFail
	}
	return s.OnError
}

// EffectiveRetry returns the retry policy for a retry-policy step, filling defaults.
// Returns nil when the step does not use the retry policy.
func (s *Step) EffectiveRetry() *RetryPolicy {
	if s.EffectiveOnError() != OnErrorRetry {
		return nil
	}
	p := RetryPolicy{
		Max:      DefaultRetryMax,
		Backoff:  DefaultRetryBackoff,
		Delay:    DefaultRetryDelay,
		MaxDelay: DefaultRetryMaxDelay,
	}
	if s.Retry != nil {
		if s.Retry.Max > 0 {
			p.Max = s.Retry.Max
		}
		if s.Retry.Backoff != "" {
			p.Backoff = s.Retry.Backoff
		}
		if s.Retry.Delay != "" {
			p.Delay = s.Retry.Delay
		}
		if s.Retry.MaxDelay != "" {
			p.MaxDelay = s.Retry.MaxDelay
		}
	}
	return &p
}

// StepIndex returns the step with the given ID, or nil.
func (w *Workflow) StepIndex(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}
