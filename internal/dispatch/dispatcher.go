package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/rendis/tabflow/internal/browser"
	"github.com/rendis/tabflow/internal/connectors"
	"github.com/rendis/tabflow/internal/expressions"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

// Browser is the slice of the session manager that step handlers drive.
type Browser interface {
	Open(ctx context.Context, sessionID, tabID, url string) (*browser.NavigationResult, error)
	CreateTab(ctx context.Context, sessionID, tabID string) (string, error)
	Navigate(ctx context.Context, tabID, url string) (*browser.NavigationResult, error)
	Act(ctx context.Context, tabID string, action browser.Action) (*browser.ActionResult, error)
	ActiveTab(sessionID string) (browser.TabInfo, error)
}

// Request is one step to run within an execution.
type Request struct {
	ExecutionID string
	WorkflowID  string
	SessionID   string
	Step        *schema.Step
	// Prior holds results recorded so far, keyed by step id. Read-only.
	Prior map[string]*schema.StepResult
}

// Dispatcher routes each step to the handler for its action type and turns
// every outcome, including panics, into a StepResult.
type Dispatcher struct {
	browser    Browser
	search     SearchProvider
	analyzer   *Analyzer
	reporter   *Reporter
	connectors *connectors.Registry
	interp     *expressions.Interpolator
	logger     *slog.Logger
}

// Options carries the Dispatcher's collaborators. Nil collaborators make the
// matching actions fail with a HandlerError.
type Options struct {
	Browser    Browser
	Search     SearchProvider
	Analyzer   *Analyzer
	Reporter   *Reporter
	Connectors *connectors.Registry
	Logger     *slog.Logger
}

func New(opts Options) *Dispatcher {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = NewReporter()
	}
	return &Dispatcher{
		browser:    opts.Browser,
		search:     opts.Search,
		analyzer:   opts.Analyzer,
		reporter:   reporter,
		connectors: opts.Connectors,
		interp:     expressions.NewInterpolator(nil),
		logger:     logging.OrDiscard(opts.Logger),
	}
}

// Execute runs req.Step, retrying retryable failures when the step's error
// policy is retry. It never returns nil.
func (d *Dispatcher) Execute(ctx context.Context, req Request) *schema.StepResult {
	step := req.Step
	ctx = logging.WithStepID(ctx, step.ID)
	log := logging.LogWith(ctx, d.logger)
	start := time.Now()

	policy := step.EffectiveRetry()
	maxAttempts := 1
	if policy != nil {
		maxAttempts += policy.Max
	}

	var (
		payload  map[string]any
		ferr     *schema.FlowError
		attempts int
	)
	for attempts < maxAttempts {
		attempts++
		payload, ferr = d.attempt(ctx, req, attempts)
		if ferr == nil || attempts == maxAttempts || !IsRetryableError(ferr) {
			break
		}
		delay := ComputeBackoff(policy, attempts-1)
		log.Warn("step attempt failed, retrying",
			"attempt", attempts, "max_attempts", maxAttempts, "delay", delay, "error", ferr.Message)
		if err := WaitForBackoff(ctx, delay); err != nil {
			break
		}
	}

	if ferr != nil && policy != nil && attempts == maxAttempts && maxAttempts > 1 {
		ferr = schema.NewErrorf(schema.ErrCodeRetryExhausted, "failed after %d attempts: %s", attempts, ferr.Message).
			WithCause(ferr).
			WithDetails(map[string]any{"attempts": attempts, "last_code": ferr.Code})
	}

	res := &schema.StepResult{
		StepID:     step.ID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
		Attempts:   attempts,
		DurationMs: time.Since(start).Milliseconds(),
		Shadow:     step.Shadow,
	}
	if ferr != nil {
		res.Status = schema.StepStatusFailed
		res.Error = ferr.WithStep(step.ID)
		log.Warn("step failed", "action", step.Action, "code", ferr.Code, "error", ferr.Message, "attempts", attempts)
	} else {
		res.Status = schema.StepStatusCompleted
		log.Info("step completed", "action", step.Action, "duration_ms", res.DurationMs)
	}
	return res
}

// attempt runs try number n (1-based) of the step with resolved params and
// the step timeout.
func (d *Dispatcher) attempt(ctx context.Context, req Request, n int) (payload map[string]any, ferr *schema.FlowError) {
	step := req.Step
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "step handler panic", "step_id", step.ID, "panic", r, "stack", string(debug.Stack()))
			payload = nil
			ferr = schema.NewErrorf(schema.ErrCodeHandler, "handler panic: %v", r).
				WithDetails(map[string]any{"panic": fmt.Sprint(r)})
		}
	}()

	if step.Timeout != "" {
		timeout, err := time.ParseDuration(step.Timeout)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q", step.Timeout)
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	scope := expressions.NewScope(req.Prior, req.WorkflowID, req.SessionID, step.Params)
	params := step.Params
	if expressions.HasReferences(params) {
		resolved, err := d.interp.ResolveParams(ctx, params, scope)
		if err != nil {
			return nil, schema.AsFlowError(err, schema.ErrCodeValidation)
		}
		params = resolved
	}
	if params == nil {
		params = map[string]any{}
	}
	target, err := d.interp.ResolveString(ctx, step.Target, scope)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeValidation)
	}

	call := &call{req: req, step: step, target: target, params: params, scope: scope, attempt: n}
	out, err := d.route(ctx, call)
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeHandler)
		if ctx.Err() == context.DeadlineExceeded && !schema.IsCode(fe, schema.ErrCodeTimeout) {
			fe = schema.NewErrorf(schema.ErrCodeTimeout, "step timed out after %s: %s", step.Timeout, fe.Message).WithCause(fe)
		}
		return out, fe
	}
	return out, nil
}

// call is the resolved input a handler works from.
type call struct {
	req     Request
	step    *schema.Step
	target  string
	params  map[string]any
	scope   *expressions.Scope
	attempt int
}

func (d *Dispatcher) route(ctx context.Context, c *call) (map[string]any, error) {
	switch c.step.Action {
	case schema.ActionNavigate:
		return d.navigate(ctx, c)
	case schema.ActionSearch:
		return d.searchStep(ctx, c)
	case schema.ActionExtract:
		return d.extract(ctx, c)
	case schema.ActionAnalyze:
		return d.analyze(ctx, c)
	case schema.ActionReport:
		return d.report(ctx, c)
	case schema.ActionIntegrate:
		return d.integrate(ctx, c)
	default:
		return d.generic(ctx, c)
	}
}
