package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/pkg/schema"
)

// DefaultPoolSize is the default number of steps running at once.
const DefaultPoolSize = 10

// DefaultSessionID is used when a caller does not name a browser session.
const DefaultSessionID = "default"

const tracerName = "github.com/rendis/tabflow/internal/engine"

// Planner turns an instruction into a workflow. Implementations live
// outside this module.
type Planner interface {
	Plan(ctx context.Context, instruction string, context map[string]any) (*schema.Workflow, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	SaveExecution(ctx context.Context, exec *schema.Execution) error
	LoadWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflowStats(ctx context.Context, workflowID string, summary *schema.ExecutionSummary) error
}

type workflowStatusUpdater interface {
	UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error
}

// Options configures an Orchestrator. Runner is required.
type Options struct {
	Runner   StepRunner
	Store    Store
	Notifier streaming.Notifier
	PoolSize int
	Logger   *slog.Logger
	Tracer   trace.Tracer

	// ShadowRetention caps finished shadow tasks kept in memory.
	// Zero means DefaultShadowRetention.
	ShadowRetention int
}

// Orchestrator drives workflows to completion: it schedules groups, runs
// their steps, records results, reports progress and persists the outcome.
type Orchestrator struct {
	runner   StepRunner
	shadow   *Tracker
	store    Store
	notifier streaming.Notifier
	pool     *WorkerPool
	fsm      *ExecutionFSM
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	logger := logging.OrDiscard(opts.Logger)
	notifier := streaming.OrNop(opts.Notifier)

	var shadowStore ShadowStore
	if ss, ok := opts.Store.(ShadowStore); ok {
		shadowStore = ss
	}
	shadow := NewTracker(opts.Runner, shadowStore, logger)
	shadow.SetRetention(opts.ShadowRetention)
	return &Orchestrator{
		runner:   opts.Runner,
		shadow:   shadow,
		store:    opts.Store,
		notifier: notifier,
		pool:     NewWorkerPool(opts.PoolSize),
		fsm:      NewExecutionFSM(notifier),
		logger:   logger,
		tracer:   opts.Tracer,
	}
}

// Shadow exposes the shadow task tracker.
func (o *Orchestrator) Shadow() *Tracker { return o.shadow }

// PoolMetrics reports the shared worker pool counters.
func (o *Orchestrator) PoolMetrics() PoolMetrics { return o.pool.Metrics() }

// Shutdown stops accepting parallel groups and waits for running steps.
func (o *Orchestrator) Shutdown() { o.pool.Shutdown() }

// run is the mutable state of one execution.
type run struct {
	mu   sync.Mutex
	exec *schema.Execution
	wf   *schema.Workflow
}

// Execute runs wf in the given browser session. A workflow whose graph is
// invalid yields a failed summary with no results plus the error; every
// other outcome is reported in the summary with a nil error.
func (o *Orchestrator) Execute(ctx context.Context, wf *schema.Workflow, sessionID string) (*schema.ExecutionSummary, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if sessionID == "" {
		sessionID = DefaultSessionID
	}

	exec := &schema.Execution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		SessionID:  sessionID,
		Status:     schema.ExecutionStatusRunning,
		StartedAt:  time.Now().UTC(),
		TotalSteps: len(wf.Steps),
		Results:    make(map[string]*schema.StepResult, len(wf.Steps)),
	}
	ctx = logging.WithIDs(ctx, exec.ID, "", sessionID)
	ctx, span := o.tracer.Start(ctx, "workflow.execute", trace.WithAttributes(
		attribute.String("tabflow.execution_id", exec.ID),
		attribute.String("tabflow.workflow_id", wf.ID),
		attribute.String("tabflow.session_id", sessionID),
		attribute.String("tabflow.strategy", string(wf.EffectiveStrategy())),
		attribute.Int("tabflow.total_steps", exec.TotalSteps),
	))
	defer span.End()
	log := logging.LogWith(ctx, o.logger).With("workflow_id", wf.ID)

	dag, err := ParseDAG(wf)
	if err == nil && !ValidStrategy(wf.Strategy) {
		err = schema.NewErrorf(schema.ErrCodeValidation, "unknown strategy %q", wf.Strategy)
	}
	if err != nil {
		fe := schema.AsFlowError(err, schema.ErrCodeScheduling)
		exec.Error = fe
		log.Error("workflow rejected", "code", fe.Code, "error", fe.Message)
		span.RecordError(fe)
		span.SetStatus(codes.Error, fe.Message)
		o.publish(ctx, exec, schema.Event{Type: schema.EventError, Error: fe})
		_ = o.fsm.Transition(ctx, exec, schema.ExecutionStatusFailed)
		summary := exec.Summary()
		o.persist(ctx, exec, summary)
		return summary, fe
	}

	o.fsm.Start(ctx, exec)
	log.Info("execution started", "strategy", wf.EffectiveStrategy(), "total_steps", exec.TotalSteps)

	r := &run{exec: exec, wf: wf}
	sched := NewScheduler(dag, wf.EffectiveStrategy())
	resolved := make(map[string]bool, len(dag.Steps))
	for ctx.Err() == nil {
		group := sched.NextGroup(resolved)
		if len(group) == 0 {
			break
		}
		results := o.runGroup(ctx, r, dag, group, sched.Strategy())

		halt := false
		for i, id := range group {
			switch res := results[i]; {
			case res.Completed():
				resolved[id] = true
			case dag.Steps[id].EffectiveOnError() == schema.OnErrorSkip:
				resolved[id] = true
			default:
				halt = true
				log.Warn("step failed, halting", "step_id", id, "code", res.Error.Code)
			}
		}
		if halt {
			break
		}
	}

	if err := o.fsm.Transition(ctx, exec, terminalStatus(exec.StepsCompleted, exec.TotalSteps)); err != nil {
		log.Error("finalize execution", "error", err)
	}
	summary := exec.Summary()
	span.SetAttributes(
		attribute.String("tabflow.status", string(exec.Status)),
		attribute.Int("tabflow.steps_completed", exec.StepsCompleted),
	)
	if exec.Status == schema.ExecutionStatusFailed {
		span.SetStatus(codes.Error, "no step completed")
	}
	o.persist(ctx, exec, summary)
	log.Info("execution finished", "status", exec.Status,
		"steps_completed", exec.StepsCompleted, "total_steps", exec.TotalSteps, "elapsed_ms", summary.ElapsedMs)
	return summary, nil
}

// ExecuteByID loads a stored workflow and executes it. An unknown id
// returns the store's NotFound error and no summary.
func (o *Orchestrator) ExecuteByID(ctx context.Context, workflowID, sessionID string) (*schema.ExecutionSummary, error) {
	if o.store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no workflow store configured")
	}
	wf, err := o.store.LoadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if updater, ok := o.store.(workflowStatusUpdater); ok {
		if !CanTransitionWorkflow(wf.Status, schema.WorkflowStatusExecuting) {
			o.logger.WarnContext(ctx, "workflow already marked executing", "workflow_id", wf.ID, "status", wf.Status)
		} else if err := updater.UpdateWorkflowStatus(ctx, wf.ID, schema.WorkflowStatusExecuting); err != nil {
			o.logger.WarnContext(ctx, "mark workflow executing", "workflow_id", wf.ID, "error", err)
		}
	}
	return o.Execute(ctx, wf, sessionID)
}

// ExecuteInstruction asks the planner for a workflow and executes it.
func (o *Orchestrator) ExecuteInstruction(ctx context.Context, planner Planner, instruction string, pctx map[string]any, sessionID string) (*schema.ExecutionSummary, error) {
	if planner == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "no planner configured")
	}
	wf, err := planner.Plan(ctx, instruction, pctx)
	if err != nil {
		return nil, schema.AsFlowError(err, schema.ErrCodeHandler)
	}
	return o.Execute(ctx, wf, sessionID)
}

// runGroup runs one group behind a barrier and returns results aligned with
// group. Sequential groups and hybrid singletons run inline.
func (o *Orchestrator) runGroup(ctx context.Context, r *run, dag *DAG, group []string, strategy schema.Strategy) []*schema.StepResult {
	r.mu.Lock()
	prior := maps.Clone(r.exec.Results)
	r.mu.Unlock()

	results := make([]*schema.StepResult, len(group))
	inline := strategy == schema.StrategySequential || (strategy == schema.StrategyHybrid && len(group) == 1)
	if inline {
		for i, id := range group {
			results[i] = o.runStep(ctx, r, dag.Steps[id], prior)
			o.record(ctx, r, results[i])
		}
		return results
	}

	tasks := make([]func(context.Context), len(group))
	for i, id := range group {
		tasks[i] = func(ctx context.Context) {
			res := o.runStep(ctx, r, dag.Steps[id], prior)
			results[i] = res
			o.record(ctx, r, res)
		}
	}
	poolErr := o.pool.RunGroup(ctx, tasks)

	// Steps that never started or whose worker died still get a result.
	for i, id := range group {
		if results[i] != nil {
			continue
		}
		var fe *schema.FlowError
		switch {
		case errors.Is(poolErr, context.DeadlineExceeded):
			fe = schema.NewError(schema.ErrCodeTimeout, "step not started before the deadline")
		case poolErr != nil:
			fe = schema.NewErrorf(schema.ErrCodeHandler, "step not started: %v", poolErr).WithCause(poolErr)
		default:
			fe = schema.NewError(schema.ErrCodeHandler, "step worker panicked")
		}
		results[i] = &schema.StepResult{
			StepID:    id,
			Status:    schema.StepStatusFailed,
			Error:     fe.WithStep(id),
			Timestamp: time.Now().UTC(),
			Shadow:    dag.Steps[id].Shadow,
		}
		o.record(ctx, r, results[i])
	}
	return results
}

func (o *Orchestrator) runStep(ctx context.Context, r *run, step *schema.Step, prior map[string]*schema.StepResult) *schema.StepResult {
	ctx = logging.WithStepID(ctx, step.ID)
	ctx, span := o.tracer.Start(ctx, "workflow.step", trace.WithAttributes(
		attribute.String("tabflow.step_id", step.ID),
		attribute.String("tabflow.action", string(step.Action)),
		attribute.Bool("tabflow.shadow", step.Shadow),
	))
	defer span.End()

	req := dispatch.Request{
		ExecutionID: r.exec.ID,
		WorkflowID:  r.exec.WorkflowID,
		SessionID:   r.exec.SessionID,
		Step:        step,
		Prior:       prior,
	}

	var res *schema.StepResult
	if step.Shadow {
		var taskID string
		res, taskID = o.shadow.Run(ctx, req)
		r.mu.Lock()
		r.exec.ShadowTaskIDs = append(r.exec.ShadowTaskIDs, taskID)
		r.mu.Unlock()
	} else {
		res = o.runner.Execute(ctx, req)
	}

	span.SetAttributes(attribute.Int("tabflow.attempts", res.Attempts))
	if res.Error != nil {
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, res.Error.Message)
	}
	return res
}

// record stores a result and publishes progress for it.
func (o *Orchestrator) record(ctx context.Context, r *run, res *schema.StepResult) {
	r.mu.Lock()
	r.exec.Results[res.StepID] = res
	if res.Completed() {
		r.exec.StepsCompleted++
	}
	progress := float64(len(r.exec.Results)) / float64(r.exec.TotalSteps)
	r.mu.Unlock()

	o.publish(ctx, r.exec, schema.Event{Type: schema.EventProgress, StepID: res.StepID, Progress: progress, Result: res})
	if res.Completed() {
		o.publish(ctx, r.exec, schema.Event{Type: schema.EventStepCompleted, StepID: res.StepID, Result: res})
	} else {
		o.publish(ctx, r.exec, schema.Event{Type: schema.EventError, StepID: res.StepID, Error: res.Error})
	}
}

func (o *Orchestrator) publish(ctx context.Context, exec *schema.Execution, ev schema.Event) {
	ev.ExecutionID = exec.ID
	ev.WorkflowID = exec.WorkflowID
	ev.SessionID = exec.SessionID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := o.notifier.Publish(ctx, exec.SessionID, ev); err != nil {
		logging.LogWith(ctx, o.logger).Debug("publish event failed", "type", ev.Type, "error", err)
	}
}

// persist saves the execution and folds it into workflow stats. Failures
// are logged; the caller still gets the summary.
func (o *Orchestrator) persist(ctx context.Context, exec *schema.Execution, summary *schema.ExecutionSummary) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	log := logging.LogWith(ctx, o.logger)
	if err := o.store.SaveExecution(ctx, exec); err != nil {
		log.Warn("save execution failed", "error", err)
	}
	if exec.WorkflowID == "" {
		return
	}
	if err := o.store.UpdateWorkflowStats(ctx, exec.WorkflowID, summary); err != nil {
		log.Warn("update workflow stats failed", "error", fmt.Errorf("workflow %s: %w", exec.WorkflowID, err))
	}
}
