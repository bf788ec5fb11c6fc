package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/pkg/schema"
)

// ValidExecutionTransitions is the execution lifecycle.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusPartial, schema.ExecutionStatusFailed},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusPartial:   {},
	schema.ExecutionStatusFailed:    {},
}

// ValidWorkflowTransitions is the stored workflow lifecycle. A finished
// workflow may be executed again.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusDraft:     {schema.WorkflowStatusReady, schema.WorkflowStatusExecuting},
	schema.WorkflowStatusReady:     {schema.WorkflowStatusExecuting},
	schema.WorkflowStatusExecuting: {schema.WorkflowStatusCompleted, schema.WorkflowStatusPartial, schema.WorkflowStatusFailed},
	schema.WorkflowStatusCompleted: {schema.WorkflowStatusExecuting},
	schema.WorkflowStatusPartial:   {schema.WorkflowStatusExecuting},
	schema.WorkflowStatusFailed:    {schema.WorkflowStatusExecuting},
}

// TransitionHook runs after a successful transition.
type TransitionHook func(ctx context.Context, exec *schema.Execution, from, to schema.ExecutionStatus)

// ExecutionFSM guards execution status changes and announces them.
type ExecutionFSM struct {
	mu       sync.Mutex
	notifier streaming.Notifier
	after    []TransitionHook
}

func NewExecutionFSM(notifier streaming.Notifier) *ExecutionFSM {
	return &ExecutionFSM{notifier: streaming.OrNop(notifier)}
}

// OnAfter registers a hook called after every successful transition.
func (f *ExecutionFSM) OnAfter(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, hook)
}

// Start publishes execution_started for a freshly created running execution.
func (f *ExecutionFSM) Start(ctx context.Context, exec *schema.Execution) {
	f.publish(ctx, exec, schema.EventExecutionStarted)
}

// Transition moves exec to the given status and publishes
// execution_finished when it becomes terminal.
func (f *ExecutionFSM) Transition(ctx context.Context, exec *schema.Execution, to schema.ExecutionStatus) error {
	from := exec.Status
	if !slices.Contains(ValidExecutionTransitions[from], to) {
		return schema.NewErrorf(schema.ErrCodeInvalidState, "invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": exec.ID, "from": string(from), "to": string(to)})
	}
	exec.Status = to
	if len(ValidExecutionTransitions[to]) == 0 {
		now := time.Now().UTC()
		exec.CompletedAt = &now
		f.publish(ctx, exec, schema.EventExecutionFinished)
	}

	f.mu.Lock()
	hooks := slices.Clone(f.after)
	f.mu.Unlock()
	for _, h := range hooks {
		h(ctx, exec, from, to)
	}
	return nil
}

func (f *ExecutionFSM) publish(ctx context.Context, exec *schema.Execution, eventType string) {
	_ = f.notifier.Publish(ctx, exec.SessionID, schema.Event{
		Type:        eventType,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		SessionID:   exec.SessionID,
		Error:       exec.Error,
		Timestamp:   time.Now().UTC(),
	})
}

// CanTransitionWorkflow reports whether a stored workflow may move from one
// status to another. An unset status counts as ready.
func CanTransitionWorkflow(from, to schema.WorkflowStatus) bool {
	if from == "" {
		from = schema.WorkflowStatusReady
	}
	return slices.Contains(ValidWorkflowTransitions[from], to)
}

// terminalStatus derives the execution outcome from its counters.
func terminalStatus(completed, total int) schema.ExecutionStatus {
	switch {
	case total > 0 && completed == total:
		return schema.ExecutionStatusCompleted
	case completed == 0:
		return schema.ExecutionStatusFailed
	default:
		return schema.ExecutionStatusPartial
	}
}
