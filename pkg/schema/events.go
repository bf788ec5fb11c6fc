package schema

import "time"

// Notifier event types published to session subscribers.
const (
	EventStepCompleted = "step_completed"
	EventProgress      = "progress"
	EventError         = "error"
)

// Execution lifecycle event types, used by the in-process hub and logs.
const (
	EventExecutionStarted  = "execution_started"
	EventExecutionFinished = "execution_finished"
	EventShadowStarted     = "shadow_started"
	EventShadowFinished    = "shadow_finished"
)

// Event is a progress notification emitted while an Execution runs.
type Event struct {
	Type        string      `json:"type"`
	ExecutionID string      `json:"execution_id"`
	WorkflowID  string      `json:"workflow_id,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	StepID      string      `json:"step_id,omitempty"`
	Progress    float64     `json:"progress,omitempty"` // fraction of steps resolved, 0..1
	Result      *StepResult `json:"result,omitempty"`
	Error       *FlowError  `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"
	WorkflowStatusReady     WorkflowStatus = "ready"
	WorkflowStatusExecuting WorkflowStatus = "executing"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusPartial   WorkflowStatus = "partial"
	WorkflowStatusFailed    WorkflowStatus = "failed"
)

// ExecutionStatus represents the lifecycle state of one run of a workflow.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusPartial   ExecutionStatus = "partial"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// StepStatus is the terminal state of a step result.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ShadowStatus is the lifecycle state of a shadow task.
type ShadowStatus string

const (
	ShadowStatusRunning   ShadowStatus = "running"
	ShadowStatusCompleted ShadowStatus = "completed"
	ShadowStatusFailed    ShadowStatus = "failed"
)
