package schema

import "time"

// Execution is one run of a Workflow producing per-step results.
type Execution struct {
	ID             string                 `json:"execution_id"`
	WorkflowID     string                 `json:"workflow_id"`
	SessionID      string                 `json:"session_id"`
	Status         ExecutionStatus        `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	StepsCompleted int                    `json:"steps_completed"`
	TotalSteps     int                    `json:"total_steps"`
	Results        map[string]*StepResult `json:"results"`
	ShadowTaskIDs  []string               `json:"shadow_task_ids,omitempty"`
	Error          *FlowError             `json:"error,omitempty"`
}

// StepResult is the recorded outcome of a single step.
type StepResult struct {
	StepID     string         `json:"step_id"`
	Status     StepStatus     `json:"status"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      *FlowError     `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Attempts   int            `json:"attempts,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Shadow     bool           `json:"shadow,omitempty"`
}

// Completed reports whether the step finished successfully.
func (r *StepResult) Completed() bool {
	return r != nil && r.Status == StepStatusCompleted
}

// ShadowTask is a step tracked in the auxiliary shadow workspace table.
type ShadowTask struct {
	ID          string         `json:"task_id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id"`
	Status      ShadowStatus   `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       *FlowError     `json:"error,omitempty"`
}

// ExecutionSummary is returned to callers for every execution that was created.
type ExecutionSummary struct {
	ExecutionID    string                 `json:"execution_id"`
	WorkflowID     string                 `json:"workflow_id"`
	SessionID      string                 `json:"session_id"`
	Status         ExecutionStatus        `json:"status"`
	StepsCompleted int                    `json:"steps_completed"`
	TotalSteps     int                    `json:"total_steps"`
	ElapsedMs      int64                  `json:"elapsed_ms"`
	Results        map[string]*StepResult `json:"results"`
	ShadowTaskIDs  []string               `json:"shadow_task_ids,omitempty"`
	Error          *FlowError             `json:"error,omitempty"`
}

// WorkflowStats aggregates execution outcomes for one workflow.
type WorkflowStats struct {
	WorkflowID     string          `json:"workflow_id"`
	Runs           int             `json:"runs"`
	Completed      int             `json:"completed"`
	Partial        int             `json:"partial"`
	Failed         int             `json:"failed"`
	LastStatus     ExecutionStatus `json:"last_status,omitempty"`
	LastElapsedMs  int64           `json:"last_elapsed_ms"`
	LastExecutedAt *time.Time      `json:"last_executed_at,omitempty"`
}

// Summary builds the caller-facing summary of an execution.
func (e *Execution) Summary() *ExecutionSummary {
	end := time.Now().UTC()
	if e.CompletedAt != nil {
		end = *e.CompletedAt
	}
	return &ExecutionSummary{
		ExecutionID:    e.ID,
		WorkflowID:     e.WorkflowID,
		SessionID:      e.SessionID,
		Status:         e.Status,
		StepsCompleted: e.StepsCompleted,
		TotalSteps:     e.TotalSteps,
		ElapsedMs:      end.Sub(e.StartedAt).Milliseconds(),
		Results:        e.Results,
		ShadowTaskIDs:  e.ShadowTaskIDs,
		Error:          e.Error,
	}
}
