package store

import (
	"time"

	"github.com/rendis/tabflow/pkg/schema"
)

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status schema.WorkflowStatus `json:"status,omitempty"`
	Limit  int                   `json:"limit,omitempty"`
	Offset int                   `json:"offset,omitempty"`
}

// ExecutionFilter narrows ListExecutions. Results are newest first and
// carry no step results; use GetExecution for those.
type ExecutionFilter struct {
	WorkflowID string                 `json:"workflow_id,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Status     schema.ExecutionStatus `json:"status,omitempty"`
	Since      *time.Time             `json:"since,omitempty"`
	Limit      int                    `json:"limit,omitempty"`
}

// RecordedEvent is an Event as stored in the execution log.
type RecordedEvent struct {
	schema.Event
	Sequence int64 `json:"sequence"`
}
