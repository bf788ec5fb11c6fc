package store

import (
	"context"

	"github.com/rendis/tabflow/pkg/schema"
)

// Store is the persistence contract for workflows, executions and their
// side records. Implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	LoadWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error
	DeleteWorkflow(ctx context.Context, id string) error

	// Executions
	SaveExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error)

	// Shadow tasks
	SaveShadowTask(ctx context.Context, task *schema.ShadowTask) error
	ListShadowTasks(ctx context.Context, executionID string) ([]*schema.ShadowTask, error)

	// Stats
	UpdateWorkflowStats(ctx context.Context, workflowID string, summary *schema.ExecutionSummary) error
	GetWorkflowStats(ctx context.Context, workflowID string) (*schema.WorkflowStats, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Close() error
}
