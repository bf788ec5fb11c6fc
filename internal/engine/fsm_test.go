package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/internal/streaming"
	"github.com/rendis/tabflow/pkg/schema"
)

func TestExecutionTransitions(t *testing.T) {
	hub := streaming.NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), streaming.Filter{})
	require.NoError(t, err)
	defer cancel()

	fsm := NewExecutionFSM(hub)
	var hooked []schema.ExecutionStatus
	fsm.OnAfter(func(_ context.Context, _ *schema.Execution, _, to schema.ExecutionStatus) {
		hooked = append(hooked, to)
	})

	exec := &schema.Execution{ID: "e1", SessionID: "s1", Status: schema.ExecutionStatusRunning}
	fsm.Start(context.Background(), exec)
	require.NoError(t, fsm.Transition(context.Background(), exec, schema.ExecutionStatusPartial))
	assert.Equal(t, schema.ExecutionStatusPartial, exec.Status)
	assert.NotNil(t, exec.CompletedAt)
	assert.Equal(t, []schema.ExecutionStatus{schema.ExecutionStatusPartial}, hooked)

	err = fsm.Transition(context.Background(), exec, schema.ExecutionStatusCompleted)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidState))
	assert.Equal(t, schema.ExecutionStatusPartial, exec.Status)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{schema.EventExecutionStarted, schema.EventExecutionFinished}, types)
}

func TestExecutionFSMWithoutNotifier(t *testing.T) {
	exec := &schema.Execution{ID: "e1", Status: schema.ExecutionStatusRunning}
	require.NoError(t, NewExecutionFSM(nil).Transition(context.Background(), exec, schema.ExecutionStatusFailed))
	assert.WithinDuration(t, time.Now(), *exec.CompletedAt, time.Second)
}

func TestWorkflowTransitions(t *testing.T) {
	assert.True(t, CanTransitionWorkflow("", schema.WorkflowStatusExecuting))
	assert.True(t, CanTransitionWorkflow(schema.WorkflowStatusDraft, schema.WorkflowStatusExecuting))
	assert.True(t, CanTransitionWorkflow(schema.WorkflowStatusPartial, schema.WorkflowStatusExecuting))
	assert.True(t, CanTransitionWorkflow(schema.WorkflowStatusExecuting, schema.WorkflowStatusFailed))
	assert.False(t, CanTransitionWorkflow(schema.WorkflowStatusExecuting, schema.WorkflowStatusExecuting))
	assert.False(t, CanTransitionWorkflow(schema.WorkflowStatusReady, schema.WorkflowStatusCompleted))
}

func TestTerminalStatus(t *testing.T) {
	assert.Equal(t, schema.ExecutionStatusCompleted, terminalStatus(3, 3))
	assert.Equal(t, schema.ExecutionStatusPartial, terminalStatus(1, 3))
	assert.Equal(t, schema.ExecutionStatusFailed, terminalStatus(0, 3))
}
