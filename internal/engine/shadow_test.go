package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/pkg/schema"
)

func TestTrackerRun(t *testing.T) {
	runner := newFakeRunner().fail("bad")
	store := newFakeStore()
	tr := NewTracker(runner, store, nil)
	ctx := context.Background()

	good := schema.Step{ID: "good", Shadow: true}
	res, id := tr.Run(ctx, dispatch.Request{ExecutionID: "e1", Step: &good})
	require.True(t, res.Completed())
	assert.True(t, res.Shadow)
	assert.NotEmpty(t, id)

	bad := schema.Step{ID: "bad", Shadow: true}
	res, _ = tr.Run(ctx, dispatch.Request{ExecutionID: "e1", Step: &bad})
	assert.Equal(t, schema.StepStatusFailed, res.Status)

	_, _ = tr.Run(ctx, dispatch.Request{ExecutionID: "e2", Step: &good})

	tasks := tr.Tasks("e1")
	require.Len(t, tasks, 2)
	assert.Equal(t, "good", tasks[0].StepID)
	assert.Equal(t, schema.ShadowStatusCompleted, tasks[0].Status)
	assert.Equal(t, "good", tasks[0].Result["step"])
	assert.Equal(t, schema.ShadowStatusFailed, tasks[1].Status)
	require.NotNil(t, tasks[1].Error)
	assert.NotNil(t, tasks[1].CompletedAt)

	assert.Equal(t, ShadowSnapshot{Total: 3, Completed: 2, Failed: 1}, tr.Snapshot())

	got, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, "e1", got.ExecutionID)
	_, ok = tr.Get("missing")
	assert.False(t, ok)

	// Each task is saved when registered and again when finished.
	assert.Len(t, store.shadow, 6)
	assert.Equal(t, schema.ShadowStatusRunning, store.shadow[0].Status)
	assert.Equal(t, schema.ShadowStatusCompleted, store.shadow[1].Status)
}

func TestTrackerTasksAreCopies(t *testing.T) {
	tr := NewTracker(newFakeRunner(), nil, nil)
	s := schema.Step{ID: "a", Shadow: true}
	_, _ = tr.Run(context.Background(), dispatch.Request{ExecutionID: "e", Step: &s})

	tasks := tr.Tasks("e")
	tasks[0].Status = schema.ShadowStatusFailed
	tasks[0].Result["step"] = "mutated"

	again := tr.Tasks("e")
	assert.Equal(t, schema.ShadowStatusCompleted, again[0].Status)
	assert.Equal(t, "a", again[0].Result["step"])
	assert.Empty(t, tr.Tasks("unknown"))
}

func TestTrackerEvictsOldestFinished(t *testing.T) {
	store := newFakeStore()
	tr := NewTracker(newFakeRunner(), store, nil)
	tr.SetRetention(2)
	ctx := context.Background()

	s := schema.Step{ID: "s", Shadow: true}
	_, first := tr.Run(ctx, dispatch.Request{ExecutionID: "e1", Step: &s})
	_, second := tr.Run(ctx, dispatch.Request{ExecutionID: "e2", Step: &s})
	_, third := tr.Run(ctx, dispatch.Request{ExecutionID: "e2", Step: &s})

	assert.Equal(t, 2, tr.Held())
	_, ok := tr.Get(first)
	assert.False(t, ok)
	assert.Empty(t, tr.Tasks("e1"))
	for _, id := range []string{second, third} {
		_, ok := tr.Get(id)
		assert.True(t, ok)
	}
	assert.Len(t, tr.Tasks("e2"), 2)

	// Counters and the store still cover the evicted task.
	assert.Equal(t, ShadowSnapshot{Total: 3, Completed: 3}, tr.Snapshot())
	assert.Len(t, store.shadow, 6)

	tr.SetRetention(1)
	assert.Equal(t, 1, tr.Held())
	assert.Len(t, tr.Tasks("e2"), 1)
}
