package engine

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

// StepRunner executes one step and always returns a result.
type StepRunner interface {
	Execute(ctx context.Context, req dispatch.Request) *schema.StepResult
}

// ShadowStore persists shadow task records.
type ShadowStore interface {
	SaveShadowTask(ctx context.Context, task *schema.ShadowTask) error
}

// ShadowSnapshot counts tracked shadow tasks.
type ShadowSnapshot struct {
	Active    int `json:"active"`
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// DefaultShadowRetention is how many finished shadow tasks a Tracker keeps
// in memory.
const DefaultShadowRetention = 1000

// Tracker records shadow-flagged steps as tasks with their own lifecycle.
// Steps still run inline through the same runner as any other step.
// Finished tasks beyond the retention limit are dropped from memory oldest
// first; the store keeps their records.
type Tracker struct {
	runner StepRunner
	store  ShadowStore
	logger *slog.Logger

	mu       sync.RWMutex
	retain   int
	tasks    map[string]*schema.ShadowTask
	byExec   map[string][]string
	finished []string // finished task ids, oldest first
	counts   ShadowSnapshot
}

// NewTracker creates a Tracker. store may be nil.
func NewTracker(runner StepRunner, store ShadowStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		runner: runner,
		store:  store,
		logger: logging.OrDiscard(logger),
		retain: DefaultShadowRetention,
		tasks:  make(map[string]*schema.ShadowTask),
		byExec: make(map[string][]string),
	}
}

// SetRetention changes how many finished tasks stay in memory. n <= 0
// restores the default.
func (t *Tracker) SetRetention(n int) {
	if n <= 0 {
		n = DefaultShadowRetention
	}
	t.mu.Lock()
	t.retain = n
	t.evictLocked()
	t.mu.Unlock()
}

// Run registers a task for req.Step, executes it and records the outcome.
// It returns the task id alongside the step result.
func (t *Tracker) Run(ctx context.Context, req dispatch.Request) (*schema.StepResult, string) {
	task := &schema.ShadowTask{
		ID:          uuid.NewString(),
		ExecutionID: req.ExecutionID,
		StepID:      req.Step.ID,
		Status:      schema.ShadowStatusRunning,
		StartedAt:   time.Now().UTC(),
	}
	t.mu.Lock()
	t.tasks[task.ID] = task
	t.byExec[req.ExecutionID] = append(t.byExec[req.ExecutionID], task.ID)
	t.counts.Total++
	t.mu.Unlock()

	log := logging.LogWith(ctx, t.logger).With("task_id", task.ID)
	log.Debug("shadow task started")
	t.persist(ctx, task)

	res := t.runner.Execute(ctx, req)

	t.mu.Lock()
	now := time.Now().UTC()
	task.CompletedAt = &now
	task.Result = res.Payload
	if res.Completed() {
		task.Status = schema.ShadowStatusCompleted
		t.counts.Completed++
	} else {
		task.Status = schema.ShadowStatusFailed
		task.Error = res.Error
		t.counts.Failed++
	}
	final := cloneTask(task)
	t.finished = append(t.finished, task.ID)
	t.evictLocked()
	t.mu.Unlock()

	log.Debug("shadow task finished", "status", final.Status)
	t.persist(ctx, final)

	res.Shadow = true
	return res, task.ID
}

// persist is best-effort; the in-memory record stays authoritative.
func (t *Tracker) persist(ctx context.Context, task *schema.ShadowTask) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveShadowTask(ctx, task); err != nil {
		logging.LogWith(ctx, t.logger).Warn("persist shadow task failed", "task_id", task.ID, "error", err)
	}
}

// evictLocked drops the oldest finished tasks beyond the retention limit.
func (t *Tracker) evictLocked() {
	for len(t.finished) > t.retain {
		id := t.finished[0]
		t.finished = t.finished[1:]
		task, ok := t.tasks[id]
		if !ok {
			continue
		}
		delete(t.tasks, id)
		ids := slices.DeleteFunc(t.byExec[task.ExecutionID], func(v string) bool { return v == id })
		if len(ids) == 0 {
			delete(t.byExec, task.ExecutionID)
		} else {
			t.byExec[task.ExecutionID] = ids
		}
	}
}

// Snapshot counts every task the tracker has registered, including evicted ones.
func (t *Tracker) Snapshot() ShadowSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.counts
	s.Active = s.Total - s.Completed - s.Failed
	return s
}

// Held reports how many tasks are currently kept in memory.
func (t *Tracker) Held() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// Tasks returns copies of an execution's tasks in registration order.
func (t *Tracker) Tasks(executionID string) []*schema.ShadowTask {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.byExec[executionID]
	out := make([]*schema.ShadowTask, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneTask(t.tasks[id]))
	}
	return out
}

// Get returns a copy of one task.
func (t *Tracker) Get(taskID string) (*schema.ShadowTask, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	task, ok := t.tasks[taskID]
	if !ok {
		return nil, false
	}
	return cloneTask(task), true
}

func cloneTask(task *schema.ShadowTask) *schema.ShadowTask {
	c := *task
	c.Result = maps.Clone(task.Result)
	return &c
}
