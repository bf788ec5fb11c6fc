package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rendis/tabflow/internal/dispatch"
	"github.com/rendis/tabflow/pkg/schema"
)

// fakeRunner completes every step unless a behavior says otherwise, and
// records when each step started and finished.
type fakeRunner struct {
	mu       sync.Mutex
	behavior map[string]func(ctx context.Context, req dispatch.Request) *schema.StepResult
	started  map[string]time.Time
	finished map[string]time.Time
	order    []string
	priors   map[string][]string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		behavior: map[string]func(context.Context, dispatch.Request) *schema.StepResult{},
		started:  map[string]time.Time{},
		finished: map[string]time.Time{},
		priors:   map[string][]string{},
	}
}

func (f *fakeRunner) on(id string, fn func(ctx context.Context, req dispatch.Request) *schema.StepResult) *fakeRunner {
	f.behavior[id] = fn
	return f
}

func (f *fakeRunner) fail(id string) *fakeRunner {
	return f.on(id, func(context.Context, dispatch.Request) *schema.StepResult {
		return failed(id, schema.ErrCodeHandler)
	})
}

func (f *fakeRunner) Execute(ctx context.Context, req dispatch.Request) *schema.StepResult {
	id := req.Step.ID
	f.mu.Lock()
	f.started[id] = time.Now()
	f.order = append(f.order, id)
	for pid := range req.Prior {
		f.priors[id] = append(f.priors[id], pid)
	}
	fn := f.behavior[id]
	f.mu.Unlock()

	var res *schema.StepResult
	if fn != nil {
		res = fn(ctx, req)
	} else {
		res = &schema.StepResult{StepID: id, Status: schema.StepStatusCompleted, Payload: map[string]any{"step": id}, Attempts: 1}
	}
	res.Timestamp = time.Now().UTC()

	f.mu.Lock()
	f.finished[id] = time.Now()
	f.mu.Unlock()
	return res
}

func (f *fakeRunner) ran(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.started[id]
	return ok
}

func failed(id, code string) *schema.StepResult {
	return &schema.StepResult{StepID: id, Status: schema.StepStatusFailed, Error: schema.NewError(code, "failed").WithStep(id), Attempts: 1}
}

type fakeStore struct {
	mu         sync.Mutex
	workflows  map[string]*schema.Workflow
	executions []*schema.Execution
	stats      map[string][]schema.ExecutionStatus
	statuses   map[string][]schema.WorkflowStatus
	shadow     []*schema.ShadowTask
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		workflows: map[string]*schema.Workflow{},
		stats:     map[string][]schema.ExecutionStatus{},
		statuses:  map[string][]schema.WorkflowStatus{},
	}
}

func (s *fakeStore) SaveExecution(_ context.Context, exec *schema.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, exec)
	return nil
}

func (s *fakeStore) LoadWorkflow(_ context.Context, id string) (*schema.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (s *fakeStore) UpdateWorkflowStats(_ context.Context, id string, summary *schema.ExecutionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[id] = append(s.stats[id], summary.Status)
	return nil
}

func (s *fakeStore) UpdateWorkflowStatus(_ context.Context, id string, status schema.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fakeStore) SaveShadowTask(_ context.Context, task *schema.ShadowTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *task
	s.shadow = append(s.shadow, &c)
	return nil
}
