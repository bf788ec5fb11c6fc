// Package trigger runs stored workflows on cron schedules.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/tabflow/internal/logging"
	"github.com/rendis/tabflow/pkg/schema"
)

// DefaultInterval is how often due jobs are checked.
const DefaultInterval = 30 * time.Second

// Runner executes a stored workflow. The engine's Orchestrator satisfies it.
type Runner interface {
	ExecuteByID(ctx context.Context, workflowID, sessionID string) (*schema.ExecutionSummary, error)
}

// Job binds a cron expression to a stored workflow.
type Job struct {
	ID         string `json:"id" yaml:"id"`
	Cron       string `json:"cron" yaml:"cron"`
	WorkflowID string `json:"workflow" yaml:"workflow"`
	SessionID  string `json:"session,omitempty" yaml:"session,omitempty"`
}

// JobState is a job plus its run bookkeeping.
type JobState struct {
	Job
	NextRunAt       time.Time              `json:"next_run_at"`
	LastRunAt       *time.Time             `json:"last_run_at,omitempty"`
	LastStatus      schema.ExecutionStatus `json:"last_status,omitempty"`
	LastExecutionID string                 `json:"last_execution_id,omitempty"`
	LastError       string                 `json:"last_error,omitempty"`
	Runs            int                    `json:"runs"`
}

// Scheduler checks jobs on a ticker and runs the due ones. A job never
// overlaps with itself.
type Scheduler struct {
	runner   Runner
	parser   cron.Parser
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*JobState
	inflight map[string]struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a Scheduler. A non-positive interval uses DefaultInterval.
func NewScheduler(runner Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logging.OrDiscard(logger),
		jobs:     make(map[string]*JobState),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a job; its first run is the next cron match after now.
// An empty ID defaults to the workflow id.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		job.ID = job.WorkflowID
	}
	if job.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs a workflow id")
	}
	next, err := s.NextRun(job.Cron, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already registered", job.ID)
	}
	s.jobs[job.ID] = &JobState{Job: job, NextRunAt: next}
	return nil
}

// Remove unregisters a job. A run already in progress finishes.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Jobs returns copies of all job states ordered by id.
func (s *Scheduler) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// NextRun computes the first cron match strictly after from.
func (s *Scheduler) NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation, "parse cron expression %q: %v", expr, err).WithCause(err)
	}
	return sched.Next(from), nil
}

// Start launches the check loop. It checks once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("trigger scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("trigger scheduler started", "interval", s.interval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every due job that is not already running.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	s.mu.Lock()
	var due []Job
	for id, j := range s.jobs {
		if j.NextRunAt.After(now) {
			continue
		}
		if _, running := s.inflight[id]; running {
			continue
		}
		s.inflight[id] = struct{}{}
		due = append(due, j.Job)
	}
	s.mu.Unlock()

	for _, job := range due {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run(ctx, job, now)
		}()
	}
}

func (s *Scheduler) run(ctx context.Context, job Job, now time.Time) {
	defer s.release(job.ID)
	log := s.logger.With("schedule_id", job.ID, "workflow_id", job.WorkflowID)
	log.Info("running scheduled workflow")

	summary, err := s.runner.ExecuteByID(ctx, job.WorkflowID, job.SessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.jobs[job.ID]
	if !ok {
		return
	}
	state.Runs++
	state.LastRunAt = &now
	state.LastError = ""
	if summary != nil {
		state.LastStatus = summary.Status
		state.LastExecutionID = summary.ExecutionID
	} else {
		state.LastStatus = schema.ExecutionStatusFailed
		state.LastExecutionID = ""
	}
	if err != nil {
		state.LastError = err.Error()
		log.Error("scheduled workflow failed", "error", err)
	} else {
		log.Info("scheduled workflow finished", "status", summary.Status, "execution_id", summary.ExecutionID)
	}
	if next, nerr := s.NextRun(job.Cron, now); nerr == nil {
		state.NextRunAt = next
	}
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// Stop ends the loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	s.logger.Info("trigger scheduler stopped")
}
