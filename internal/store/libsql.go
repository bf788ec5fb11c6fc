package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/tabflow/pkg/schema"
)

// LibSQLStore implements Store on an embedded libSQL database.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens the database at dbPath, a file URI such as
// "file:/var/lib/tabflow/tabflow.db". Call Migrate before first use.
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return a row, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	} {
		var ignored string
		_ = db.QueryRow(p).Scan(&ignored)
	}
	return &LibSQLStore{db: db}, nil
}

func (s *LibSQLStore) DB() *sql.DB { return s.db }

func (s *LibSQLStore) Close() error { return s.db.Close() }

func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

// SaveWorkflow inserts or replaces a workflow definition. An empty status is
// stored as ready.
func (s *LibSQLStore) SaveWorkflow(ctx context.Context, wf *schema.Workflow) error {
	if wf == nil || wf.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow id is required")
	}
	status := wf.Status
	if status == "" {
		status = schema.WorkflowStatusReady
	}
	def, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, title, strategy, status, definition, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title, strategy=excluded.strategy,
		   status=excluded.status, definition=excluded.definition, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Title), string(wf.EffectiveStrategy()), string(status), string(def), now, now,
	)
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// LoadWorkflow returns the stored workflow with its current status.
func (s *LibSQLStore) LoadWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	var def, status string
	err := s.db.QueryRowContext(ctx, `SELECT definition, status FROM workflows WHERE id = ?`, id).Scan(&def, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", id, err)
	}
	return decodeWorkflow(def, status)
}

func decodeWorkflow(def, status string) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	if err := json.Unmarshal([]byte(def), wf); err != nil {
		return nil, fmt.Errorf("decode workflow definition: %w", err)
	}
	wf.Status = schema.WorkflowStatus(status)
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	query := `SELECT definition, status FROM workflows`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC, id`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []*schema.Workflow
	for rows.Next() {
		var def, status string
		if err := rows.Scan(&def, &status); err != nil {
			return nil, err
		}
		wf, err := decodeWorkflow(def, status)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) UpdateWorkflowStatus(ctx context.Context, id string, status schema.WorkflowStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`, string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update workflow status: %w", err)
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if err := checkRowsAffected(res, "workflow", id); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM workflow_stats WHERE workflow_id = ?`, id)
	return err
}

// --- Executions ---

// SaveExecution upserts the execution row and replaces its step results in
// one transaction.
func (s *LibSQLStore) SaveExecution(ctx context.Context, exec *schema.Execution) error {
	if exec == nil || exec.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "execution id is required")
	}
	shadowIDs, err := jsonOrNull(exec.ShadowTaskIDs, len(exec.ShadowTaskIDs) == 0)
	if err != nil {
		return fmt.Errorf("marshal shadow task ids: %w", err)
	}
	execErr, err := jsonOrNull(exec.Error, exec.Error == nil)
	if err != nil {
		return fmt.Errorf("marshal execution error: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO executions (id, workflow_id, session_id, status, steps_completed, total_steps, shadow_task_ids, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, steps_completed=excluded.steps_completed,
		   total_steps=excluded.total_steps, shadow_task_ids=excluded.shadow_task_ids, error=excluded.error,
		   completed_at=excluded.completed_at`,
		exec.ID, exec.WorkflowID, exec.SessionID, string(exec.Status), exec.StepsCompleted, exec.TotalSteps,
		shadowIDs, execErr, timeOrNow(exec.StartedAt), nullTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", exec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM step_results WHERE execution_id = ?`, exec.ID); err != nil {
		return fmt.Errorf("clear step results: %w", err)
	}
	for id, r := range exec.Results {
		if r == nil {
			continue
		}
		payload, err := jsonOrNull(r.Payload, r.Payload == nil)
		if err != nil {
			return fmt.Errorf("marshal payload of %s: %w", id, err)
		}
		stepErr, err := jsonOrNull(r.Error, r.Error == nil)
		if err != nil {
			return fmt.Errorf("marshal error of %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results (execution_id, step_id, status, payload, error, attempts, duration_ms, shadow, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			exec.ID, id, string(r.Status), payload, stepErr, r.Attempts, r.DurationMs, boolInt(r.Shadow), timeOrNow(r.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("insert step result %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit execution %s: %w", exec.ID, err)
	}
	return nil
}

const executionColumns = `id, workflow_id, session_id, status, steps_completed, total_steps, shadow_task_ids, error, started_at, completed_at`

func scanExecution(row interface{ Scan(...any) error }) (*schema.Execution, error) {
	e := &schema.Execution{}
	var (
		status            string
		shadowIDs, errRaw sql.NullString
		completedAt       sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.WorkflowID, &e.SessionID, &status, &e.StepsCompleted, &e.TotalSteps,
		&shadowIDs, &errRaw, &e.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	e.Status = schema.ExecutionStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if err := decodeNullable(shadowIDs, &e.ShadowTaskIDs); err != nil {
		return nil, err
	}
	if errRaw.Valid && errRaw.String != "" {
		e.Error = &schema.FlowError{}
		if err := json.Unmarshal([]byte(errRaw.String), e.Error); err != nil {
			return nil, fmt.Errorf("decode execution error: %w", err)
		}
	}
	return e, nil
}

// GetExecution returns the execution with its step results.
func (s *LibSQLStore) GetExecution(ctx context.Context, id string) (*schema.Execution, error) {
	e, err := scanExecution(s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("execution", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, status, payload, error, attempts, duration_ms, shadow, timestamp
		 FROM step_results WHERE execution_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get step results: %w", err)
	}
	defer rows.Close()

	e.Results = make(map[string]*schema.StepResult)
	for rows.Next() {
		r := &schema.StepResult{}
		var (
			status          string
			payload, errRaw sql.NullString
			shadow          int
		)
		if err := rows.Scan(&r.StepID, &status, &payload, &errRaw, &r.Attempts, &r.DurationMs, &shadow, &r.Timestamp); err != nil {
			return nil, err
		}
		r.Status = schema.StepStatus(status)
		r.Shadow = shadow != 0
		if err := decodeNullable(payload, &r.Payload); err != nil {
			return nil, err
		}
		if errRaw.Valid && errRaw.String != "" {
			r.Error = &schema.FlowError{}
			if err := json.Unmarshal([]byte(errRaw.String), r.Error); err != nil {
				return nil, fmt.Errorf("decode step error: %w", err)
			}
		}
		e.Results[r.StepID] = r
	}
	return e, rows.Err()
}

func (s *LibSQLStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*schema.Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id`
	query, args = paginate(query, args, filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*schema.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Shadow tasks ---

func (s *LibSQLStore) SaveShadowTask(ctx context.Context, task *schema.ShadowTask) error {
	result, err := jsonOrNull(task.Result, task.Result == nil)
	if err != nil {
		return fmt.Errorf("marshal shadow result: %w", err)
	}
	taskErr, err := jsonOrNull(task.Error, task.Error == nil)
	if err != nil {
		return fmt.Errorf("marshal shadow error: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO shadow_tasks (id, execution_id, step_id, status, result, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status=excluded.status, result=excluded.result,
		   error=excluded.error, completed_at=excluded.completed_at`,
		task.ID, task.ExecutionID, task.StepID, string(task.Status), result, taskErr,
		timeOrNow(task.StartedAt), nullTime(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save shadow task %s: %w", task.ID, err)
	}
	return nil
}

func (s *LibSQLStore) ListShadowTasks(ctx context.Context, executionID string) ([]*schema.ShadowTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, step_id, status, result, error, started_at, completed_at
		 FROM shadow_tasks WHERE execution_id = ? ORDER BY started_at, id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list shadow tasks: %w", err)
	}
	defer rows.Close()

	var out []*schema.ShadowTask
	for rows.Next() {
		t := &schema.ShadowTask{}
		var (
			status         string
			result, errRaw sql.NullString
			completedAt    sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.ExecutionID, &t.StepID, &status, &result, &errRaw, &t.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		t.Status = schema.ShadowStatus(status)
		if completedAt.Valid {
			ts := completedAt.Time
			t.CompletedAt = &ts
		}
		if err := decodeNullable(result, &t.Result); err != nil {
			return nil, err
		}
		if errRaw.Valid && errRaw.String != "" {
			t.Error = &schema.FlowError{}
			if err := json.Unmarshal([]byte(errRaw.String), t.Error); err != nil {
				return nil, fmt.Errorf("decode shadow error: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Stats ---

// UpdateWorkflowStats folds one execution summary into the workflow's
// counters and moves a stored workflow to the matching terminal status.
func (s *LibSQLStore) UpdateWorkflowStats(ctx context.Context, workflowID string, summary *schema.ExecutionSummary) error {
	if summary == nil {
		return schema.NewError(schema.ErrCodeValidation, "summary is nil")
	}
	var completed, partial, failed int
	switch summary.Status {
	case schema.ExecutionStatusCompleted:
		completed = 1
	case schema.ExecutionStatusPartial:
		partial = 1
	case schema.ExecutionStatusFailed:
		failed = 1
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO workflow_stats (workflow_id, runs, completed, partial, failed, last_status, last_elapsed_ms, last_executed_at)
		 VALUES (?, 1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET
		   runs = runs + 1,
		   completed = completed + excluded.completed,
		   partial = partial + excluded.partial,
		   failed = failed + excluded.failed,
		   last_status = excluded.last_status,
		   last_elapsed_ms = excluded.last_elapsed_ms,
		   last_executed_at = excluded.last_executed_at`,
		workflowID, completed, partial, failed, string(summary.Status), summary.ElapsedMs, now,
	)
	if err != nil {
		return fmt.Errorf("update stats for %s: %w", workflowID, err)
	}
	if summary.Status != schema.ExecutionStatusRunning {
		if _, err := tx.ExecContext(ctx, `UPDATE workflows SET status = ?, updated_at = ? WHERE id = ?`,
			string(summary.Status), now, workflowID); err != nil {
			return fmt.Errorf("update workflow status: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stats: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetWorkflowStats(ctx context.Context, workflowID string) (*schema.WorkflowStats, error) {
	st := &schema.WorkflowStats{}
	var (
		lastStatus sql.NullString
		lastAt     sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT workflow_id, runs, completed, partial, failed, last_status, last_elapsed_ms, last_executed_at
		 FROM workflow_stats WHERE workflow_id = ?`, workflowID,
	).Scan(&st.WorkflowID, &st.Runs, &st.Completed, &st.Partial, &st.Failed, &lastStatus, &st.LastElapsedMs, &lastAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("workflow stats", workflowID)
	}
	if err != nil {
		return nil, fmt.Errorf("get stats for %s: %w", workflowID, err)
	}
	st.LastStatus = schema.ExecutionStatus(lastStatus.String)
	if lastAt.Valid {
		t := lastAt.Time
		st.LastExecutedAt = &t
	}
	return st, nil
}

// --- helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
		if offset > 0 {
			query += ` OFFSET ?`
			args = append(args, offset)
		}
	}
	return query, args
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// jsonOrNull encodes v, or returns SQL NULL when empty is true.
func jsonOrNull(v any, empty bool) (any, error) {
	if empty {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeNullable(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(ns.String), dst); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	return nil
}
