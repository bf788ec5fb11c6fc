package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rendis/tabflow/pkg/schema"
)

// EventLog persists execution events in an append-only table. It satisfies
// the notifier contract so it can sit beside live hubs.
type EventLog struct {
	store *LibSQLStore
}

func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// Publish appends the event with the next per-execution sequence number.
func (el *EventLog) Publish(ctx context.Context, sessionID string, event schema.Event) error {
	if event.ExecutionID == "" {
		return schema.NewError(schema.ErrCodeValidation, "event has no execution id")
	}
	if event.SessionID == "" {
		event.SessionID = sessionID
	}
	result, err := jsonOrNull(event.Result, event.Result == nil)
	if err != nil {
		return fmt.Errorf("marshal event result: %w", err)
	}
	evErr, err := jsonOrNull(event.Error, event.Error == nil)
	if err != nil {
		return fmt.Errorf("marshal event error: %w", err)
	}

	tx, err := el.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO execution_events (execution_id, sequence, event_type, session_id, step_id, progress, result, error, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, seq, event.Type, nullStr(event.SessionID), nullStr(event.StepID), event.Progress,
		result, evErr, timeOrNow(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Events returns the execution's events with sequence > since, in order.
func (el *EventLog) Events(ctx context.Context, executionID string, since int64) ([]*RecordedEvent, error) {
	rows, err := el.store.DB().QueryContext(ctx,
		`SELECT sequence, event_type, session_id, step_id, progress, result, error, timestamp
		 FROM execution_events WHERE execution_id = ? AND sequence > ? ORDER BY sequence`, executionID, since)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*RecordedEvent
	for rows.Next() {
		ev := &RecordedEvent{}
		ev.ExecutionID = executionID
		var (
			session, step  sql.NullString
			result, errRaw sql.NullString
		)
		if err := rows.Scan(&ev.Sequence, &ev.Type, &session, &step, &ev.Progress, &result, &errRaw, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.SessionID, ev.StepID = session.String, step.String
		if result.Valid && result.String != "" {
			ev.Result = &schema.StepResult{}
			if err := json.Unmarshal([]byte(result.String), ev.Result); err != nil {
				return nil, fmt.Errorf("decode event result: %w", err)
			}
		}
		if errRaw.Valid && errRaw.String != "" {
			ev.Error = &schema.FlowError{}
			if err := json.Unmarshal([]byte(errRaw.String), ev.Error); err != nil {
				return nil, fmt.Errorf("decode event error: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Replay rebuilds the step results of an execution from its progress
// events. A gap in the sequence is reported as a StoreError.
func (el *EventLog) Replay(ctx context.Context, executionID string) (map[string]*schema.StepResult, error) {
	events, err := el.Events(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("events for replay: %w", err)
	}
	results := make(map[string]*schema.StepResult)
	for i, ev := range events {
		if want := int64(i + 1); ev.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in execution %s: expected %d, got %d", executionID, want, ev.Sequence)
		}
		if ev.Type == schema.EventProgress && ev.Result != nil && ev.StepID != "" {
			results[ev.StepID] = ev.Result
		}
	}
	return results, nil
}
