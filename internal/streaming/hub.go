package streaming

import (
	"context"
	"errors"
	"slices"

	"github.com/rendis/tabflow/pkg/schema"
)

// Notifier receives execution progress for a browser session.
type Notifier interface {
	Publish(ctx context.Context, sessionID string, event schema.Event) error
}

// Filter selects the events a subscriber receives. Empty fields match all.
type Filter struct {
	SessionID   string   `json:"session_id,omitempty"`
	ExecutionID string   `json:"execution_id,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`
}

// Match reports whether an event published for sessionID passes the filter.
func (f Filter) Match(sessionID string, e schema.Event) bool {
	if f.SessionID != "" && f.SessionID != sessionID {
		return false
	}
	if f.ExecutionID != "" && f.ExecutionID != e.ExecutionID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.Type)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, schema.Event) error { return nil }

// Fanout publishes to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, sessionID string, event schema.Event) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Publish(ctx, sessionID, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrNop returns n, or Nop when n is nil.
func OrNop(n Notifier) Notifier {
	if n == nil {
		return Nop{}
	}
	return n
}
