package streaming

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rendis/tabflow/pkg/schema"
)

const defaultChannelBuffer = 64

type subscriber struct {
	ch     chan schema.Event
	filter Filter
}

// MemoryHub fans events out to in-process subscribers over buffered channels.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscriber)}
}

// Publish never blocks: a subscriber with a full buffer misses the event.
func (h *MemoryHub) Publish(ctx context.Context, sessionID string, event schema.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.SessionID == "" {
		event.SessionID = sessionID
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.Match(sessionID, event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel func
// removes it and closes the channel; it is safe to call more than once.
func (h *MemoryHub) Subscribe(ctx context.Context, filter Filter) (<-chan schema.Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan schema.Event, defaultChannelBuffer)
	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }
