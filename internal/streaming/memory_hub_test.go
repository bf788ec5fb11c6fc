package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/tabflow/pkg/schema"
)

func receive(t *testing.T, ch <-chan schema.Event) schema.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return schema.Event{}
}

func assertEmpty(t *testing.T, ch <-chan schema.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, "s1", schema.Event{Type: schema.EventProgress, ExecutionID: "e1", StepID: "a", Progress: 0.5}))

	got := receive(t, ch)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "a", got.StepID)
	assert.InDelta(t, 0.5, got.Progress, 0.0001)
}

func TestFilterBySessionAndType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{SessionID: "s1", EventTypes: []string{schema.EventError}})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, "s2", schema.Event{Type: schema.EventError}))
	require.NoError(t, hub.Publish(ctx, "s1", schema.Event{Type: schema.EventProgress}))
	require.NoError(t, hub.Publish(ctx, "s1", schema.Event{Type: schema.EventError, StepID: "x"}))

	assert.Equal(t, "x", receive(t, ch).StepID)
	assertEmpty(t, ch)
}

func TestFilterByExecution(t *testing.T) {
	f := Filter{ExecutionID: "e1"}
	assert.True(t, f.Match("any", schema.Event{ExecutionID: "e1"}))
	assert.False(t, f.Match("any", schema.Event{ExecutionID: "e2"}))
	assert.True(t, Filter{}.Match("s", schema.Event{}))
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	require.NoError(t, hub.Publish(ctx, "s1", schema.Event{Type: schema.EventProgress}))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+5; i++ {
		require.NoError(t, hub.Publish(ctx, "s1", schema.Event{Type: schema.EventProgress}))
	}
	assert.EqualValues(t, 5, hub.Dropped())
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hub.Publish(ctx, "s1", schema.Event{}), context.Canceled)

	_, _, err := hub.Subscribe(ctx, Filter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentPublish(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = hub.Publish(ctx, "s1", schema.Event{Type: schema.EventProgress})
		}()
	}
	wg.Wait()
	assert.Len(t, ch, 10)
}

type failing struct{ err error }

func (f failing) Publish(context.Context, string, schema.Event) error { return f.err }

func TestFanoutAndNop(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	ch, cancel, err := hub.Subscribe(ctx, Filter{})
	require.NoError(t, err)
	defer cancel()

	boom := errors.New("boom")
	err = Fanout{hub, nil, failing{boom}, Nop{}}.Publish(ctx, "s1", schema.Event{Type: schema.EventStepCompleted})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, schema.EventStepCompleted, receive(t, ch).Type)

	assert.NoError(t, OrNop(nil).Publish(ctx, "s", schema.Event{}))
	assert.Same(t, hub, OrNop(hub))
}

func TestRedisHubConfig(t *testing.T) {
	_, err := NewRedisHub("not a url")
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	hub, err := NewRedisHub("redis://localhost:6379/2")
	require.NoError(t, err)
	defer hub.Close()
	assert.Equal(t, "tabflow:session:s1", hub.Channel("s1"))
}
