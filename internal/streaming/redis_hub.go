package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"

	"github.com/rendis/tabflow/pkg/schema"
)

// DefaultChannelPrefix namespaces the pub/sub channels, one per session.
const DefaultChannelPrefix = "tabflow:session:"

// RedisHub publishes events as JSON on a per-session Redis pub/sub channel.
type RedisHub struct {
	client *redis.Client
	prefix string
}

// NewRedisHub connects to the redis:// URL. The connection is lazy; the
// first Publish surfaces connectivity errors.
func NewRedisHub(url string) (*RedisHub, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid redis url: %v", err).WithCause(err)
	}
	return NewRedisHubWithClient(redis.NewClient(opts), ""), nil
}

func NewRedisHubWithClient(client *redis.Client, prefix string) *RedisHub {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &RedisHub{client: client, prefix: prefix}
}

// Channel returns the pub/sub channel for a session.
func (h *RedisHub) Channel(sessionID string) string {
	return h.prefix + sessionID
}

func (h *RedisHub) Publish(ctx context.Context, sessionID string, event schema.Event) error {
	if event.SessionID == "" {
		event.SessionID = sessionID
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := h.client.Publish(ctx, h.Channel(sessionID), raw).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", h.Channel(sessionID), err)
	}
	return nil
}

// Subscribe streams events for sessions matching the filter. An empty
// SessionID subscribes to every session through a pattern subscription.
func (h *RedisHub) Subscribe(ctx context.Context, filter Filter) (<-chan schema.Event, func(), error) {
	var ps *redis.PubSub
	if filter.SessionID != "" {
		ps = h.client.Subscribe(ctx, h.Channel(filter.SessionID))
	} else {
		ps = h.client.PSubscribe(ctx, h.prefix+"*")
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan schema.Event, defaultChannelBuffer)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var ev schema.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			session := strings.TrimPrefix(msg.Channel, h.prefix)
			if !filter.Match(session, ev) {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}()
	return out, func() { _ = ps.Close() }, nil
}

func (h *RedisHub) Close() error { return h.client.Close() }
