// Package feed carries the events the engine emits on session transitions and
// accepted check-ins. The engine only publishes; the Consumer side is for the
// display systems (dashboards, notification senders) that subscribe to the
// same Redis list from their own processes.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types published by the engine.
const (
	TypeSessionActivated = "session.activated"
	TypeSessionCompleted = "session.completed"
	TypeSessionCancelled = "session.cancelled"
	TypeAttendanceMarked = "attendance.marked"
)

// Event is one emitted fact.
type Event struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

// Publisher is the abstraction over different backends.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Consumer streams events for downstream display systems.
type Consumer interface {
	Consume(ctx context.Context) (<-chan Event, error)
}

// InMemory is a minimal channel-backed feed for dev/testing.
type InMemory struct {
	ch chan Event
}

// NewInMemory creates a bounded in-memory feed.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Event, size)}
}

// Publish enqueues an event; it drops when the buffer is full so a slow
// consumer never blocks a check-in.
func (f *InMemory) Publish(ctx context.Context, evt Event) error {
	select {
	case f.ch <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Consume returns a channel of events.
func (f *InMemory) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case evt := <-f.ch:
				out <- evt
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisFeed implements the feed on a Redis list.
type RedisFeed struct {
	client *redis.Client
	key    string
}

// NewRedisFeed builds a feed using LPUSH/BRPOP semantics.
func NewRedisFeed(client *redis.Client, key string) *RedisFeed {
	if key == "" {
		key = "classattend:events"
	}
	return &RedisFeed{client: client, key: key}
}

// Publish enqueues an event.
func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.client.LPush(ctx, f.key, payload).Err()
}

// Consume streams events using BRPOP.
func (f *RedisFeed) Consume(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			res, err := f.client.BRPop(ctx, 5*time.Second, f.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				var evt Event
				if err := json.Unmarshal([]byte(res[1]), &evt); err == nil {
					out <- evt
				}
			}
		}
	}()
	return out, nil
}
