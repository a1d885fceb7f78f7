package redis

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"quiz-attempt-service/internal/domain"
)

// EventBus publishes domain events on a per-user Redis channel so every service
// instance can stream them, not only the one that handled the mutation.
type EventBus struct {
	client *redis.Client
	prefix string
}

func NewEventBus(client *redis.Client) *EventBus {
	return &EventBus{client: client, prefix: "quiz:events:"}
}

func (b *EventBus) Publish(ctx context.Context, events ...domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := b.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, b.channel(e.UserID), data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Subscribe returns a channel of the user's events once the subscription is
// confirmed. The caller must invoke the returned cancel function.
func (b *EventBus) Subscribe(ctx context.Context, userID string) (<-chan domain.Event, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	out := make(chan domain.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					continue
				}
				select {
				case out <- e:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}
	return out, cancel, nil
}

func (b *EventBus) channel(userID string) string {
	return b.prefix + userID
}
