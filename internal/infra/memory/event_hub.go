package memory

import (
	"context"
	"sync"

	"quiz-attempt-service/internal/domain"
)

// EventHub fans domain events out to in-process subscribers, keyed by user.
// It implements app.EventPublisher.
type EventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan domain.Event]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{subscribers: make(map[string]map[chan domain.Event]struct{})}
}

// Publish delivers each event to the subscribers of its user. Slow subscribers
// lose their oldest pending event rather than blocking the publisher.
func (h *EventHub) Publish(_ context.Context, events ...domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range events {
		for ch := range h.subscribers[e.UserID] {
			select {
			case ch <- e:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- e:
				default:
				}
			}
		}
	}
	return nil
}

// Subscribe returns a channel of the user's events.
// The caller must invoke the returned cancel function to avoid leaks.
func (h *EventHub) Subscribe(_ context.Context, userID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, 16)

	h.mu.Lock()
	subs, ok := h.subscribers[userID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		h.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.subscribers[userID]
		if !ok {
			return
		}
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	return ch, cancel, nil
}

// SubscriberCount reports the active subscriptions for a user.
func (h *EventHub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}
