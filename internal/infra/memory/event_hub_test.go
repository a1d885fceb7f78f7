package memory

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-service/internal/domain"
)

func TestEventHubRoutesByUser(t *testing.T) {
	hub := NewEventHub()
	ctx := context.Background()

	u1, cancel1, _ := hub.Subscribe(ctx, "u1")
	defer cancel1()
	u2, cancel2, _ := hub.Subscribe(ctx, "u2")
	defer cancel2()

	_ = hub.Publish(ctx, domain.Event{Type: domain.EventAttemptStarted, UserID: "u1", AttemptID: "a1"})

	select {
	case e := <-u1:
		if e.AttemptID != "a1" {
			t.Fatalf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatalf("u1 did not receive its event")
	}
	select {
	case e := <-u2:
		t.Fatalf("u2 received another user's event %+v", e)
	default:
	}
}

func TestEventHubDropsOldestForSlowSubscribers(t *testing.T) {
	hub := NewEventHub()
	ctx := context.Background()
	ch, cancel, _ := hub.Subscribe(ctx, "u1")
	defer cancel()

	for i := 0; i < 20; i++ {
		_ = hub.Publish(ctx, domain.Event{Type: domain.EventAttemptStarted, UserID: "u1", AttemptID: string(rune('a' + i))})
	}
	first := <-ch
	if first.AttemptID == "a" {
		t.Fatalf("expected oldest events dropped")
	}
}

func TestEventHubCancelClosesChannel(t *testing.T) {
	hub := NewEventHub()
	ch, cancel, _ := hub.Subscribe(context.Background(), "u1")
	if hub.SubscriberCount("u1") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if hub.SubscriberCount("u1") != 0 {
		t.Fatalf("expected no subscribers")
	}
}
