package bridge

import (
	"fmt"
	"testing"
	"time"

	"github.com/vaultship/greenlight/internal/vault"
)

func event(kind EventKind, c vault.Compartment, name string, offset time.Duration) TaskEvent {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return TaskEvent{Kind: kind, Compartment: c, Name: name, Time: base.Add(offset)}
}

func receiveEvent(t *testing.T, sub Subscription) TaskEvent {
	t.Helper()
	select {
	case got, ok := <-sub.Events:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return TaskEvent{}
}

func TestRouterDeliversToCompartmentSubscriber(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe(string(vault.Inbox))
	defer sub.Close()

	router.Route(event(EventCreated, vault.Inbox, "a.md", 0))

	got := receiveEvent(t, sub)
	if got.Name != "a.md" || got.Kind != EventCreated {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestRouterDoesNotCrossCompartments(t *testing.T) {
	router := NewRouter()
	inbox := router.Subscribe(string(vault.Inbox))
	defer inbox.Close()

	router.Route(event(EventCreated, vault.PendingApproval, "b.md", 0))

	select {
	case got := <-inbox.Events:
		t.Fatalf("inbox subscriber received %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterBuffersUntilSubscription(t *testing.T) {
	router := NewRouter()
	router.Route(event(EventCreated, vault.Inbox, "early.md", 0))

	sub := router.Subscribe(string(vault.Inbox))
	defer sub.Close()

	got := receiveEvent(t, sub)
	if got.Name != "early.md" {
		t.Fatalf("expected buffered event, got %+v", got)
	}
}

func TestRouterBacklogDropsOldestAtLimit(t *testing.T) {
	router := NewRouter(RouterWithBacklogLimit(2))
	for i := 0; i < 3; i++ {
		router.Route(event(EventCreated, vault.Inbox, fmt.Sprintf("task-%d.md", i), time.Duration(i)*time.Second))
	}

	sub := router.Subscribe(string(vault.Inbox))
	defer sub.Close()

	first := receiveEvent(t, sub)
	if first.Name != "task-1.md" {
		t.Fatalf("expected oldest surviving event task-1.md, got %s", first.Name)
	}
	second := receiveEvent(t, sub)
	if second.Name != "task-2.md" {
		t.Fatalf("expected task-2.md, got %s", second.Name)
	}
}

func TestRouterDeduplicatesRepeatedEvents(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe(string(vault.Inbox))
	defer sub.Close()

	same := event(EventCreated, vault.Inbox, "dup.md", 0)
	router.Route(same)
	router.Route(same)
	router.Route(event(EventUpdated, vault.Inbox, "dup.md", 0))

	receiveEvent(t, sub)
	got := receiveEvent(t, sub)
	if got.Kind != EventUpdated {
		t.Fatalf("expected the updated event second, got %+v", got)
	}
	select {
	case extra := <-sub.Events:
		t.Fatalf("duplicate delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRouterKeepsCreatedEventsUnderPressure(t *testing.T) {
	router := NewRouter(RouterWithSubscriberCapacity(1))
	sub := router.Subscribe(string(vault.Inbox))
	defer sub.Close()

	router.Route(event(EventCreated, vault.Inbox, "keep.md", 0))
	router.Route(event(EventUpdated, vault.Inbox, "discard.md", time.Second))

	got := receiveEvent(t, sub)
	if got.Name != "keep.md" {
		t.Fatalf("created event should survive overflow, got %+v", got)
	}
}

func TestRouterClosedSubscriptionStopsDelivery(t *testing.T) {
	router := NewRouter()
	sub := router.Subscribe(string(vault.Inbox))
	sub.Close()

	// Must not panic on a closed channel.
	router.Route(event(EventCreated, vault.Inbox, "late.md", 0))
}
