// Package testbus provides test utilities for the event bus.
// It wraps a real EventBus with event recording and assertion helpers.
package testbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/colonyops/inbox/internal/core/eventbus"
)

// RecordedEvent holds a captured event name and payload.
type RecordedEvent struct {
	Event   eventbus.Event
	Payload any
}

// Bus wraps a real EventBus with event recording for tests.
type Bus struct {
	*eventbus.EventBus

	mu     sync.Mutex
	events []RecordedEvent
}

// New creates a test bus, starts it in a background goroutine, and
// records every event type. The bus is stopped when the test completes.
func New(t *testing.T) *Bus {
	t.Helper()

	bus := eventbus.New(256)
	ctx, cancel := context.WithCancel(context.Background())

	tb := &Bus{EventBus: bus}

	bus.SubscribeConfigReloaded(func(p eventbus.ConfigReloadedPayload) {
		tb.record(eventbus.EventConfigReloaded, p)
	})
	bus.SubscribeConnectivityChanged(func(p eventbus.ConnectivityChangedPayload) {
		tb.record(eventbus.EventConnectivityChanged, p)
	})
	bus.SubscribeInboxChanged(func(p eventbus.InboxChangedPayload) {
		tb.record(eventbus.EventInboxChanged, p)
	})
	bus.SubscribeNoticePublished(func(p eventbus.NoticePublishedPayload) {
		tb.record(eventbus.EventNoticePublished, p)
	})
	bus.SubscribePushReceived(func(p eventbus.PushReceivedPayload) {
		tb.record(eventbus.EventPushReceived, p)
	})
	bus.SubscribeSessionChanged(func(p eventbus.SessionChangedPayload) {
		tb.record(eventbus.EventSessionChanged, p)
	})

	go bus.Start(ctx)
	t.Cleanup(cancel)

	return tb
}

func (tb *Bus) record(event eventbus.Event, payload any) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = append(tb.events, RecordedEvent{Event: event, Payload: payload})
}

// Events returns a copy of all recorded events.
func (tb *Bus) Events() []RecordedEvent {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]RecordedEvent, len(tb.events))
	copy(out, tb.events)
	return out
}

// Of returns the payloads recorded for one event, oldest first.
func (tb *Bus) Of(event eventbus.Event) []any {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	var out []any
	for _, e := range tb.events {
		if e.Event == event {
			out = append(out, e.Payload)
		}
	}
	return out
}

// Reset clears all recorded events.
func (tb *Bus) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.events = nil
}

// WaitFor blocks until an event of the given type is recorded or the timeout expires.
// Returns true if the event was found.
func (tb *Bus) WaitFor(event eventbus.Event, timeout time.Duration) bool {
	return tb.WaitForCount(event, 1, timeout)
}

// WaitForCount blocks until at least n events of the given type are recorded.
func (tb *Bus) WaitForCount(event eventbus.Event, n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if len(tb.Of(event)) >= n {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

// AssertPublished asserts that an event of the given type was recorded.
func (tb *Bus) AssertPublished(t *testing.T, event eventbus.Event) {
	t.Helper()
	if !tb.WaitFor(event, 500*time.Millisecond) {
		t.Errorf("expected event %q to be published, but it was not", event)
	}
}

// AssertNotPublished asserts that an event of the given type was NOT recorded
// within the given wait period.
func (tb *Bus) AssertNotPublished(t *testing.T, event eventbus.Event, wait time.Duration) {
	t.Helper()
	time.Sleep(wait)
	if len(tb.Of(event)) > 0 {
		t.Errorf("expected event %q to NOT be published, but it was", event)
	}
}
