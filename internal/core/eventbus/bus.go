package eventbus

import (
	"context"
	"sync"
)

type envelope struct {
	event   Event
	payload any
}

// EventBus is an asynchronous bus. Publish never blocks: events go into a
// buffered channel and a single dispatch loop started by Start delivers them
// to subscribers in publish order. A full buffer drops the event.
type EventBus struct {
	ch    chan envelope
	hooks hooks

	mu   sync.RWMutex
	subs map[Event][]func(any)
}

// New creates a bus with the given buffer size.
func New(buffer int) *EventBus {
	if buffer < 1 {
		buffer = 1
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start runs the dispatch loop until ctx is cancelled.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	handlers := make([]func(any), len(bus.subs[env.event]))
	copy(handlers, bus.subs[env.event])
	bus.mu.RUnlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					bus.runOnPanic(env.event, env.payload, r)
				}
			}()
			fn(env.payload)
		}()
	}
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
	bus.runOnSubscribe(event)
}

// PublishConfigReloaded publishes EventConfigReloaded.
func (bus *EventBus) PublishConfigReloaded(p ConfigReloadedPayload) {
	bus.send(EventConfigReloaded, p)
}

// SubscribeConfigReloaded registers fn for EventConfigReloaded.
func (bus *EventBus) SubscribeConfigReloaded(fn func(ConfigReloadedPayload)) {
	bus.subscribe(EventConfigReloaded, func(p any) { fn(p.(ConfigReloadedPayload)) })
}

// PublishConnectivityChanged publishes EventConnectivityChanged.
func (bus *EventBus) PublishConnectivityChanged(p ConnectivityChangedPayload) {
	bus.send(EventConnectivityChanged, p)
}

// SubscribeConnectivityChanged registers fn for EventConnectivityChanged.
func (bus *EventBus) SubscribeConnectivityChanged(fn func(ConnectivityChangedPayload)) {
	bus.subscribe(EventConnectivityChanged, func(p any) { fn(p.(ConnectivityChangedPayload)) })
}

// PublishInboxChanged publishes EventInboxChanged.
func (bus *EventBus) PublishInboxChanged(p InboxChangedPayload) {
	bus.send(EventInboxChanged, p)
}

// SubscribeInboxChanged registers fn for EventInboxChanged.
func (bus *EventBus) SubscribeInboxChanged(fn func(InboxChangedPayload)) {
	bus.subscribe(EventInboxChanged, func(p any) { fn(p.(InboxChangedPayload)) })
}

// PublishNoticePublished publishes EventNoticePublished.
func (bus *EventBus) PublishNoticePublished(p NoticePublishedPayload) {
	bus.send(EventNoticePublished, p)
}

// SubscribeNoticePublished registers fn for EventNoticePublished.
func (bus *EventBus) SubscribeNoticePublished(fn func(NoticePublishedPayload)) {
	bus.subscribe(EventNoticePublished, func(p any) { fn(p.(NoticePublishedPayload)) })
}

// PublishPushReceived publishes EventPushReceived.
func (bus *EventBus) PublishPushReceived(p PushReceivedPayload) {
	bus.send(EventPushReceived, p)
}

// SubscribePushReceived registers fn for EventPushReceived.
func (bus *EventBus) SubscribePushReceived(fn func(PushReceivedPayload)) {
	bus.subscribe(EventPushReceived, func(p any) { fn(p.(PushReceivedPayload)) })
}

// PublishSessionChanged publishes EventSessionChanged.
func (bus *EventBus) PublishSessionChanged(p SessionChangedPayload) {
	bus.send(EventSessionChanged, p)
}

// SubscribeSessionChanged registers fn for EventSessionChanged.
func (bus *EventBus) SubscribeSessionChanged(fn func(SessionChangedPayload)) {
	bus.subscribe(EventSessionChanged, func(p any) { fn(p.(SessionChangedPayload)) })
}
