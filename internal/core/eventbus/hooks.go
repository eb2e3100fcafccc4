package eventbus

import "sync"

// hooks holds lifecycle callbacks. They run on the publishing or dispatching
// goroutine and must not block.
type hooks struct {
	mu          sync.RWMutex
	onPublish   []func(Event, any)
	onDrop      []func(Event, any)
	onSubscribe []func(Event)
	onPanic     []func(Event, any, any)
}

// OnPublish registers a hook that fires after an event is enqueued.
func (bus *EventBus) OnPublish(fn func(Event, any)) {
	bus.hooks.mu.Lock()
	defer bus.hooks.mu.Unlock()
	bus.hooks.onPublish = append(bus.hooks.onPublish, fn)
}

// OnDrop registers a hook that fires when the buffer is full and an event is
// discarded.
func (bus *EventBus) OnDrop(fn func(Event, any)) {
	bus.hooks.mu.Lock()
	defer bus.hooks.mu.Unlock()
	bus.hooks.onDrop = append(bus.hooks.onDrop, fn)
}

// OnSubscribe registers a hook that fires after a subscriber is added.
func (bus *EventBus) OnSubscribe(fn func(Event)) {
	bus.hooks.mu.Lock()
	defer bus.hooks.mu.Unlock()
	bus.hooks.onSubscribe = append(bus.hooks.onSubscribe, fn)
}

// OnPanic registers a hook that fires when a subscriber panics. The panic is
// recovered and dispatch continues with the next subscriber.
func (bus *EventBus) OnPanic(fn func(Event, any, any)) {
	bus.hooks.mu.Lock()
	defer bus.hooks.mu.Unlock()
	bus.hooks.onPanic = append(bus.hooks.onPanic, fn)
}

func (bus *EventBus) send(event Event, payload any) {
	select {
	case bus.ch <- envelope{event: event, payload: payload}:
		for _, fn := range copyHooks(&bus.hooks, func(h *hooks) []func(Event, any) { return h.onPublish }) {
			fn(event, payload)
		}
	default:
		for _, fn := range copyHooks(&bus.hooks, func(h *hooks) []func(Event, any) { return h.onDrop }) {
			fn(event, payload)
		}
	}
}

func (bus *EventBus) runOnSubscribe(event Event) {
	for _, fn := range copyHooks(&bus.hooks, func(h *hooks) []func(Event) { return h.onSubscribe }) {
		fn(event)
	}
}

func (bus *EventBus) runOnPanic(event Event, payload any, recovered any) {
	for _, fn := range copyHooks(&bus.hooks, func(h *hooks) []func(Event, any, any) { return h.onPanic }) {
		func() {
			defer func() { recover() }() //nolint:errcheck
			fn(event, payload, recovered)
		}()
	}
}

// copyHooks returns a copy of the selected hook slice taken under the read
// lock, so hooks can register more hooks without deadlocking.
func copyHooks[F any](h *hooks, pick func(*hooks) []F) []F {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := pick(h)
	out := make([]F, len(src))
	copy(out, src)
	return out
}
