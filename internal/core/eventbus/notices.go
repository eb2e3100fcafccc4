package eventbus

import (
	"fmt"
	"sync"

	"github.com/colonyops/inbox/internal/core/notify"
)

// NoticeRouter maps domain events to user-facing notices.
type NoticeRouter struct {
	bus *EventBus

	mu      sync.Mutex
	offline map[string]bool // user id -> push channel was seen down
}

// NewNoticeRouter constructs a router for event-to-notice mappings.
func NewNoticeRouter(bus *EventBus) *NoticeRouter {
	return &NoticeRouter{bus: bus, offline: make(map[string]bool)}
}

// Register subscribes all supported event mappings.
func (r *NoticeRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeConnectivityChanged(func(p ConnectivityChangedPayload) {
		r.mu.Lock()
		wasOffline := r.offline[p.UserID]
		r.offline[p.UserID] = !p.Connected
		r.mu.Unlock()

		switch {
		case !p.Connected && !wasOffline:
			r.noticef(notify.LevelInfo, "Live updates paused. Reconnecting in the background.")
		case p.Connected && wasOffline:
			r.noticef(notify.LevelInfo, "Live updates resumed.")
		}
	})

	r.bus.SubscribeSessionChanged(func(p SessionChangedPayload) {
		r.mu.Lock()
		delete(r.offline, p.Previous.UserID)
		r.mu.Unlock()
	})

	r.bus.SubscribeConfigReloaded(func(p ConfigReloadedPayload) {
		if p.Config == nil {
			return
		}
		r.noticef(notify.LevelInfo, "Settings reloaded.")
	})
}

func (r *NoticeRouter) noticef(level notify.Level, format string, args ...any) {
	r.bus.PublishNoticePublished(NoticePublishedPayload{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	})
}
