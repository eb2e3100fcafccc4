// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within inbox.
package eventbus

import (
	"github.com/colonyops/inbox/internal/core/config"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/notify"
	"github.com/colonyops/inbox/internal/core/session"
)

// Event names a topic on the bus.
type Event string

// Keep list sorted A-Z.
const (
	EventConfigReloaded      Event = "config.reloaded"
	EventConnectivityChanged Event = "connectivity.changed"
	EventInboxChanged        Event = "inbox.changed"
	EventNoticePublished     Event = "notice.published"
	EventPushReceived        Event = "push.received"
	EventSessionChanged      Event = "session.changed"
)

// Events lists every event with a zero payload, used by tests and tooling
// to enumerate topics.
var Events = map[Event]any{
	EventConfigReloaded:      ConfigReloadedPayload{},
	EventConnectivityChanged: ConnectivityChangedPayload{},
	EventInboxChanged:        InboxChangedPayload{},
	EventNoticePublished:     NoticePublishedPayload{},
	EventPushReceived:        PushReceivedPayload{},
	EventSessionChanged:      SessionChangedPayload{},
}

// ConfigReloadedPayload is emitted when the config file changes on disk and
// reloads cleanly.
type ConfigReloadedPayload struct {
	Config *config.Config
}

// ConnectivityChangedPayload is emitted when the push channel goes up or down.
type ConnectivityChangedPayload struct {
	UserID    string
	Connected bool
}

// InboxChangedPayload carries the snapshot produced by a reconciler mutation.
type InboxChangedPayload struct {
	Snapshot notification.Snapshot
}

// NoticePublishedPayload asks the notice bus to surface a message.
type NoticePublishedPayload struct {
	Level   notify.Level
	Message string
}

// PushReceivedPayload is emitted for every notification frame from the push
// channel, before it is merged.
type PushReceivedPayload struct {
	Notification notification.Notification
}

// SessionChangedPayload is emitted after the session gate swaps identities.
type SessionChangedPayload struct {
	Previous session.Identity
	Current  session.Identity
}
