package notification

import "context"

// API is the fetch layer contract. Implementations normalise every response
// shape into these types before returning.
type API interface {
	// List returns up to limit notifications, most recent first.
	List(ctx context.Context, limit int) ([]Notification, error)
	// Unread returns the unread count for the current identity.
	Unread(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	// Delete treats a missing id as success.
	Delete(ctx context.Context, id string) error
	CreateTest(ctx context.Context) error
}

// PushKind identifies a push event.
type PushKind string

const (
	PushNotification PushKind = "notification"
	PushConnectivity PushKind = "connectivity"
)

// PushEvent is one item from the push transport.
type PushEvent struct {
	Kind         PushKind
	Notification Notification // set for PushNotification
	Connected    bool         // set for PushConnectivity
}

// Transport is a push channel. Subscribe starts a lazy, restartable stream
// for the current credential; cancelling ctx unsubscribes and closes the
// channel. Events carry no ordering guarantee and may repeat ids.
type Transport interface {
	Subscribe(ctx context.Context) (<-chan PushEvent, error)
}
