package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger logs bus activity: publishes at debug level, drops as
// warnings and subscriber panics as errors.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(event Event, payload any) {
		e := logger.Debug().Str("event", string(event))
		switch p := payload.(type) {
		case InboxChangedPayload:
			e = e.Int("unread", p.Snapshot.Unread).Int("items", len(p.Snapshot.Items))
		case PushReceivedPayload:
			e = e.Str("notification_id", p.Notification.ID)
		case ConnectivityChangedPayload:
			e = e.Bool("connected", p.Connected)
		case SessionChangedPayload:
			e = e.Str("previous", p.Previous.String()).Str("current", p.Current.String())
		}
		e.Msg("event fired")
	})

	bus.OnDrop(func(event Event, _ any) {
		logger.Warn().Str("event", string(event)).Msg("event dropped: buffer full")
	})

	bus.OnPanic(func(event Event, _ any, recovered any) {
		logger.Error().
			Str("event", string(event)).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}
