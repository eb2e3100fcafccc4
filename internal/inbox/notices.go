package inbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/notify"
)

// NoticeSubscriber is invoked for every published notice.
type NoticeSubscriber func(notify.Notice)

// NoticeBus dispatches user-facing notices to subscribers inline and persists
// them to a Store.
type NoticeBus struct {
	store notify.Store
	log   zerolog.Logger

	mu          sync.Mutex
	subscribers []NoticeSubscriber
}

// NewNoticeBus creates a notice bus. A nil store dispatches without
// persisting.
func NewNoticeBus(store notify.Store, logger zerolog.Logger) *NoticeBus {
	return &NoticeBus{store: store, log: logger}
}

// Attach routes notice.published events from the event bus into b.
func (b *NoticeBus) Attach(bus *eventbus.EventBus) {
	if bus == nil {
		return
	}
	bus.SubscribeNoticePublished(func(p eventbus.NoticePublishedPayload) {
		b.Publish(context.Background(), notify.Notice{Level: p.Level, Message: p.Message})
	})
}

// Subscribe registers fn for every later Publish.
func (b *NoticeBus) Subscribe(fn NoticeSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, fn)
}

// Publish persists n and hands it to subscribers. Persistence failures are
// logged; subscribers still see the notice.
func (b *NoticeBus) Publish(ctx context.Context, n notify.Notice) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	// Persist first so subscribers see the stored id.
	if b.store != nil {
		id, err := b.store.Save(ctx, n)
		if err != nil {
			b.log.Error().Err(err).Str("message", n.Message).Msg("failed to persist notice")
		} else {
			n.ID = id
		}
	}

	b.mu.Lock()
	subs := make([]NoticeSubscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(n)
	}
}

// History returns persisted notices, newest first.
func (b *NoticeBus) History(ctx context.Context) ([]notify.Notice, error) {
	if b.store == nil {
		return nil, nil
	}
	return b.store.List(ctx)
}

// Clear deletes persisted notices.
func (b *NoticeBus) Clear(ctx context.Context) error {
	if b.store == nil {
		return nil
	}
	return b.store.Clear(ctx)
}
