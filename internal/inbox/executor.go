package inbox

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/notify"
	"github.com/colonyops/inbox/internal/core/session"
)

// User-facing failure text. Logs carry the detail.
const (
	msgMarkReadFailed    = "Couldn't mark notification as read. We'll retry shortly."
	msgMarkAllReadFailed = "Couldn't mark all notifications as read. We'll retry shortly."
	msgDeleteFailed      = "Couldn't delete notification. It may reappear after the next refresh."
	msgCreateTestFailed  = "Couldn't create a test notification."
)

// ErrEmptyID is returned for commands that need a notification id.
var ErrEmptyID = errors.New("notification id is required")

// Executor runs user commands: it applies the optimistic change, issues the
// request, and once the request settles arms the confirmation cascade
// whatever the outcome. Optimistic changes are never rolled back.
type Executor struct {
	api    notification.API
	rec    *Reconciler
	poller *Poller
	bus    *eventbus.EventBus
	log    zerolog.Logger
}

// NewExecutor creates an executor. bus may be nil.
func NewExecutor(api notification.API, rec *Reconciler, poller *Poller, bus *eventbus.EventBus, logger zerolog.Logger) *Executor {
	return &Executor{api: api, rec: rec, poller: poller, bus: bus, log: logger}
}

// MarkRead marks id read.
func (e *Executor) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	t := e.rec.MarkRead(id)
	err := e.api.MarkRead(ctx, id)
	e.poller.Confirm(ConfirmMarkRead)
	return e.settle(ctx, t, "mark-read", msgMarkReadFailed, err)
}

// MarkAllRead marks every notification read. The counter is zero before the
// request is sent.
func (e *Executor) MarkAllRead(ctx context.Context) error {
	t := e.rec.MarkAllRead()
	err := e.api.MarkAllRead(ctx)
	e.poller.Confirm(ConfirmMarkAllRead)
	return e.settle(ctx, t, "mark-all-read", msgMarkAllReadFailed, err)
}

// Delete removes id. Deleting an id that is already gone is not an error.
func (e *Executor) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrEmptyID
	}

	t := e.rec.Remove(id)
	err := e.api.Delete(ctx, id)
	e.poller.Confirm(ConfirmDelete)
	return e.settle(ctx, t, "delete", msgDeleteFailed, err)
}

// CreateTest asks the server for a test notification and resyncs on success.
func (e *Executor) CreateTest(ctx context.Context) error {
	t := e.rec.Ticket()
	if err := e.api.CreateTest(ctx); err != nil {
		return e.settle(ctx, t, "create-test", msgCreateTestFailed, err)
	}
	if !e.rec.Current(t) {
		return nil
	}
	return e.poller.Resync(ctx)
}

// settle classifies a command result. Results for a previous identity are
// dropped; other failures raise a notice and are returned.
func (e *Executor) settle(ctx context.Context, t session.Ticket, op, message string, err error) error {
	if err == nil {
		return nil
	}

	if !e.rec.Current(t) {
		e.log.Debug().Ctx(ctx).Err(err).Str("op", op).Stringer("ticket", t).Msg("dropping result for previous session")
		return nil
	}

	e.log.Warn().Ctx(ctx).
		Err(err).
		Str("op", op).
		Int("status", notification.StatusCode(err)).
		Stringer("ticket", t).
		Msg("command failed")

	if ctx.Err() == nil && e.bus != nil {
		e.bus.PublishNoticePublished(eventbus.NoticePublishedPayload{Level: notify.LevelWarning, Message: message})
	}
	return err
}
