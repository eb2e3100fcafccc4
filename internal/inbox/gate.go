package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/logging"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
)

// ErrSignedOut is returned when logging in with an empty identity.
var ErrSignedOut = errors.New("identity is empty")

type loginOptions struct {
	push    bool
	refresh bool
}

// LoginOption adjusts a single Login.
type LoginOption func(*loginOptions)

// WithoutPush skips the push subscription. One-shot commands use it.
func WithoutPush() LoginOption {
	return func(o *loginOptions) { o.push = false }
}

// WithoutRefresh skips the initial best-effort refresh so the caller can
// fetch itself and see the error.
func WithoutRefresh() LoginOption {
	return func(o *loginOptions) { o.refresh = false }
}

// Gate binds the engine to the signed-in identity. Login clears state before
// anything is fetched for the new identity; Logout stops every producer and
// clears state again. In-flight requests are left to the stale guard.
type Gate struct {
	holder    *session.Holder
	rec       *Reconciler
	poller    *Poller
	transport notification.Transport
	bus       *eventbus.EventBus
	log       zerolog.Logger

	mu         sync.Mutex
	stopPush   context.CancelFunc
	pushDone   chan struct{}
	pushEnable bool
}

// NewGate creates a gate. transport and bus may be nil.
func NewGate(holder *session.Holder, rec *Reconciler, poller *Poller, transport notification.Transport, bus *eventbus.EventBus, logger zerolog.Logger) *Gate {
	return &Gate{
		holder:     holder,
		rec:        rec,
		poller:     poller,
		transport:  transport,
		bus:        bus,
		log:        logger,
		pushEnable: transport != nil,
	}
}

// SetPushEnabled toggles push for later logins.
func (g *Gate) SetPushEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushEnable = enabled && g.transport != nil
}

// Identity returns the signed-in identity.
func (g *Gate) Identity() session.Identity {
	return g.holder.Current()
}

// Login switches to id. Producers for any previous identity are stopped
// first. The initial refresh is best effort and runs without holding the
// gate; its failure is logged only.
func (g *Gate) Login(ctx context.Context, id session.Identity, opts ...LoginOption) error {
	if id.IsZero() {
		return ErrSignedOut
	}

	g.mu.Lock()
	o := loginOptions{push: g.pushEnable, refresh: true}
	for _, opt := range opts {
		opt(&o)
	}

	prev := g.holder.Current()
	g.stopLocked()

	g.holder.Set(id)
	t := g.rec.Reset(id)
	ctx = logging.WithUserID(ctx, id.UserID)

	if o.push {
		g.subscribeLocked(ctx, t)
	}
	g.poller.Start(ctx)
	g.publishSession(prev, id)

	g.log.Info().Ctx(ctx).Bool("push", o.push).Msg("signed in")
	g.mu.Unlock()

	// Unlocked; a result landing after a later switch fails the stale guard.
	if o.refresh {
		if err := g.poller.Refresh(ctx); err != nil {
			g.log.Warn().Ctx(ctx).Err(err).Msg("initial refresh failed")
		}
	}
	return nil
}

// Switch is Logout followed by Login.
func (g *Gate) Switch(ctx context.Context, id session.Identity, opts ...LoginOption) error {
	g.Logout()
	return g.Login(ctx, id, opts...)
}

// Logout stops the poller and push channel and clears state.
func (g *Gate) Logout() {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := g.holder.Current()
	g.stopLocked()
	if prev.IsZero() {
		return
	}

	g.holder.Set(session.Identity{})
	g.rec.Reset(session.Identity{})
	g.publishSession(prev, session.Identity{})
	g.log.Info().Str("previous", prev.String()).Msg("signed out")
}

// Resync replaces local state with a fresh fetch.
func (g *Gate) Resync(ctx context.Context) error {
	if g.holder.Current().IsZero() {
		return ErrSignedOut
	}
	return g.poller.Resync(ctx)
}

// Close stops producers without touching state.
func (g *Gate) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
}

func (g *Gate) stopLocked() {
	if g.stopPush != nil {
		g.stopPush()
		<-g.pushDone
		g.stopPush, g.pushDone = nil, nil
	}
	g.poller.Stop()
}

func (g *Gate) subscribeLocked(ctx context.Context, t session.Ticket) {
	pushCtx, cancel := context.WithCancel(ctx)
	events, err := g.transport.Subscribe(pushCtx)
	if err != nil {
		cancel()
		g.log.Warn().Ctx(ctx).Err(err).Msg("push subscription failed, polling only")
		return
	}

	done := make(chan struct{})
	g.stopPush, g.pushDone = cancel, done
	go g.pump(pushCtx, t, events, done)
}

// pump forwards push events for the session t belongs to.
func (g *Gate) pump(ctx context.Context, t session.Ticket, events <-chan notification.PushEvent, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			g.handlePush(ctx, t, ev)
		}
	}
}

func (g *Gate) handlePush(ctx context.Context, t session.Ticket, ev notification.PushEvent) {
	switch ev.Kind {
	case notification.PushNotification:
		if g.bus != nil {
			g.bus.PublishPushReceived(eventbus.PushReceivedPayload{Notification: ev.Notification})
		}
		if err := g.rec.MergePush(t, ev.Notification); err != nil {
			g.log.Debug().Ctx(ctx).Err(err).Str("notification_id", ev.Notification.ID).Msg("push dropped")
			return
		}
		// A capped set does not count pushes; ask the server instead.
		if !g.rec.Snapshot().Complete {
			g.poller.Confirm(ConfirmPush)
		}
	case notification.PushConnectivity:
		if err := g.rec.SetConnected(t, ev.Connected); err != nil {
			return
		}
		if g.bus != nil {
			g.bus.PublishConnectivityChanged(eventbus.ConnectivityChangedPayload{UserID: t.UserID, Connected: ev.Connected})
		}
		// Catch up on anything missed while the channel was down.
		if ev.Connected {
			if err := g.poller.Refresh(ctx); err != nil && ctx.Err() == nil {
				g.log.Debug().Ctx(ctx).Err(err).Msg("reconnect refresh failed")
			}
		}
	}
}

func (g *Gate) publishSession(prev, cur session.Identity) {
	if g.bus == nil {
		return
	}
	g.bus.PublishSessionChanged(eventbus.SessionChangedPayload{Previous: prev, Current: cur})
}
