package inbox

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/config"
	"github.com/colonyops/inbox/internal/core/notification"
)

// ConfirmKind names a mutation that triggers a confirmation cascade.
type ConfirmKind string

const (
	ConfirmMarkAllRead ConfirmKind = "mark_all_read"
	ConfirmMarkRead    ConfirmKind = "mark_read"
	ConfirmDelete      ConfirmKind = "delete"
	ConfirmPush        ConfirmKind = "push"
)

// PollerConfig controls polling cadence and confirmation schedules.
type PollerConfig struct {
	Interval  time.Duration
	Jitter    float64
	ListLimit int
	// Confirm maps a trigger to the delays at which confirmatory refreshes
	// run. For commands the delays count from when the request settles, so
	// a refresh never races the command it confirms.
	Confirm map[ConfirmKind][]time.Duration
}

// PollerConfigFrom extracts the poller settings from cfg.
func PollerConfigFrom(cfg *config.Config) PollerConfig {
	return PollerConfig{
		Interval:  cfg.Poll.Interval,
		Jitter:    cfg.Poll.Jitter,
		ListLimit: cfg.Poll.ListLimit,
		Confirm: map[ConfirmKind][]time.Duration{
			ConfirmMarkAllRead: cfg.Poll.Confirm.MarkAllRead,
			ConfirmMarkRead:    cfg.Poll.Confirm.MarkRead,
			ConfirmDelete:      cfg.Poll.Confirm.Delete,
			ConfirmPush:        cfg.Poll.Confirm.Push,
		},
	}
}

// Poller refreshes the unread counter on an interval, and the list while a
// list surface is open. All results go through the reconciler's stale guard.
type Poller struct {
	api notification.API
	rec *Reconciler
	log zerolog.Logger

	mu       sync.Mutex
	cfg      PollerConfig
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	reconfig chan struct{}
	timers   map[uint64]*time.Timer
	seq      uint64
	pending  int
}

// NewPoller creates a stopped poller.
func NewPoller(api notification.API, rec *Reconciler, cfg PollerConfig, logger zerolog.Logger) *Poller {
	return &Poller{
		api:      api,
		rec:      rec,
		log:      logger,
		cfg:      cfg,
		reconfig: make(chan struct{}, 1),
		timers:   make(map[uint64]*time.Timer),
	}
}

// Start begins interval polling. Calling Start on a running poller does
// nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	p.ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(p.ctx, p.done)
}

// Stop halts polling and cancels pending confirmations. In-flight requests
// finish on their own; their results are discarded by the stale guard.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done, p.ctx = nil, nil, nil
	for id, tm := range p.timers {
		if tm.Stop() {
			p.pending--
		}
		delete(p.timers, id)
	}
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// SetConfig swaps the configuration. The next tick uses the new interval.
func (p *Poller) SetConfig(cfg PollerConfig) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()

	select {
	case p.reconfig <- struct{}{}:
	default:
	}
}

func (p *Poller) config() PollerConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(p.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.reconfig:
			timer.Reset(p.nextInterval())
		case <-timer.C:
			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.log.Debug().Err(err).Msg("interval refresh failed")
			}
			timer.Reset(p.nextInterval())
		}
	}
}

// nextInterval applies ±jitter to the configured interval.
func (p *Poller) nextInterval() time.Duration {
	cfg := p.config()
	d := cfg.Interval
	if d <= 0 {
		d = 30 * time.Second
	}
	if cfg.Jitter > 0 {
		factor := 1 + cfg.Jitter*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// Refresh fetches the unread count, and the list first when a list surface
// is open. Stale results are dropped silently. Other failures are logged and
// returned; the counter keeps its last value.
func (p *Poller) Refresh(ctx context.Context) error {
	var errs []error

	if p.rec.Snapshot().ListOpen {
		if err := p.refreshList(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.refreshUnread(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *Poller) refreshList(ctx context.Context) error {
	limit := p.config().ListLimit
	t := p.rec.Ticket()

	list, err := p.api.List(ctx, limit)
	if err != nil {
		p.log.Warn().Ctx(ctx).Err(err).Stringer("ticket", t).Msg("list refresh failed")
		return err
	}
	if err := p.rec.ApplyList(t, list, limit); err != nil {
		p.log.Debug().Ctx(ctx).Err(err).Stringer("ticket", t).Msg("list result dropped")
	}
	return nil
}

func (p *Poller) refreshUnread(ctx context.Context) error {
	t := p.rec.Ticket()

	count, err := p.api.Unread(ctx)
	if err != nil {
		p.log.Warn().Ctx(ctx).Err(err).Stringer("ticket", t).Msg("unread refresh failed")
		return err
	}
	if err := p.rec.ApplyUnread(t, count); err != nil {
		p.log.Debug().Ctx(ctx).Err(err).Stringer("ticket", t).Int("count", count).Msg("unread result dropped")
	}
	return nil
}

// Resync refetches list and counter and replaces local state wholesale.
func (p *Poller) Resync(ctx context.Context) error {
	limit := p.config().ListLimit
	t := p.rec.Ticket()

	list, err := p.api.List(ctx, limit)
	if err != nil {
		p.log.Warn().Ctx(ctx).Err(err).Msg("resync list failed")
		return err
	}
	if err := p.rec.Resync(t, list, limit); err != nil {
		p.log.Debug().Ctx(ctx).Err(err).Msg("resync result dropped")
		return nil
	}
	return p.refreshUnread(ctx)
}

// Confirm arms the confirmation cascade for kind. It does nothing while the
// poller is stopped.
func (p *Poller) Confirm(kind ConfirmKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return
	}

	ctx := p.ctx
	for _, delay := range p.cfg.Confirm[kind] {
		p.seq++
		id := p.seq
		p.pending++
		p.timers[id] = time.AfterFunc(delay, func() {
			p.mu.Lock()
			delete(p.timers, id)
			p.mu.Unlock()

			if err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
				p.log.Debug().Err(err).Str("kind", string(kind)).Dur("delay", delay).Msg("confirmation refresh failed")
			}

			p.mu.Lock()
			p.pending--
			p.mu.Unlock()
		})
	}
}

// Pending returns the number of confirmation refreshes armed or running.
func (p *Poller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Settle blocks until every armed confirmation has run or ctx ends.
func (p *Poller) Settle(ctx context.Context) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for p.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	return nil
}
