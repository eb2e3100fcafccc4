package inbox

import (
	"context"
	"sync"

	"github.com/colonyops/inbox/internal/core/config"
	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/logging"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/notify"
	"github.com/colonyops/inbox/internal/core/session"
)

// Deps are the collaborators the engine is built from.
type Deps struct {
	API       notification.API
	Transport notification.Transport // nil disables push
	Holder    *session.Holder
	Bus       *eventbus.EventBus
	Notices   notify.Store // nil keeps notices in memory only
	Poll      PollerConfig
}

// App wires the reconciler, its producers and the session gate.
type App struct {
	Bus        *eventbus.EventBus
	Holder     *session.Holder
	Reconciler *Reconciler
	Poller     *Poller
	Executor   *Executor
	Gate       *Gate
	Notices    *NoticeBus

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewApp builds a stopped engine. Call Start before use.
func NewApp(d Deps) *App {
	if d.Bus == nil {
		d.Bus = eventbus.New(256)
	}
	if d.Holder == nil {
		d.Holder = session.NewHolder()
	}

	rec := NewReconciler(d.Bus, logging.Component("reconciler"))
	poller := NewPoller(d.API, rec, d.Poll, logging.Component("poller"))

	a := &App{
		Bus:        d.Bus,
		Holder:     d.Holder,
		Reconciler: rec,
		Poller:     poller,
		Executor:   NewExecutor(d.API, rec, poller, d.Bus, logging.Component("executor")),
		Gate:       NewGate(d.Holder, rec, poller, d.Transport, d.Bus, logging.Component("gate")),
		Notices:    NewNoticeBus(d.Notices, logging.Component("notices")),
	}

	a.Notices.Attach(d.Bus)
	eventbus.NewNoticeRouter(d.Bus).Register()
	d.Bus.SubscribeConfigReloaded(func(p eventbus.ConfigReloadedPayload) {
		if p.Config != nil {
			a.ApplyConfig(p.Config)
		}
	})

	return a
}

// Start runs the event bus and reconciler loops until Close or ctx ends.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		a.Bus.Start(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.Reconciler.Start(ctx)
	}()
}

// ApplyConfig adopts reloadable settings.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Poller.SetConfig(PollerConfigFrom(cfg))
	a.Gate.SetPushEnabled(cfg.Push.IsEnabled())
}

// Close stops producers and the loops.
func (a *App) Close() {
	a.Gate.Close()

	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
	}
}
