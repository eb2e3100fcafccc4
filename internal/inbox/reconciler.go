// Package inbox is the reconciliation engine. A single Reconciler owns the
// notification set and unread counter for the signed-in identity; the Poller,
// Executor and push pump feed it, and the Gate binds its lifecycle to the
// session.
package inbox

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
)

// state is owned by the reconciler loop. Nothing else touches it.
type state struct {
	identity   session.Identity
	epoch      uint64
	gen        uint64
	seq        uint64
	set        *notification.Set
	tombstones map[string]struct{}
	pushed     map[string]uint64 // id -> seq of the push that inserted it
	pushRead   map[string]uint64 // id -> seq of the push that marked it read
	unread     int
	complete   bool
	connected  bool
	listOpen   bool
}

func (s *state) ticket() session.Ticket {
	return session.Ticket{UserID: s.identity.UserID, Epoch: s.epoch, Gen: s.gen, Seq: s.seq}
}

// pushedSince reports whether id was inserted by a push after t was issued.
func (s *state) pushedSince(t session.Ticket, id string) bool {
	return s.pushed[id] > t.Seq
}

// pushDelta is the change pushes made to the unread count after t was
// issued: unread items they inserted, less known items they marked read.
func (s *state) pushDelta(t session.Ticket) int {
	delta := 0
	for id, seq := range s.pushed {
		if seq <= t.Seq {
			continue
		}
		if n, ok := s.set.Get(id); ok && !n.IsRead {
			delta++
		}
	}
	for id, seq := range s.pushRead {
		if seq > t.Seq && !s.pushedSince(t, id) && s.set.Has(id) {
			delta--
		}
	}
	return delta
}

// forgetPushed drops push records for ids that left the set.
func (s *state) forgetPushed() {
	for id := range s.pushed {
		if !s.set.Has(id) {
			delete(s.pushed, id)
		}
	}
	for id := range s.pushRead {
		if !s.set.Has(id) {
			delete(s.pushRead, id)
		}
	}
}

// current reports whether t was issued under the live identity.
func (s *state) current(t session.Ticket) bool {
	return t.SameSession(s.ticket())
}

// decrement lowers the counter without going negative.
func (s *state) decrement() {
	if s.unread > 0 {
		s.unread--
	}
}

// Reconciler serialises every mutation of the notification state through one
// goroutine and publishes an immutable Snapshot after each change. Start must
// be running before any other method is called.
type Reconciler struct {
	ops    chan func()
	quit   chan struct{}
	bus    *eventbus.EventBus
	log    zerolog.Logger
	now    func() time.Time
	st     state
	ticket atomic.Pointer[session.Ticket]
	snap   atomic.Pointer[notification.Snapshot]
}

// NewReconciler creates a signed-out reconciler. bus may be nil.
func NewReconciler(bus *eventbus.EventBus, logger zerolog.Logger) *Reconciler {
	r := &Reconciler{
		ops:  make(chan func()),
		quit: make(chan struct{}),
		bus:  bus,
		log:  logger,
		now:  time.Now,
		st: state{
			set:        notification.NewSet(nil),
			tombstones: make(map[string]struct{}),
			pushed:     make(map[string]uint64),
			pushRead:   make(map[string]uint64),
		},
	}
	t := r.st.ticket()
	r.ticket.Store(&t)
	r.snap.Store(&notification.Snapshot{})
	return r
}

// Start runs the mutation loop until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	defer close(r.quit)
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-r.ops:
			op()
		}
	}
}

// do runs fn on the loop and waits for it. A true return publishes a new
// snapshot. After the loop stops, do is a no-op.
func (r *Reconciler) do(fn func(s *state) bool) {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		if fn(&r.st) {
			r.publish()
		}
		t := r.st.ticket()
		r.ticket.Store(&t)
	}

	select {
	case r.ops <- op:
		<-done
	case <-r.quit:
	}
}

func (r *Reconciler) publish() {
	s := &r.st
	snap := notification.Snapshot{
		Identity:  s.identity,
		Items:     s.set.Items(),
		Unread:    s.unread,
		Complete:  s.complete,
		Connected: s.connected,
		ListOpen:  s.listOpen,
		UpdatedAt: r.now(),
	}
	r.snap.Store(&snap)

	if r.bus != nil {
		r.bus.PublishInboxChanged(eventbus.InboxChangedPayload{Snapshot: snap})
	}
}

// Snapshot returns the last published state.
func (r *Reconciler) Snapshot() notification.Snapshot {
	return *r.snap.Load()
}

// Ticket returns the tag to stamp on an outgoing request.
func (r *Reconciler) Ticket() session.Ticket {
	return *r.ticket.Load()
}

// Current reports whether t still belongs to the live identity.
func (r *Reconciler) Current(t session.Ticket) bool {
	return t.SameSession(r.Ticket())
}

// Reset tears down all state and binds the reconciler to id. The zero
// identity signs out. The list-open flag survives.
func (r *Reconciler) Reset(id session.Identity) session.Ticket {
	var t session.Ticket
	r.do(func(s *state) bool {
		s.identity = id
		s.epoch++
		s.set = notification.NewSet(nil)
		s.tombstones = make(map[string]struct{})
		s.pushed = make(map[string]uint64)
		s.pushRead = make(map[string]uint64)
		s.unread = 0
		s.complete = false
		s.connected = false
		t = s.ticket()
		return true
	})
	r.log.Debug().Str("identity", id.String()).Stringer("ticket", t).Msg("reconciler reset")
	return t
}

// MergePush folds a pushed notification into the set. While the set is
// complete a new unread item raises the counter and a known unread item
// arriving read lowers it. A capped set leaves the counter to the unread poll,
// which may already include the pushed item.
func (r *Reconciler) MergePush(t session.Ticket, n notification.Notification) error {
	var err error
	r.do(func(s *state) bool {
		if !s.current(t) || s.identity.IsZero() {
			err = notification.ErrStale
			return false
		}
		if n.ID == "" {
			return false
		}
		if _, dead := s.tombstones[n.ID]; dead {
			return false
		}

		prev, known := s.set.Get(n.ID)
		stored, added := s.set.Put(n)
		if !added && stored == prev {
			return false
		}

		readNow := known && !prev.IsRead && stored.IsRead
		switch {
		case added:
			s.seq++
			s.pushed[n.ID] = s.seq
		case readNow:
			s.seq++
			s.pushRead[n.ID] = s.seq
		}

		// A capped set's counter belongs to the unread poll.
		if s.complete {
			switch {
			case added && !stored.IsRead:
				s.unread++
			case readNow:
				s.decrement()
			}
		}
		return true
	})
	return err
}

// ApplyList merges a polled list. A list shorter than limit is complete: ids
// the server no longer returns are dropped and the counter becomes the
// unread tally. Items pushed after the request was issued are kept. A capped
// list only merges and leaves the counter alone.
func (r *Reconciler) ApplyList(t session.Ticket, list []notification.Notification, limit int) error {
	var err error
	r.do(func(s *state) bool {
		if !s.current(t) {
			err = notification.ErrStale
			return false
		}

		complete := limit <= 0 || len(list) < limit
		seen := make(map[string]struct{}, len(list))
		for _, n := range list {
			seen[n.ID] = struct{}{}
			if _, dead := s.tombstones[n.ID]; dead {
				continue
			}
			s.set.Put(n)
		}

		if complete {
			for _, n := range s.set.Items() {
				if _, ok := seen[n.ID]; ok || s.pushedSince(t, n.ID) {
					continue
				}
				s.set.Remove(n.ID)
			}
			s.forgetPushed()
			// The server confirmed these are gone.
			for id := range s.tombstones {
				if _, ok := seen[id]; !ok {
					delete(s.tombstones, id)
				}
			}
			s.unread = s.set.UnreadTally()
		}
		s.complete = complete
		return true
	})
	return err
}

// Resync replaces the set wholesale, discarding optimistic state and
// tombstones. Items pushed, or marked read by a push, after the request was
// issued keep that state. The counter
// follows the tally only for a complete list.
func (r *Reconciler) Resync(t session.Ticket, list []notification.Notification, limit int) error {
	var err error
	r.do(func(s *state) bool {
		if !s.current(t) {
			err = notification.ErrStale
			return false
		}

		var newer []notification.Notification
		for id := range s.pushed {
			if n, ok := s.set.Get(id); ok && s.pushedSince(t, id) {
				newer = append(newer, n)
			}
		}

		s.set.Replace(list)
		for _, n := range newer {
			if !s.set.Has(n.ID) {
				s.set.Put(n)
			}
		}
		for id, seq := range s.pushRead {
			if seq > t.Seq {
				s.set.MarkRead(id)
			}
		}
		s.forgetPushed()
		s.tombstones = make(map[string]struct{})
		s.complete = limit <= 0 || len(list) < limit
		if s.complete {
			s.unread = s.set.UnreadTally()
		}
		return true
	})
	return err
}

// ApplyUnread sets the counter from an unread poll. A count issued before
// the latest optimistic mutation is superseded and reported as stale. For a
// complete set, changes pushed after the request are folded into the count
// before it is checked against the tally; a mismatch marks the set partial
// and the raw count wins.
func (r *Reconciler) ApplyUnread(t session.Ticket, count int) error {
	var err error
	r.do(func(s *state) bool {
		if !s.current(t) || t.Gen < s.gen {
			err = notification.ErrStale
			return false
		}
		if count < 0 {
			count = 0
		}
		if s.complete && count+s.pushDelta(t) == s.set.UnreadTally() {
			s.unread = s.set.UnreadTally()
			return true
		}
		s.unread = count
		s.complete = false
		return true
	})
	return err
}

// MarkRead applies an optimistic mark-read. The counter drops when the item
// was known unread, or when the id is unknown and the set is capped.
func (r *Reconciler) MarkRead(id string) session.Ticket {
	var t session.Ticket
	r.do(func(s *state) bool {
		found, wasUnread := s.set.MarkRead(id)
		if wasUnread || (!found && !s.complete) {
			s.decrement()
		}
		s.gen++
		t = s.ticket()
		return true
	})
	return t
}

// MarkAllRead marks every item read and zeroes the counter.
func (r *Reconciler) MarkAllRead() session.Ticket {
	var t session.Ticket
	r.do(func(s *state) bool {
		s.set.MarkAllRead()
		s.unread = 0
		s.gen++
		t = s.ticket()
		return true
	})
	return t
}

// Remove deletes id optimistically and tombstones it. Removing an absent id
// changes nothing visible.
func (r *Reconciler) Remove(id string) session.Ticket {
	var t session.Ticket
	r.do(func(s *state) bool {
		s.tombstones[id] = struct{}{}
		delete(s.pushed, id)
		delete(s.pushRead, id)
		n, ok := s.set.Remove(id)
		if ok && !n.IsRead {
			s.decrement()
		}
		s.gen++
		t = s.ticket()
		return ok
	})
	return t
}

// SetListOpen records whether a list surface is showing.
func (r *Reconciler) SetListOpen(open bool) {
	r.do(func(s *state) bool {
		if s.listOpen == open {
			return false
		}
		s.listOpen = open
		return true
	})
}

// SetConnected records push connectivity for the session t belongs to.
func (r *Reconciler) SetConnected(t session.Ticket, connected bool) error {
	var err error
	r.do(func(s *state) bool {
		if !s.current(t) {
			err = notification.ErrStale
			return false
		}
		if s.connected == connected {
			return false
		}
		s.connected = connected
		return true
	})
	return err
}
