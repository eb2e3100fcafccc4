package inbox

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/eventbus/testbus"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
)

var alice = session.Identity{UserID: "10", Token: "t10"}

func TestReconciler_Reset(t *testing.T) {
	rec := newRunningReconciler(t)

	t1 := signIn(t, rec)
	require.NoError(t, rec.MergePush(t1, item("a", 1, false)))
	require.Equal(t, 1, rec.Snapshot().Unread)

	t2 := rec.Reset(session.Identity{UserID: "11"})
	assert.Greater(t, t2.Epoch, t1.Epoch)

	snap := rec.Snapshot()
	assert.Equal(t, "11", snap.Identity.UserID)
	assert.Empty(t, snap.Items)
	assert.Zero(t, snap.Unread)
	assert.False(t, snap.Connected)
}

func TestReconciler_MergePush(t *testing.T) {
	t.Run("duplicate pushes keep one entry", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := signIn(t, rec)

		for range 3 {
			require.NoError(t, rec.MergePush(tk, item("a", 1, false)))
		}

		snap := rec.Snapshot()
		assert.Equal(t, []string{"a"}, ids(snap.Items))
		assert.Equal(t, 1, snap.Unread)
	})

	t.Run("read push for known unread lowers counter", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := signIn(t, rec)

		require.NoError(t, rec.MergePush(tk, item("a", 1, false)))
		require.NoError(t, rec.MergePush(tk, item("a", 1, true)))

		snap := rec.Snapshot()
		assert.True(t, snap.Items[0].IsRead)
		assert.Zero(t, snap.Unread)
	})

	t.Run("unread push after local read is ignored", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.MergePush(tk, item("7", 1, false)))
		rec.MarkRead("7")
		require.NoError(t, rec.MergePush(rec.Ticket(), item("7", 1, false)))

		snap := rec.Snapshot()
		n, ok := snap.Find("7")
		require.True(t, ok)
		assert.True(t, n.IsRead)
		assert.Zero(t, snap.Unread)
	})

	t.Run("new read push does not raise counter", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.MergePush(tk, item("a", 1, true)))
		assert.Zero(t, rec.Snapshot().Unread)
		assert.Len(t, rec.Snapshot().Items, 1)
	})

	t.Run("push for previous session is stale", func(t *testing.T) {
		rec := newRunningReconciler(t)
		old := rec.Reset(alice)
		rec.Reset(session.Identity{UserID: "11"})

		err := rec.MergePush(old, item("a", 1, false))
		require.ErrorIs(t, err, notification.ErrStale)
		assert.Empty(t, rec.Snapshot().Items)
	})

	t.Run("signed out ignores pushes", func(t *testing.T) {
		rec := newRunningReconciler(t)

		err := rec.MergePush(rec.Ticket(), item("a", 1, false))
		require.ErrorIs(t, err, notification.ErrStale)
		assert.Empty(t, rec.Snapshot().Items)
	})

	t.Run("capped set leaves counter to the unread poll", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyUnread(tk, 3))

		require.NoError(t, rec.MergePush(rec.Ticket(), item("x", 9, false)))

		snap := rec.Snapshot()
		assert.Equal(t, []string{"x"}, ids(snap.Items))
		assert.Equal(t, 3, snap.Unread)
		assert.False(t, snap.Complete)
	})

	t.Run("deleted id is not resurrected", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.MergePush(tk, item("a", 1, false)))
		rec.Remove("a")
		require.NoError(t, rec.MergePush(rec.Ticket(), item("a", 1, false)))

		assert.Empty(t, rec.Snapshot().Items)
		assert.Zero(t, rec.Snapshot().Unread)
	})
}

func TestReconciler_ApplyList(t *testing.T) {
	t.Run("complete list sets counter to tally", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		list := []notification.Notification{item("c", 3, false), item("b", 2, true), item("a", 1, false)}
		require.NoError(t, rec.ApplyList(tk, list, 10))

		snap := rec.Snapshot()
		assert.Equal(t, []string{"c", "b", "a"}, ids(snap.Items))
		assert.Equal(t, 2, snap.Unread)
		assert.True(t, snap.Complete)
	})

	t.Run("complete list drops ids the server no longer has", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("b", 2, false), item("a", 1, false)}, 10))
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("b", 2, false)}, 10))

		snap := rec.Snapshot()
		assert.Equal(t, []string{"b"}, ids(snap.Items))
		assert.Equal(t, 1, snap.Unread)
	})

	t.Run("list does not regress local read", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false)}, 10))
		rec.MarkRead("a")
		require.NoError(t, rec.ApplyList(rec.Ticket(), []notification.Notification{item("a", 1, false)}, 10))

		snap := rec.Snapshot()
		assert.True(t, snap.Items[0].IsRead)
		assert.Zero(t, snap.Unread)
	})

	t.Run("capped list leaves counter alone", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyUnread(tk, 42))

		list := []notification.Notification{item("b", 2, false), item("a", 1, false)}
		require.NoError(t, rec.ApplyList(tk, list, 2))

		snap := rec.Snapshot()
		assert.Len(t, snap.Items, 2)
		assert.Equal(t, 42, snap.Unread)
		assert.False(t, snap.Complete)
	})

	t.Run("late list does not resurrect a deleted item", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("5", 5, false), item("4", 4, false)}, 10))
		rec.Remove("5")
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("5", 5, false), item("4", 4, false)}, 10))

		snap := rec.Snapshot()
		assert.Equal(t, []string{"4"}, ids(snap.Items))
		assert.Equal(t, 1, snap.Unread)
	})

	t.Run("tombstone clears once the server drops the id", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false)}, 10))
		rec.Remove("a")
		require.NoError(t, rec.ApplyList(tk, nil, 10))

		// A brand new notification reusing the id is accepted again.
		require.NoError(t, rec.MergePush(rec.Ticket(), item("a", 9, false)))
		assert.Equal(t, []string{"a"}, ids(rec.Snapshot().Items))
	})

	t.Run("stale list is discarded", func(t *testing.T) {
		rec := newRunningReconciler(t)
		old := rec.Reset(alice)
		rec.Reset(session.Identity{UserID: "11"})

		err := rec.ApplyList(old, []notification.Notification{item("a", 1, false)}, 10)
		require.ErrorIs(t, err, notification.ErrStale)
		assert.Empty(t, rec.Snapshot().Items)
	})
}

func TestReconciler_Resync(t *testing.T) {
	rec := newRunningReconciler(t)
	tk := rec.Reset(alice)

	require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false), item("b", 2, false)}, 10))
	rec.MarkRead("a")
	rec.Remove("b")

	// Resync is the one path allowed to bring back unread state and deleted ids.
	require.NoError(t, rec.Resync(rec.Ticket(), []notification.Notification{item("b", 2, false), item("a", 1, false)}, 10))

	snap := rec.Snapshot()
	assert.Equal(t, []string{"b", "a"}, ids(snap.Items))
	assert.Equal(t, 2, snap.Unread)
	assert.True(t, snap.Complete)
}

func TestReconciler_ApplyUnread(t *testing.T) {
	t.Run("sets counter", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyUnread(tk, 7))
		assert.Equal(t, 7, rec.Snapshot().Unread)
	})

	t.Run("negative count floors at zero", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyUnread(tk, -3))
		assert.Zero(t, rec.Snapshot().Unread)
	})

	t.Run("count disagreeing with complete set marks it partial", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false)}, 10))
		require.True(t, rec.Snapshot().Complete)

		require.NoError(t, rec.ApplyUnread(tk, 3))
		snap := rec.Snapshot()
		assert.Equal(t, 3, snap.Unread)
		assert.False(t, snap.Complete)
	})

	t.Run("count issued before an optimistic mutation is superseded", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyUnread(tk, 3))

		issued := rec.Ticket()
		rec.MarkAllRead()

		err := rec.ApplyUnread(issued, 3)
		require.ErrorIs(t, err, notification.ErrStale)
		assert.Zero(t, rec.Snapshot().Unread)
	})

	t.Run("count for previous identity is discarded", func(t *testing.T) {
		rec := newRunningReconciler(t)
		old := rec.Reset(alice)
		rec.Reset(session.Identity{UserID: "11"})

		err := rec.ApplyUnread(old, 9)
		require.ErrorIs(t, err, notification.ErrStale)
		assert.Zero(t, rec.Snapshot().Unread)
	})
}

func TestReconciler_MarkRead(t *testing.T) {
	t.Run("known unread", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false), item("b", 2, false)}, 10))

		after := rec.MarkRead("a")
		assert.Greater(t, after.Gen, tk.Gen)

		snap := rec.Snapshot()
		n, _ := snap.Find("a")
		assert.True(t, n.IsRead)
		assert.Equal(t, 1, snap.Unread)
	})

	t.Run("known read does not decrement", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, true), item("b", 2, false)}, 10))

		rec.MarkRead("a")
		assert.Equal(t, 1, rec.Snapshot().Unread)
	})

	t.Run("unknown id in capped set decrements", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)

		list := make([]notification.Notification, 0, 10)
		for i := range 10 {
			list = append(list, item(fmt.Sprintf("n%d", i), 100-i, false))
		}
		require.NoError(t, rec.ApplyList(tk, list, 10))
		require.NoError(t, rec.ApplyUnread(tk, 15))

		rec.MarkRead("9")

		snap := rec.Snapshot()
		assert.Len(t, snap.Items, 10)
		_, found := snap.Find("9")
		assert.False(t, found)
		assert.Equal(t, 14, snap.Unread)
	})

	t.Run("unknown id in complete set does not decrement", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false)}, 10))

		rec.MarkRead("zzz")
		assert.Equal(t, 1, rec.Snapshot().Unread)
	})

	t.Run("counter never goes negative", func(t *testing.T) {
		rec := newRunningReconciler(t)
		rec.Reset(alice)

		rec.MarkRead("x")
		rec.MarkRead("y")
		assert.Zero(t, rec.Snapshot().Unread)
	})
}

func TestReconciler_MarkAllRead(t *testing.T) {
	rec := newRunningReconciler(t)
	tk := rec.Reset(alice)
	require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("1", 1, false), item("2", 2, false), item("3", 3, false)}, 10))
	require.Equal(t, 3, rec.Snapshot().Unread)

	rec.MarkAllRead()

	snap := rec.Snapshot()
	assert.Zero(t, snap.Unread)
	for _, n := range snap.Items {
		assert.True(t, n.IsRead, n.ID)
	}
}

func TestReconciler_Remove(t *testing.T) {
	t.Run("unread removal decrements once", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, false), item("b", 2, false)}, 10))

		rec.Remove("a")
		rec.Remove("a")

		snap := rec.Snapshot()
		assert.Equal(t, []string{"b"}, ids(snap.Items))
		assert.Equal(t, 1, snap.Unread)
	})

	t.Run("read removal keeps counter", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyList(tk, []notification.Notification{item("a", 1, true), item("b", 2, false)}, 10))

		rec.Remove("a")
		assert.Equal(t, 1, rec.Snapshot().Unread)
	})

	t.Run("absent id is a no-op", func(t *testing.T) {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		require.NoError(t, rec.ApplyUnread(tk, 4))

		rec.Remove("ghost")
		assert.Equal(t, 4, rec.Snapshot().Unread)
	})
}

func TestReconciler_Flags(t *testing.T) {
	rec := newRunningReconciler(t)
	tk := rec.Reset(alice)

	rec.SetListOpen(true)
	require.NoError(t, rec.SetConnected(tk, true))

	snap := rec.Snapshot()
	assert.True(t, snap.ListOpen)
	assert.True(t, snap.Connected)

	// The list surface outlives a session change; connectivity does not.
	rec.Reset(session.Identity{UserID: "11"})
	snap = rec.Snapshot()
	assert.True(t, snap.ListOpen)
	assert.False(t, snap.Connected)

	require.ErrorIs(t, rec.SetConnected(tk, true), notification.ErrStale)
}

func TestReconciler_PublishesInboxChanged(t *testing.T) {
	tb := testbus.New(t)
	rec := NewReconciler(tb.EventBus, zerolog.Nop())
	startReconciler(t, rec)

	tk := signIn(t, rec)
	require.NoError(t, rec.MergePush(tk, item("a", 1, false)))

	require.True(t, tb.WaitForCount(eventbus.EventInboxChanged, 3, time.Second))
	events := tb.Of(eventbus.EventInboxChanged)
	last := events[len(events)-1].(eventbus.InboxChangedPayload)
	assert.Equal(t, 1, last.Snapshot.Unread)
	assert.Equal(t, []string{"a"}, ids(last.Snapshot.Items))
}

func TestReconciler_StoppedLoopIsNoop(t *testing.T) {
	rec := NewReconciler(nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Start(ctx)
		close(done)
	}()

	rec.Reset(alice)
	cancel()
	<-done

	rec.MarkAllRead()
	assert.Equal(t, "10", rec.Snapshot().Identity.UserID)
}

func TestReconciler_PushedItemSurvivesOlderCompleteList(t *testing.T) {
	rec := newRunningReconciler(t)
	rec.Reset(alice)

	issued := rec.Ticket()
	require.NoError(t, rec.MergePush(rec.Ticket(), item("x", 9, false)))
	require.NoError(t, rec.ApplyList(issued, []notification.Notification{item("a", 1, false), item("b", 2, false)}, 50))

	snap := rec.Snapshot()
	assert.Equal(t, []string{"x", "b", "a"}, ids(snap.Items))
	assert.Equal(t, 3, snap.Unread)
	assert.True(t, snap.Complete)

	// A list issued after the push is authoritative for it.
	require.NoError(t, rec.ApplyList(rec.Ticket(), []notification.Notification{item("a", 1, false)}, 50))
	snap = rec.Snapshot()
	assert.Equal(t, []string{"a"}, ids(snap.Items))
	assert.Equal(t, 1, snap.Unread)
}

// orderedOutcome runs setup, takes the ticket a poll would carry, then
// applies first and second with it.
func orderedOutcome(t *testing.T, setup func(*Reconciler), first, second func(*Reconciler, session.Ticket)) notification.Snapshot {
	t.Helper()
	rec := newRunningReconciler(t)
	rec.Reset(alice)
	setup(rec)

	issued := rec.Ticket()
	first(rec, issued)
	second(rec, issued)
	return rec.Snapshot()
}

// Push and poll results must converge to the same state whichever arrives
// first, given the poll was issued before the push.
func TestReconciler_PushPollOrderIndependence(t *testing.T) {
	push := func(n notification.Notification) func(*Reconciler, session.Ticket) {
		return func(rec *Reconciler, _ session.Ticket) {
			_ = rec.MergePush(rec.Ticket(), n)
		}
	}
	list := func(limit int, items ...notification.Notification) func(*Reconciler, session.Ticket) {
		return func(rec *Reconciler, tk session.Ticket) {
			_ = rec.ApplyList(tk, items, limit)
		}
	}
	unread := func(count int) func(*Reconciler, session.Ticket) {
		return func(rec *Reconciler, tk session.Ticket) {
			_ = rec.ApplyUnread(tk, count)
		}
	}
	resync := func(limit int, items ...notification.Notification) func(*Reconciler, session.Ticket) {
		return func(rec *Reconciler, tk session.Ticket) {
			_ = rec.Resync(tk, items, limit)
		}
	}

	capped := func(rec *Reconciler) {
		_ = rec.ApplyList(rec.Ticket(), []notification.Notification{item("a", 1, false), item("b", 2, false)}, 2)
		_ = rec.ApplyUnread(rec.Ticket(), 5)
	}
	completeOne := func(rec *Reconciler) {
		_ = rec.ApplyList(rec.Ticket(), []notification.Notification{item("a", 1, false)}, 50)
	}
	fresh := func(*Reconciler) {}

	tests := []struct {
		name  string
		setup func(*Reconciler)
		push  func(*Reconciler, session.Ticket)
		poll  func(*Reconciler, session.Ticket)
	}{
		{"new push vs complete list from fresh state", fresh, push(item("x", 9, false)), list(50, item("a", 1, false), item("b", 2, false))},
		{"new push vs complete list from complete state", completeOne, push(item("x", 9, false)), list(50, item("a", 1, false), item("b", 2, false))},
		{"new push vs capped list", capped, push(item("x", 9, false)), list(2, item("c", 3, false), item("d", 4, false))},
		{"new push vs unread poll on capped set", fresh, push(item("x", 9, false)), unread(3)},
		{"new push vs agreeing unread poll on complete set", completeOne, push(item("x", 9, false)), unread(1)},
		{"new push vs disagreeing unread poll on complete set", completeOne, push(item("x", 9, false)), unread(4)},
		{"read push vs unread poll on capped set", capped, push(item("a", 1, true)), unread(5)},
		{"read push vs unread poll on complete set", completeOne, push(item("a", 1, true)), unread(1)},
		{"new push vs resync", completeOne, push(item("x", 9, false)), resync(50, item("a", 1, false))},
		{"read push vs complete list", completeOne, push(item("a", 1, true)), list(50, item("a", 1, false))},
		{"read push vs resync", completeOne, push(item("a", 1, true)), resync(50, item("a", 1, false))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pushFirst := orderedOutcome(t, tt.setup, tt.push, tt.poll)
			pollFirst := orderedOutcome(t, tt.setup, tt.poll, tt.push)

			assert.Equal(t, ids(pollFirst.Items), ids(pushFirst.Items))
			assert.Equal(t, pollFirst.Unread, pushFirst.Unread)
			assert.Equal(t, pollFirst.Complete, pushFirst.Complete)
		})
	}
}

// TestReconciler_RandomInterleaving drives random push, poll and command
// sequences and checks the set and counter invariants after every step.
func TestReconciler_RandomInterleaving(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for round := range 20 {
		rec := newRunningReconciler(t)
		tk := rec.Reset(alice)
		readSeen := make(map[string]bool)

		for step := range 200 {
			id := fmt.Sprintf("n%d", rng.IntN(8))
			switch rng.IntN(7) {
			case 0:
				_ = rec.MergePush(tk, item(id, rng.IntN(50), rng.IntN(2) == 0))
			case 1:
				list := make([]notification.Notification, 0, 4)
				for range rng.IntN(5) {
					list = append(list, item(fmt.Sprintf("n%d", rng.IntN(8)), rng.IntN(50), rng.IntN(2) == 0))
				}
				_ = rec.ApplyList(rec.Ticket(), list, 4)
			case 2:
				_ = rec.ApplyUnread(rec.Ticket(), rng.IntN(10))
			case 3:
				rec.MarkRead(id)
			case 4:
				rec.MarkAllRead()
			case 5:
				rec.Remove(id)
				delete(readSeen, id)
			case 6:
				_ = rec.ApplyUnread(tk, rng.IntN(10))
			}

			snap := rec.Snapshot()
			require.GreaterOrEqual(t, snap.Unread, 0, "round %d step %d", round, step)

			seen := make(map[string]bool)
			for _, n := range snap.Items {
				require.False(t, seen[n.ID], "duplicate %s in round %d step %d", n.ID, round, step)
				seen[n.ID] = true

				if readSeen[n.ID] {
					require.True(t, n.IsRead, "%s regressed in round %d step %d", n.ID, round, step)
				}
				if n.IsRead {
					readSeen[n.ID] = true
				}
			}
			// Ids that left the set start over if they come back.
			for id := range readSeen {
				if !seen[id] {
					delete(readSeen, id)
				}
			}
		}
	}
}
