package inbox

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
)

// fakeAPI is an in-memory notification.API. Unread counts and lists are
// keyed by the credential token read at call time.
type fakeAPI struct {
	creds session.Credentials

	mu        sync.Mutex
	lists     map[string][]notification.Notification
	counts    map[string]int
	unreadErr map[string]error
	listErr   error
	cmdErr    error
	calls     map[string]int

	// hold, when set, blocks the next call to op until released.
	hold map[string]chan struct{}
	// started receives op names as calls begin.
	started chan string
}

func newFakeAPI(creds session.Credentials) *fakeAPI {
	return &fakeAPI{
		creds:     creds,
		lists:     make(map[string][]notification.Notification),
		counts:    make(map[string]int),
		unreadErr: make(map[string]error),
		calls:     make(map[string]int),
		hold:      make(map[string]chan struct{}),
		started:   make(chan string, 64),
	}
}

func (f *fakeAPI) setList(token string, items ...notification.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[token] = items
}

func (f *fakeAPI) setCount(token string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[token] = n
}

func (f *fakeAPI) setUnreadErr(token string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreadErr[token] = err
}

func (f *fakeAPI) setCmdErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmdErr = err
}

// holdNext blocks the next call to op and returns its release function.
// Earlier start signals are discarded so waitStarted sees only new calls.
func (f *fakeAPI) holdNext(op string) func() {
	for len(f.started) > 0 {
		<-f.started
	}
	ch := make(chan struct{})
	f.mu.Lock()
	f.hold[op] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call, captures the token and blocks if op is held.
func (f *fakeAPI) enter(ctx context.Context, op string) string {
	token := f.creds.Token()

	f.mu.Lock()
	f.calls[op]++
	ch := f.hold[op]
	delete(f.hold, op)
	f.mu.Unlock()

	select {
	case f.started <- op:
	default:
	}

	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
		}
	}
	return token
}

func (f *fakeAPI) List(ctx context.Context, limit int) ([]notification.Notification, error) {
	token := f.enter(ctx, "list")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	items := slices.Clone(f.lists[token])
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeAPI) Unread(ctx context.Context) (int, error) {
	token := f.enter(ctx, "unread")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.unreadErr[token]; err != nil {
		return 0, err
	}
	return f.counts[token], nil
}

func (f *fakeAPI) MarkRead(ctx context.Context, id string) error {
	f.enter(ctx, "mark-read")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmdErr
}

func (f *fakeAPI) MarkAllRead(ctx context.Context) error {
	token := f.enter(ctx, "mark-all-read")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	f.counts[token] = 0
	return nil
}

func (f *fakeAPI) Delete(ctx context.Context, id string) error {
	f.enter(ctx, "delete")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cmdErr
}

func (f *fakeAPI) CreateTest(ctx context.Context) error {
	token := f.enter(ctx, "create-test")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cmdErr != nil {
		return f.cmdErr
	}
	n := notification.Notification{ID: "test-1", Title: "Test", CreatedAt: time.Now()}
	f.lists[token] = append([]notification.Notification{n}, f.lists[token]...)
	f.counts[token]++
	return nil
}

// waitStarted blocks until op begins or fails the test.
func (f *fakeAPI) waitStarted(t *testing.T, op string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-f.started:
			if got == op {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", op)
		}
	}
}

// fakeTransport hands out channels the test writes to.
type fakeTransport struct {
	mu     sync.Mutex
	subs   []chan notification.PushEvent
	ctxs   []context.Context
	subErr error
}

func (f *fakeTransport) Subscribe(ctx context.Context) (<-chan notification.PushEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	ch := make(chan notification.PushEvent, 16)
	f.subs = append(f.subs, ch)
	f.ctxs = append(f.ctxs, ctx)
	return ch, nil
}

func (f *fakeTransport) last() (chan notification.PushEvent, context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil, nil
	}
	return f.subs[len(f.subs)-1], f.ctxs[len(f.ctxs)-1]
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func startReconciler(t *testing.T, rec *Reconciler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go rec.Start(ctx)
	t.Cleanup(cancel)
}

func newRunningReconciler(t *testing.T) *Reconciler {
	t.Helper()
	rec := NewReconciler(nil, zerolog.Nop())
	startReconciler(t, rec)
	return rec
}

// signIn resets rec to alice and applies an empty complete list, so the
// counter follows pushes.
func signIn(t *testing.T, rec *Reconciler) session.Ticket {
	t.Helper()
	tk := rec.Reset(alice)
	require.NoError(t, rec.ApplyList(tk, nil, 10))
	return rec.Ticket()
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// item builds a notification created minute minutes after baseTime.
func item(id string, minute int, read bool) notification.Notification {
	return notification.Notification{
		ID:        id,
		Title:     "title " + id,
		CreatedAt: baseTime.Add(time.Duration(minute) * time.Minute),
		IsRead:    read,
	}
}

func ids(items []notification.Notification) []string {
	out := make([]string, 0, len(items))
	for _, n := range items {
		out = append(out, n.ID)
	}
	return out
}
