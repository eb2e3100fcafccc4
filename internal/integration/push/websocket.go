// Package push implements the live notification transport over a websocket.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
	"github.com/colonyops/inbox/internal/integration/notifyapi"
)

const (
	frameNotification = "notification"
	readLimit         = 1 << 20
	eventBuffer       = 32
)

// ErrNoCredential is returned when subscribing while signed out.
var ErrNoCredential = errors.New("push: no credential")

// Options configures a WebsocketTransport.
type Options struct {
	URL          string
	Credentials  session.Credentials
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Logger       zerolog.Logger
}

// WebsocketTransport streams notifications from the server. Each Subscribe
// call owns one connection and redials it with backoff until ctx ends.
type WebsocketTransport struct {
	url   string
	creds session.Credentials
	min   time.Duration
	max   time.Duration
	log   zerolog.Logger
}

var _ notification.Transport = (*WebsocketTransport)(nil)

// New creates a transport.
func New(opts Options) *WebsocketTransport {
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = opts.ReconnectMin
	}
	if opts.Credentials == nil {
		opts.Credentials = session.StaticToken("")
	}
	return &WebsocketTransport{
		url:   opts.URL,
		creds: opts.Credentials,
		min:   opts.ReconnectMin,
		max:   opts.ReconnectMax,
		log:   opts.Logger,
	}
}

// Subscribe starts streaming. The returned channel is closed after ctx is
// cancelled. The credential is read on every dial.
func (t *WebsocketTransport) Subscribe(ctx context.Context) (<-chan notification.PushEvent, error) {
	if t.url == "" {
		return nil, errors.New("push: no stream url")
	}
	if t.creds.Token() == "" {
		return nil, ErrNoCredential
	}

	out := make(chan notification.PushEvent, eventBuffer)
	go t.run(ctx, out)
	return out, nil
}

type stream struct {
	out       chan<- notification.PushEvent
	connected *bool
}

func (s *stream) setConnected(ctx context.Context, connected bool) {
	if s.connected != nil && *s.connected == connected {
		return
	}
	s.connected = &connected
	s.emit(ctx, notification.PushEvent{Kind: notification.PushConnectivity, Connected: connected})
}

func (s *stream) emit(ctx context.Context, ev notification.PushEvent) {
	select {
	case s.out <- ev:
	case <-ctx.Done():
	}
}

func (t *WebsocketTransport) run(ctx context.Context, out chan notification.PushEvent) {
	defer close(out)

	st := &stream{out: out}
	b := t.backOff()

	for {
		err := t.connect(ctx, st, b)
		if ctx.Err() != nil {
			return
		}

		st.setConnected(ctx, false)

		wait := b.NextBackOff()
		t.log.Debug().Err(err).Dur("wait", wait).Msg("push stream down, reconnecting")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect dials once and reads frames until the connection fails.
func (t *WebsocketTransport) connect(ctx context.Context, st *stream, b backoff.BackOff) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.creds.Token())

	conn, _, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	conn.SetReadLimit(readLimit)

	b.Reset()
	st.setConnected(ctx, true)
	t.log.Debug().Str("url", t.url).Msg("push stream connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		n, ok := t.decode(data)
		if !ok {
			continue
		}
		st.emit(ctx, notification.PushEvent{Kind: notification.PushNotification, Notification: n})
	}
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// decode ignores unknown frame types and malformed payloads.
func (t *WebsocketTransport) decode(data []byte) (notification.Notification, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.log.Warn().Err(err).Msg("malformed push frame")
		return notification.Notification{}, false
	}
	if f.Type != frameNotification {
		t.log.Debug().Str("type", f.Type).Msg("ignoring push frame")
		return notification.Notification{}, false
	}

	n, err := notifyapi.DecodeNotification(f.Data)
	if err != nil {
		t.log.Warn().Err(err).Msg("malformed push notification")
		return notification.Notification{}, false
	}
	return n, true
}

func (t *WebsocketTransport) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.min
	b.MaxInterval = t.max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
