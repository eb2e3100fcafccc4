// Package notifyapi is the fetch layer for the notification REST API. It
// retries with exponential backoff, classifies failures into network, HTTP
// and parse errors, and normalises response shapes before they reach the
// reconciler.
package notifyapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/inbox/internal/core/logging"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
)

const maxBodyBytes = 4 << 20

// Options configures a Client.
type Options struct {
	BaseURL     string
	Credentials session.Credentials
	HTTPClient  *http.Client
	Timeout     time.Duration
	Reads       RetryPolicy
	Commands    RetryPolicy
	Logger      zerolog.Logger
}

// Client implements notification.API over HTTP.
type Client struct {
	baseURL  string
	creds    session.Credentials
	http     *http.Client
	reads    RetryPolicy
	commands RetryPolicy
	log      zerolog.Logger

	now func() time.Time
}

var _ notification.API = (*Client)(nil)

// New creates a Client. Zero retry policies fall back to the defaults.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	if opts.Reads.MaxAttempts == 0 {
		opts.Reads = DefaultReadPolicy()
	}
	if opts.Commands.MaxAttempts == 0 {
		opts.Commands = DefaultCommandPolicy()
	}
	if opts.Credentials == nil {
		opts.Credentials = session.StaticToken("")
	}

	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		creds:    opts.Credentials,
		http:     hc,
		reads:    opts.Reads,
		commands: opts.Commands,
		log:      opts.Logger,
		now:      time.Now,
	}, nil
}

// List returns up to limit notifications, most recent first.
func (c *Client) List(ctx context.Context, limit int) ([]notification.Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out []notification.Notification
	err := c.do(ctx, call{
		op:     "list",
		method: http.MethodGet,
		path:   "/notifications",
		query:  q,
		policy: c.reads,
		decode: func(body []byte) error {
			var err error
			out, err = decodeList(body)
			return err
		},
	})
	return out, err
}

// Unread returns the unread count. Each attempt is cache-busted.
func (c *Client) Unread(ctx context.Context) (int, error) {
	var count int
	err := c.do(ctx, call{
		op:        "unread",
		method:    http.MethodGet,
		path:      "/notifications/unread",
		policy:    c.reads,
		cacheBust: true,
		decode: func(body []byte) error {
			var err error
			count, err = decodeUnread(body)
			return err
		},
	})
	return count, err
}

// MarkRead marks one notification read.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("mark-read: empty id")
	}
	return c.do(ctx, call{
		op:     "mark-read",
		method: http.MethodPost,
		path:   "/notifications/read/" + url.PathEscape(id),
		policy: c.commands,
	})
}

// MarkAllRead marks every notification read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, call{
		op:     "mark-all-read",
		method: http.MethodPost,
		path:   "/notifications/read-all",
		policy: c.commands,
	})
}

// Delete removes a notification. A 404 means it is already gone.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("delete: empty id")
	}
	return c.do(ctx, call{
		op:         "delete",
		method:     http.MethodDelete,
		path:       "/notifications/" + url.PathEscape(id),
		policy:     c.commands,
		notFoundOK: true,
	})
}

// CreateTest asks the server to synthesise a notification.
func (c *Client) CreateTest(ctx context.Context) error {
	return c.do(ctx, call{
		op:     "create-test",
		method: http.MethodPost,
		path:   "/notifications/test",
		policy: c.commands,
	})
}

type call struct {
	op         string
	method     string
	path       string
	query      url.Values
	policy     RetryPolicy
	cacheBust  bool
	notFoundOK bool
	decode     func([]byte) error // nil ignores the body
}

// do runs one logical request with retries. All attempts share a request id.
func (c *Client) do(ctx context.Context, cl call) error {
	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)

	attempt := 0
	operation := func() error {
		attempt++
		err := c.attempt(ctx, cl, requestID)
		if err == nil {
			return nil
		}
		if retryable(err, cl.policy) {
			return err
		}
		return backoff.Permanent(err)
	}

	onRetry := func(err error, wait time.Duration) {
		c.log.Debug().Ctx(ctx).
			Err(err).
			Str("op", cl.op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("request failed, retrying")
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(cl.policy.backOff(), ctx), onRetry)
	if err != nil {
		c.log.Warn().Ctx(ctx).
			Err(err).
			Str("op", cl.op).
			Int("attempts", attempt).
			Int("status", notification.StatusCode(err)).
			Msg("request failed")
	}
	return err
}

func retryable(err error, policy RetryPolicy) bool {
	var httpErr *notification.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return policy.RetryHTTP && httpErr.Temporary()
	case notification.IsNetwork(err), notification.IsParse(err):
		return true
	default:
		return false
	}
}

func (c *Client) attempt(ctx context.Context, cl call, requestID string) error {
	u := c.baseURL + cl.path
	q := url.Values{}
	for k, v := range cl.query {
		q[k] = v
	}
	if cl.cacheBust {
		q.Set("_", strconv.FormatInt(c.now().UnixNano(), 10))
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, u, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", cl.op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if token := c.creds.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if cl.cacheBust {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &notification.NetworkError{Op: cl.op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &notification.NetworkError{Op: cl.op, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode == http.StatusNotFound && cl.notFoundOK {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &notification.HTTPError{Op: cl.op, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	if cl.decode == nil {
		return nil
	}
	if err := cl.decode(body); err != nil {
		return &notification.ParseError{Op: cl.op, Err: err}
	}
	return nil
}

// errorMessage extracts a short server message for logs.
func errorMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
