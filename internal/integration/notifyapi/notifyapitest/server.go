// Package notifyapitest provides an in-memory notification server for tests.
// It serves the REST routes and the push stream, keeps per-token state, and
// can inject failures.
package notifyapitest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"

	"github.com/colonyops/inbox/internal/core/notification"
)

// Operation names match the client's op labels.
const (
	OpList        = "list"
	OpUnread      = "unread"
	OpMarkRead    = "mark-read"
	OpMarkAllRead = "mark-all-read"
	OpDelete      = "delete"
	OpCreateTest  = "create-test"
	OpStream      = "stream"
)

// Server is a fake notification API backed by memory.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	inboxes  map[string][]notification.Notification
	failures map[string][]int
	calls    map[string]int
	streams  map[string][]chan []byte
	headers  map[string]http.Header
	seq      int
}

// New starts a server and registers cleanup with t.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		inboxes:  make(map[string][]notification.Notification),
		failures: make(map[string][]int),
		calls:    make(map[string]int),
		streams:  make(map[string][]chan []byte),
		headers:  make(map[string]http.Header),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api/notifications")
	api.Use(s.authenticate)
	api.GET("", s.track(OpList), s.handleList)
	api.GET("/unread", s.track(OpUnread), s.handleUnread)
	api.POST("/read/:id", s.track(OpMarkRead), s.handleMarkRead)
	api.POST("/read-all", s.track(OpMarkAllRead), s.handleMarkAllRead)
	api.DELETE("/:id", s.track(OpDelete), s.handleDelete)
	api.POST("/test", s.track(OpCreateTest), s.handleCreateTest)
	api.GET("/stream", s.track(OpStream), s.handleStream)

	s.srv = httptest.NewServer(router)
	t.Cleanup(s.Close)
	return s
}

// URL is the API base, including the /api prefix.
func (s *Server) URL() string { return s.srv.URL + "/api" }

// StreamURL is the websocket endpoint.
func (s *Server) StreamURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/api/notifications/stream"
}

// Close disconnects streams and stops the server.
func (s *Server) Close() {
	s.DropStreams()
	s.srv.Close()
}

// Seed replaces the inbox for token.
func (s *Server) Seed(token string, items ...notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxes[token] = slices.Clone(items)
	s.sortLocked(token)
}

// Items returns a copy of the inbox for token, newest first.
func (s *Server) Items(token string) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.inboxes[token])
}

// Push stores n in the inbox for token and sends it to open streams.
func (s *Server) Push(token string, n notification.Notification) {
	frame, _ := json.Marshal(map[string]any{"type": "notification", "data": n})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertLocked(token, n)
	for _, ch := range s.streams[token] {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Streams returns the number of open push streams for token.
func (s *Server) Streams(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[token])
}

// DropStreams closes every open push stream.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, subs := range s.streams {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.streams, token)
	}
}

// FailNext makes the next len(statuses) calls to op answer with the given
// statuses. Status 0 closes the connection without a response.
func (s *Server) FailNext(op string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], statuses...)
}

// Calls returns how many requests op received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// LastHeader returns the headers of the most recent request to op.
func (s *Server) LastHeader(op string) http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers[op].Clone()
}

func (s *Server) authenticate(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	c.Set("token", token)
	c.Next()
}

func (s *Server) track(op string) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[op]++
		s.headers[op] = c.Request.Header.Clone()
		var status int
		failing := len(s.failures[op]) > 0
		if failing {
			status = s.failures[op][0]
			s.failures[op] = s.failures[op][1:]
		}
		s.mu.Unlock()

		if !failing {
			c.Next()
			return
		}
		if status == 0 {
			hijackAndClose(c)
			return
		}
		c.AbortWithStatusJSON(status, gin.H{"error": http.StatusText(status)})
	}
}

func hijackAndClose(c *gin.Context) {
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	_ = conn.Close()
	c.Abort()
}

func (s *Server) handleList(c *gin.Context) {
	items := s.Items(c.GetString("token"))
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if len(items) > limit {
			items = items[:limit]
		}
	}
	c.JSON(http.StatusOK, gin.H{"notifications": items})
}

func (s *Server) handleUnread(c *gin.Context) {
	count := 0
	for _, n := range s.Items(c.GetString("token")) {
		if !n.IsRead {
			count++
		}
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (s *Server) handleMarkRead(c *gin.Context) {
	token, id := c.GetString("token"), c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inboxes[token] {
		if s.inboxes[token][i].ID == id {
			s.inboxes[token][i].IsRead = true
			c.Status(http.StatusNoContent)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
}

func (s *Server) handleMarkAllRead(c *gin.Context) {
	token := c.GetString("token")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.inboxes[token] {
		s.inboxes[token][i].IsRead = true
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDelete(c *gin.Context) {
	token, id := c.GetString("token"), c.Param("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.inboxes[token])
	s.inboxes[token] = slices.DeleteFunc(s.inboxes[token], func(n notification.Notification) bool {
		return n.ID == id
	})
	if len(s.inboxes[token]) == before {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCreateTest(c *gin.Context) {
	token := c.GetString("token")

	s.mu.Lock()
	s.seq++
	n := notification.Notification{
		ID:        fmt.Sprintf("test-%d", s.seq),
		Title:     "Test notification",
		Body:      "This is a test notification.",
		Category:  notification.CategoryOther,
		CreatedAt: time.Now().UTC(),
	}
	s.upsertLocked(token, n)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, n)
}

func (s *Server) handleStream(c *gin.Context) {
	token := c.GetString("token")

	conn, err := websocket.Accept(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ch := make(chan []byte, 16)
	s.mu.Lock()
	s.streams[token] = append(s.streams[token], ch)
	s.mu.Unlock()

	defer s.removeStream(token, ch)

	// CloseRead discards client frames and cancels ctx once the peer leaves.
	ctx := conn.CloseRead(c.Request.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-ch:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server dropped stream")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) removeStream(token string, ch chan []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[token] = slices.DeleteFunc(s.streams[token], func(c chan []byte) bool { return c == ch })
	if len(s.streams[token]) == 0 {
		delete(s.streams, token)
	}
}

func (s *Server) upsertLocked(token string, n notification.Notification) {
	for i := range s.inboxes[token] {
		if s.inboxes[token][i].ID == n.ID {
			s.inboxes[token][i] = n
			s.sortLocked(token)
			return
		}
	}
	s.inboxes[token] = append(s.inboxes[token], n)
	s.sortLocked(token)
}

func (s *Server) sortLocked(token string) {
	slices.SortStableFunc(s.inboxes[token], func(a, b notification.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
