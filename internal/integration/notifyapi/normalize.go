package notifyapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/colonyops/inbox/internal/core/notification"
)

// wireNotification accepts the field spellings seen across server versions.
type wireNotification struct {
	ID        json.RawMessage `json:"id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Message   string          `json:"message"`
	Category  string          `json:"category"`
	Type      string          `json:"type"`
	IsRead    *bool           `json:"isRead"`
	Read      *bool           `json:"read"`
	IsReadAlt *bool           `json:"is_read"`
	CreatedAt string          `json:"createdAt"`
	Created   string          `json:"created_at"`
	Link      string          `json:"link"`
	URL       string          `json:"url"`
}

func (w wireNotification) toDomain() (notification.Notification, error) {
	id, err := decodeID(w.ID)
	if err != nil {
		return notification.Notification{}, err
	}

	n := notification.Notification{
		ID:       id,
		Title:    w.Title,
		Body:     firstNonEmpty(w.Body, w.Message),
		Category: notification.ParseCategory(firstNonEmpty(w.Category, w.Type)),
		Link:     firstNonEmpty(w.Link, w.URL),
	}

	for _, flag := range []*bool{w.IsRead, w.Read, w.IsReadAlt} {
		if flag != nil {
			n.IsRead = *flag
			break
		}
	}

	if ts := firstNonEmpty(w.CreatedAt, w.Created); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return notification.Notification{}, fmt.Errorf("notification %s: createdAt: %w", id, err)
		}
		n.CreatedAt = t
	}

	return n, nil
}

// decodeID accepts string or numeric ids.
func decodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("notification without id")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		if s == "" {
			return "", errors.New("notification with empty id")
		}
		return s, nil
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return "", fmt.Errorf("id: %w", err)
	}
	return num.String(), nil
}

// DecodeNotification parses a single notification object.
func DecodeNotification(data []byte) (notification.Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return notification.Notification{}, err
	}
	return w.toDomain()
}

// decodeList accepts `[...]`, `{"notifications":[...]}`, `{"items":[...]}`
// and `{"data":[...]}`.
func decodeList(data []byte) ([]notification.Notification, error) {
	raw, err := unwrapList(data)
	if err != nil {
		return nil, err
	}

	var wire []wireNotification
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	out := make([]notification.Notification, 0, len(wire))
	for _, w := range wire {
		n, err := w.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func unwrapList(data []byte) (json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	if data[0] == '[' {
		return data, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	for _, key := range []string{"notifications", "items", "data"} {
		if raw, ok := envelope[key]; ok && len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '[' {
			return raw, nil
		}
	}
	return nil, errors.New("no notification list in response")
}

// decodeUnread normalises the unread endpoint. Servers answer with a list of
// unread notifications, a bare number, or an object carrying either.
func decodeUnread(data []byte) (int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return 0, errors.New("empty body")
	}

	switch data[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return 0, err
		}
		return len(items), nil
	case '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(data, &envelope); err != nil {
			return 0, err
		}
		for _, key := range []string{"count", "unread", "unreadCount", "unread_count", "total"} {
			if raw, ok := envelope[key]; ok {
				return decodeCount(raw)
			}
		}
		if raw, err := unwrapList(data); err == nil {
			return decodeUnread(raw)
		}
		return 0, errors.New("no unread count in response")
	default:
		return decodeCount(data)
	}
}

func decodeCount(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
