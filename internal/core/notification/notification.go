// Package notification defines the client-side notification model: the
// cached records, the ordered set that holds them and the contracts for the
// fetch layer and push transport that feed it.
package notification

import (
	"strings"
	"time"

	"github.com/colonyops/inbox/internal/core/session"
)

// Category classifies a notification.
type Category string

const (
	CategoryReminder Category = "reminder"
	CategoryProgress Category = "progress"
	CategoryMessage  Category = "message"
	CategoryOther    Category = "other"
)

// ParseCategory normalises a wire value. Unknown values map to CategoryOther.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryReminder, CategoryProgress, CategoryMessage:
		return c
	default:
		return CategoryOther
	}
}

// Notification is the client's cached copy of a server-side notification.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Category  Category  `json:"category"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	Link      string    `json:"link,omitempty"`
}

// Merge folds incoming into n. Known fields are unioned with incoming values
// taking precedence when set. IsRead never goes from true to false.
func (n Notification) Merge(incoming Notification) Notification {
	out := n
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.Body != "" {
		out.Body = incoming.Body
	}
	if incoming.Category != "" {
		out.Category = incoming.Category
	}
	if incoming.Link != "" {
		out.Link = incoming.Link
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = incoming.CreatedAt
	}
	out.IsRead = n.IsRead || incoming.IsRead
	return out
}

// Snapshot is the read-only projection of reconciled state handed to
// consumers. Items is owned by the snapshot and must not be mutated.
type Snapshot struct {
	Identity  session.Identity `json:"identity"`
	Items     []Notification   `json:"items"`
	Unread    int              `json:"unread"`
	Complete  bool             `json:"complete"`
	Connected bool             `json:"connected"`
	ListOpen  bool             `json:"listOpen"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Find returns the item with the given id.
func (s Snapshot) Find(id string) (Notification, bool) {
	for _, n := range s.Items {
		if n.ID == id {
			return n, true
		}
	}
	return Notification{}, false
}
