package notification

import "slices"

// Set is an ordered, most-recent-first collection of notifications keyed by
// id. It never holds two entries with the same id. Set is not safe for
// concurrent use; the reconciler owns it.
type Set struct {
	items []Notification
}

// NewSet builds a set from a server-ordered list. Later duplicates are merged
// into the first occurrence.
func NewSet(list []Notification) *Set {
	s := &Set{}
	s.Replace(list)
	return s
}

// Len returns the number of items.
func (s *Set) Len() int { return len(s.items) }

// Items returns a copy of the items in order.
func (s *Set) Items() []Notification {
	return slices.Clone(s.items)
}

// Get returns the item with the given id.
func (s *Set) Get(id string) (Notification, bool) {
	if i := s.index(id); i >= 0 {
		return s.items[i], true
	}
	return Notification{}, false
}

// Has reports whether id is present.
func (s *Set) Has(id string) bool { return s.index(id) >= 0 }

// Put inserts n if absent, or merges it into the existing entry. It returns
// the stored value and whether the id was new.
func (s *Set) Put(n Notification) (Notification, bool) {
	if i := s.index(n.ID); i >= 0 {
		s.items[i] = s.items[i].Merge(n)
		return s.items[i], false
	}

	// Keep most-recent-first. Items without a timestamp go to the front.
	pos := 0
	if !n.CreatedAt.IsZero() {
		pos = slices.IndexFunc(s.items, func(cur Notification) bool {
			return !cur.CreatedAt.After(n.CreatedAt)
		})
		if pos < 0 {
			pos = len(s.items)
		}
	}
	s.items = slices.Insert(s.items, pos, n)
	return n, true
}

// Replace discards all items and takes list as-is, deduplicated by id.
func (s *Set) Replace(list []Notification) {
	s.items = make([]Notification, 0, len(list))
	for _, n := range list {
		if i := s.index(n.ID); i >= 0 {
			s.items[i] = s.items[i].Merge(n)
			continue
		}
		s.items = append(s.items, n)
	}
}

// MarkRead sets IsRead on id. It reports whether the id was present and
// whether it was unread before the call.
func (s *Set) MarkRead(id string) (found, wasUnread bool) {
	i := s.index(id)
	if i < 0 {
		return false, false
	}
	wasUnread = !s.items[i].IsRead
	s.items[i].IsRead = true
	return true, wasUnread
}

// MarkAllRead marks every item read and returns how many changed.
func (s *Set) MarkAllRead() int {
	changed := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed++
		}
	}
	return changed
}

// Remove deletes id and returns the removed item.
func (s *Set) Remove(id string) (Notification, bool) {
	i := s.index(id)
	if i < 0 {
		return Notification{}, false
	}
	n := s.items[i]
	s.items = slices.Delete(s.items, i, i+1)
	return n, true
}

// UnreadTally counts unread items.
func (s *Set) UnreadTally() int {
	count := 0
	for _, n := range s.items {
		if !n.IsRead {
			count++
		}
	}
	return count
}

func (s *Set) index(id string) int {
	return slices.IndexFunc(s.items, func(n Notification) bool { return n.ID == id })
}
