// Package stores implements persistence interfaces on top of the SQLite db.
package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/inbox/internal/core/notify"
	"github.com/colonyops/inbox/internal/data/db"
)

// DefaultNoticeRetention caps how many notices are kept.
const DefaultNoticeRetention = 500

// NoticeStore implements notify.Store using SQLite.
type NoticeStore struct {
	db     *db.DB
	retain int64
}

var _ notify.Store = (*NoticeStore)(nil)

// NewNoticeStore creates a SQLite-backed notice store keeping at most retain
// rows. A retain of 0 keeps everything.
func NewNoticeStore(database *db.DB, retain int) *NoticeStore {
	return &NoticeStore{db: database, retain: int64(retain)}
}

// Save persists a notice and returns its generated ID. Older rows beyond the
// retention limit are pruned in the same transaction.
func (s *NoticeStore) Save(ctx context.Context, n notify.Notice) (int64, error) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	var id int64
	err := s.db.WithTx(ctx, func(q *db.Queries) error {
		var err error
		id, err = q.InsertNotice(ctx, db.InsertNoticeParams{
			Level:     string(n.Level),
			Message:   n.Message,
			CreatedAt: n.CreatedAt.UnixNano(),
		})
		if err != nil {
			return err
		}

		if s.retain > 0 {
			_, err = q.PruneNotices(ctx, s.retain)
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert notice: %w", err)
	}

	return id, nil
}

// List returns all notices, newest first.
func (s *NoticeStore) List(ctx context.Context) ([]notify.Notice, error) {
	rows, err := s.db.Queries().ListNotices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}

	result := make([]notify.Notice, 0, len(rows))
	for _, row := range rows {
		result = append(result, notify.Notice{
			ID:        row.ID,
			Level:     notify.Level(row.Level),
			Message:   row.Message,
			CreatedAt: time.Unix(0, row.CreatedAt),
		})
	}

	return result, nil
}

// Clear deletes all notices.
func (s *NoticeStore) Clear(ctx context.Context) error {
	if err := s.db.Queries().DeleteAllNotices(ctx); err != nil {
		return fmt.Errorf("clear notices: %w", err)
	}
	return nil
}

// Count returns the number of stored notices.
func (s *NoticeStore) Count(ctx context.Context) (int64, error) {
	count, err := s.db.Queries().CountNotices(ctx)
	if err != nil {
		return 0, fmt.Errorf("count notices: %w", err)
	}
	return count, nil
}
