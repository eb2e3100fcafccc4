package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the notice table statements.
type Queries struct {
	db DBTX
}

// New binds queries to a connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx rebinds the queries to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Notice is a row in the notices table.
type Notice struct {
	ID        int64
	Level     string
	Message   string
	CreatedAt int64 // unix nanos
}

// InsertNoticeParams are the columns for InsertNotice.
type InsertNoticeParams struct {
	Level     string
	Message   string
	CreatedAt int64
}

const insertNotice = `INSERT INTO notices (level, message, created_at) VALUES (?, ?, ?) RETURNING id`

func (q *Queries) InsertNotice(ctx context.Context, arg InsertNoticeParams) (int64, error) {
	var id int64
	err := q.db.QueryRowContext(ctx, insertNotice, arg.Level, arg.Message, arg.CreatedAt).Scan(&id)
	return id, err
}

const listNotices = `SELECT id, level, message, created_at FROM notices ORDER BY created_at DESC, id DESC`

func (q *Queries) ListNotices(ctx context.Context) ([]Notice, error) {
	rows, err := q.db.QueryContext(ctx, listNotices)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Notice
	for rows.Next() {
		var n Notice
		if err := rows.Scan(&n.ID, &n.Level, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

const deleteAllNotices = `DELETE FROM notices`

func (q *Queries) DeleteAllNotices(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllNotices)
	return err
}

const countNotices = `SELECT COUNT(*) FROM notices`

func (q *Queries) CountNotices(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countNotices).Scan(&count)
	return count, err
}

const pruneNotices = `DELETE FROM notices WHERE id NOT IN (SELECT id FROM notices ORDER BY created_at DESC, id DESC LIMIT ?)`

// PruneNotices keeps only the newest keep rows.
func (q *Queries) PruneNotices(ctx context.Context, keep int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, pruneNotices, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
