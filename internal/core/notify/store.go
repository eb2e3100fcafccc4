// Package notify defines user-visible notices: short, calm messages raised
// when a background operation fails or the live channel changes state.
package notify

import (
	"context"
	"time"
)

// Level represents the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is a single user-visible message.
type Notice struct {
	ID        int64     `json:"id"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists notices to durable storage.
type Store interface {
	Save(ctx context.Context, n Notice) (int64, error)
	List(ctx context.Context) ([]Notice, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}
