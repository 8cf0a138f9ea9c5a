package inbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Storage persists inbox items.
type Storage interface {
	Create(ctx context.Context, item Item) error
	Get(ctx context.Context, recipientID string, id uuid.UUID) (Item, error)
	List(ctx context.Context, recipientID string, opts ListOptions) ([]Item, error)
	// MarkRead marks the given items read and returns how many changed.
	MarkRead(ctx context.Context, recipientID string, now time.Time, ids ...uuid.UUID) (int, error)
	CountUnread(ctx context.Context, recipientID string, now time.Time) (int, error)
}

// ListOptions filters and pages List results. Items come newest first.
type ListOptions struct {
	Limit      int // 0 means no limit
	Offset     int
	OnlyUnread bool
	Since      *time.Time
	Now        time.Time // expiry reference; zero means time.Now()
}
