package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Inbox stores in-app items and pushes them to live subscribers.
type Inbox struct {
	storage Storage
	hub     *Hub
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Inbox)

func WithLogger(l *slog.Logger) Option {
	return func(i *Inbox) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides time.Now for read timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(i *Inbox) {
		if now != nil {
			i.now = now
		}
	}
}

// WithHub shares a hub between inboxes. By default each inbox owns one.
func WithHub(h *Hub) Option {
	return func(i *Inbox) {
		if h != nil {
			i.hub = h
		}
	}
}

// New creates an inbox on top of storage.
func New(storage Storage, opts ...Option) *Inbox {
	i := &Inbox{
		storage: storage,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.hub == nil {
		i.hub = NewHub(16)
	}
	return i
}

// Deliver persists item and then publishes it to live subscribers.
// Storing is what counts; the live push is best effort.
func (i *Inbox) Deliver(ctx context.Context, item Item) (Item, error) {
	if item.RecipientID == "" {
		return Item{}, ErrRecipientRequired
	}
	if item.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return Item{}, fmt.Errorf("failed to generate inbox item id: %w", err)
		}
		item.ID = id
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = i.now().UTC()
	}

	if err := i.storage.Create(ctx, item); err != nil {
		return Item{}, fmt.Errorf("failed to store inbox item: %w", err)
	}

	live := i.hub.Publish(item)
	i.logger.LogAttrs(ctx, slog.LevelDebug, "inbox item delivered",
		logger.RecipientID(item.RecipientID),
		logger.NotificationID(item.NotificationID),
		slog.Int("live_subscribers", live),
	)

	return item, nil
}

func (i *Inbox) Get(ctx context.Context, recipientID string, id uuid.UUID) (Item, error) {
	return i.storage.Get(ctx, recipientID, id)
}

func (i *Inbox) List(ctx context.Context, recipientID string, opts ListOptions) ([]Item, error) {
	if opts.Now.IsZero() {
		opts.Now = i.now()
	}
	return i.storage.List(ctx, recipientID, opts)
}

// MarkRead marks one item read. Marking an already read item is not an error.
func (i *Inbox) MarkRead(ctx context.Context, recipientID string, id uuid.UUID) error {
	if _, err := i.storage.Get(ctx, recipientID, id); err != nil {
		return err
	}
	_, err := i.storage.MarkRead(ctx, recipientID, i.now().UTC(), id)
	return err
}

// MarkAllRead marks every visible unread item read and returns how many changed.
func (i *Inbox) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	unread, err := i.List(ctx, recipientID, ListOptions{OnlyUnread: true})
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	ids := make([]uuid.UUID, len(unread))
	for n, it := range unread {
		ids[n] = it.ID
	}
	return i.storage.MarkRead(ctx, recipientID, i.now().UTC(), ids...)
}

func (i *Inbox) CountUnread(ctx context.Context, recipientID string) (int, error) {
	return i.storage.CountUnread(ctx, recipientID, i.now())
}

// Subscribe streams items delivered to recipientID until ctx is done.
func (i *Inbox) Subscribe(ctx context.Context, recipientID string) (*Subscription, error) {
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	return i.hub.Subscribe(ctx, recipientID)
}

// Close ends all live subscriptions.
func (i *Inbox) Close() {
	i.hub.Close()
}
