package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/inbox"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

const inboxTable = "inbox_items"

var inboxColumns = []string{
	"id", "recipient_id", "notification_id", "category", "priority",
	"title", "body", "data", "read_at", "created_at", "expires_at",
}

// Inbox stores in-app items in the inbox_items table, so every process
// serving the inbox API sees what any dispatcher delivered.
type Inbox struct {
	db DB
	sb squirrel.StatementBuilderType
}

// NewInbox creates an inbox storage over db.
func NewInbox(db DB) *Inbox {
	return &Inbox{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

var _ inbox.Storage = (*Inbox)(nil)

func (s *Inbox) Create(ctx context.Context, item inbox.Item) error {
	const op = "pgstore.CreateInboxItem"

	if item.RecipientID == "" {
		return inbox.ErrRecipientRequired
	}

	var readAt *time.Time
	if item.Read {
		readAt = item.ReadAt
		if readAt == nil {
			readAt = &item.CreatedAt
		}
	}

	query, args, err := s.sb.Insert(inboxTable).
		Columns(inboxColumns...).
		Values(
			item.ID, item.RecipientID, item.NotificationID, item.Category, item.Priority,
			item.Title, item.Body, dataOrEmpty(item.Data), readAt, item.CreatedAt, item.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return inbox.ErrDuplicateItem
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Inbox) Get(ctx context.Context, recipientID string, id uuid.UUID) (inbox.Item, error) {
	const op = "pgstore.GetInboxItem"

	query, args, err := s.sb.Select(inboxColumns...).
		From(inboxTable).
		Where(squirrel.Eq{"id": id, "recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return inbox.Item{}, fmt.Errorf("%s: build query: %w", op, err)
	}

	item, err := scanInboxItem(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return inbox.Item{}, inbox.ErrItemNotFound
		}
		return inbox.Item{}, fmt.Errorf("%s: %w", op, err)
	}
	return item, nil
}

// List returns the recipient's live items newest first.
func (s *Inbox) List(ctx context.Context, recipientID string, opts inbox.ListOptions) ([]inbox.Item, error) {
	const op = "pgstore.ListInboxItems"

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	q := s.sb.Select(inboxColumns...).
		From(inboxTable).
		Where(squirrel.Eq{"recipient_id": recipientID}).
		Where(live(now)).
		OrderBy("created_at DESC", "id DESC")
	if opts.OnlyUnread {
		q = q.Where(squirrel.Eq{"read_at": nil})
	}
	if opts.Since != nil {
		q = q.Where(squirrel.GtOrEq{"created_at": *opts.Since})
	}
	if opts.Limit > 0 {
		q = q.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Offset(uint64(opts.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := []inbox.Item{}
	for rows.Next() {
		item, err := scanInboxItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

// MarkRead reports how many of ids went from unread to read.
func (s *Inbox) MarkRead(ctx context.Context, recipientID string, now time.Time, ids ...uuid.UUID) (int, error) {
	const op = "pgstore.MarkInboxRead"

	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := s.sb.Update(inboxTable).
		Set("read_at", now).
		Where(squirrel.Eq{"recipient_id": recipientID, "id": ids, "read_at": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build query: %w", op, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Inbox) CountUnread(ctx context.Context, recipientID string, now time.Time) (int, error) {
	const op = "pgstore.CountInboxUnread"

	query, args, err := s.sb.Select("COUNT(*)").
		From(inboxTable).
		Where(squirrel.Eq{"recipient_id": recipientID, "read_at": nil}).
		Where(live(now)).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build query: %w", op, err)
	}

	var count int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func live(now time.Time) squirrel.Sqlizer {
	return squirrel.Or{
		squirrel.Eq{"expires_at": nil},
		squirrel.Gt{"expires_at": now},
	}
}

func scanInboxItem(row rowScanner) (inbox.Item, error) {
	var item inbox.Item
	err := row.Scan(
		&item.ID, &item.RecipientID, &item.NotificationID, &item.Category, &item.Priority,
		&item.Title, &item.Body, &item.Data, &item.ReadAt, &item.CreatedAt, &item.ExpiresAt,
	)
	if err != nil {
		return inbox.Item{}, err
	}
	item.Read = item.ReadAt != nil
	return item, nil
}
