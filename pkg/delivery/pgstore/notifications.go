package pgstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

const notificationsTable = "notifications"

var notificationColumns = []string{
	"id", "recipient_id", "channel", "category", "priority", "status",
	"title", "body", "data", "dedup_key", "address", "timezone",
	"scheduled_at", "attempt_count", "next_attempt_at", "last_error",
	"expires_at", "external_ref", "version", "created_at", "updated_at",
}

func (s *Store) CreateNotification(ctx context.Context, n *delivery.Notification) error {
	const op = "pgstore.CreateNotification"

	if n == nil {
		return fmt.Errorf("%s: notification cannot be nil", op)
	}

	query, args, err := s.sb.Insert(notificationsTable).
		Columns(append(notificationColumns[:len(notificationColumns):len(notificationColumns)], "due_at")...).
		Values(
			n.ID, n.RecipientID, string(n.Channel), string(n.Category), int16(n.Priority), string(n.Status),
			n.Title, n.Body, dataOrEmpty(n.Data), n.DedupKey, n.Address, n.Timezone,
			n.ScheduledAt, n.AttemptCount, n.NextAttemptAt, n.LastError,
			n.ExpiresAt, n.ExternalRef, int64(1), n.CreatedAt, n.UpdatedAt,
			dueAt(n),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		if pg.IsDuplicateKeyError(err) {
			return fmt.Errorf("%s: notification %s already exists: %w", op, n.ID, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	n.Version = 1
	return nil
}

func (s *Store) GetNotification(ctx context.Context, id uuid.UUID) (*delivery.Notification, error) {
	return s.getOne(ctx, "pgstore.GetNotification", squirrel.Eq{"id": id})
}

func (s *Store) FindByExternalRef(ctx context.Context, ch delivery.Channel, ref string) (*delivery.Notification, error) {
	return s.getOne(ctx, "pgstore.FindByExternalRef", squirrel.Eq{"channel": string(ch), "external_ref": ref})
}

func (s *Store) getOne(ctx context.Context, op string, where squirrel.Sqlizer) (*delivery.Notification, error) {
	query, args, err := s.sb.Select(notificationColumns...).
		From(notificationsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	n, err := scanNotification(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, delivery.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ListDue selects records whose due_at has passed, highest priority first.
//
// Selection and lease stamping happen in one statement: rows are locked with
// FOR UPDATE SKIP LOCKED and their due_at is pushed to now+lease, so
// concurrent dispatchers receive disjoint batches. Any later swap recomputes
// due_at; a record whose selector died becomes due again when the lease ends.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*delivery.Notification, error) {
	pick := squirrel.Select("id").
		From(notificationsTable).
		Where(squirrel.LtOrEq{"due_at": now}).
		OrderBy("priority DESC", "due_at ASC", "created_at ASC")
	if limit > 0 {
		pick = pick.Limit(uint64(limit))
	}
	pick = pick.Suffix("FOR UPDATE SKIP LOCKED")

	q := s.sb.Update(notificationsTable).
		Set("due_at", now.Add(s.selectLease).UTC()).
		Where(squirrel.Expr("id IN (?)", pick)).
		Suffix("RETURNING " + strings.Join(notificationColumns, ", "))

	due, err := s.list(ctx, "pgstore.ListDue", q)
	if err != nil {
		return nil, err
	}
	// RETURNING carries no order.
	delivery.SortDue(due)
	return due, nil
}

// ListStale selects records left in dispatching since before the cutoff.
func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*delivery.Notification, error) {
	q := s.sb.Select(notificationColumns...).
		From(notificationsTable).
		Where(squirrel.Eq{"status": string(delivery.StatusDispatching)}).
		Where(squirrel.Lt{"updated_at": before}).
		OrderBy("updated_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.list(ctx, "pgstore.ListStale", q)
}

func (s *Store) list(ctx context.Context, op string, q squirrel.Sqlizer) ([]*delivery.Notification, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*delivery.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return out, nil
}

// SwapNotification writes every mutable column of n when the stored version
// equals expectedVersion, and bumps the version.
func (s *Store) SwapNotification(ctx context.Context, n *delivery.Notification, expectedVersion int64) error {
	const op = "pgstore.SwapNotification"

	if n == nil {
		return fmt.Errorf("%s: notification cannot be nil", op)
	}

	query, args, err := s.sb.Update(notificationsTable).
		SetMap(map[string]any{
			"priority":        int16(n.Priority),
			"status":          string(n.Status),
			"attempt_count":   n.AttemptCount,
			"next_attempt_at": n.NextAttemptAt,
			"last_error":      n.LastError,
			"expires_at":      n.ExpiresAt,
			"external_ref":    n.ExternalRef,
			"due_at":          dueAt(n),
			"updated_at":      n.UpdatedAt,
			"version":         expectedVersion + 1,
		}).
		Where(squirrel.Eq{"id": n.ID, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		n.Version = expectedVersion + 1
		return nil
	}

	// Nothing matched: either the row is gone or someone else moved it.
	var exists bool
	err = s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM notifications WHERE id = $1)", n.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("%s: check existence: %w", op, err)
	}
	if !exists {
		return delivery.ErrNotFound
	}
	return delivery.ErrVersionConflict
}

func scanNotification(row rowScanner) (*delivery.Notification, error) {
	var (
		n                         delivery.Notification
		channel, category, status string
		priority                  int16
	)
	err := row.Scan(
		&n.ID, &n.RecipientID, &channel, &category, &priority, &status,
		&n.Title, &n.Body, &n.Data, &n.DedupKey, &n.Address, &n.Timezone,
		&n.ScheduledAt, &n.AttemptCount, &n.NextAttemptAt, &n.LastError,
		&n.ExpiresAt, &n.ExternalRef, &n.Version, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Channel = delivery.Channel(channel)
	n.Category = delivery.Category(category)
	n.Priority = delivery.Priority(priority)
	n.Status = delivery.Status(status)
	if len(n.Data) == 0 {
		n.Data = nil
	}
	return &n, nil
}

// dueAt is the value of the due_at column: NULL for records no poll should
// select (dispatching and terminal ones).
func dueAt(n *delivery.Notification) *time.Time {
	if !n.IsDue(n.DueAt()) {
		return nil
	}
	at := n.DueAt().UTC()
	return &at
}

func dataOrEmpty(data map[string]string) map[string]string {
	if data == nil {
		return map[string]string{}
	}
	return data
}
