package pgstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

func (s *Store) AppendEvent(ctx context.Context, e *delivery.Event) error {
	const op = "pgstore.AppendEvent"

	if e == nil {
		return fmt.Errorf("%s: event cannot be nil", op)
	}
	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}

	query, args, err := s.sb.Insert("delivery_events").
		Columns("id", "notification_id", "kind", "detail", "created_at").
		Values(e.ID, e.NotificationID, string(e.Kind), detail, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListEvents returns a notification's history in append order.
func (s *Store) ListEvents(ctx context.Context, notificationID uuid.UUID) ([]*delivery.Event, error) {
	const op = "pgstore.ListEvents"

	query, args, err := s.sb.Select("id", "notification_id", "kind", "detail", "created_at").
		From("delivery_events").
		Where("notification_id = ?", notificationID).
		OrderBy("created_at ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	events := make([]*delivery.Event, 0)
	for rows.Next() {
		var (
			e    delivery.Event
			kind string
		)
		if err := rows.Scan(&e.ID, &e.NotificationID, &kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan row: %w", op, err)
		}
		e.Kind = delivery.EventKind(kind)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", op, err)
	}
	return events, nil
}
