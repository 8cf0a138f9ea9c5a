package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// An expired key is taken over in place; a live one leaves the row untouched
// and RETURNING yields nothing.
const reserveDedupSQL = `
INSERT INTO notification_dedup (dedup_key, channel, notification_id, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (dedup_key, channel)
DO UPDATE SET notification_id = EXCLUDED.notification_id, expires_at = EXCLUDED.expires_at
WHERE notification_dedup.expires_at <= $5
RETURNING notification_id`

func (s *Store) ReserveDedup(ctx context.Context, key string, ch delivery.Channel, id uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	const op = "pgstore.ReserveDedup"

	var owner uuid.UUID
	err := s.db.QueryRow(ctx, reserveDedupSQL, key, string(ch), id, now.Add(window), now).Scan(&owner)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return owner == id, nil
}

func (s *Store) ReleaseDedup(ctx context.Context, key string, ch delivery.Channel, id uuid.UUID) error {
	const op = "pgstore.ReleaseDedup"

	query, args, err := s.sb.Delete("notification_dedup").
		Where("dedup_key = ? AND channel = ? AND notification_id = ?", key, string(ch), id).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
