package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// The conditional upsert makes check-and-increment a single statement: a
// denied reservation updates nothing and returns no row.
const incrementBelowSQL = `
INSERT INTO rate_limit_windows
    (recipient_id, channel, category, window_seconds, window_start, window_end, count)
VALUES ($1, $2, $3, $4, $5, $6, 1)
ON CONFLICT (recipient_id, channel, category, window_seconds, window_start)
DO UPDATE SET count = rate_limit_windows.count + 1
WHERE $7::bigint <= 0 OR rate_limit_windows.count < $7::bigint
RETURNING count`

func (s *Store) IncrementBelow(ctx context.Context, key delivery.WindowKey, limit int64, _ time.Time) (int64, bool, error) {
	const op = "pgstore.IncrementBelow"

	var count int64
	err := s.db.QueryRow(ctx, incrementBelowSQL,
		key.RecipientID, string(key.Channel), string(key.Category),
		int32(key.Size/time.Second), key.Start, key.End(), limit,
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	count, err = s.WindowCount(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	return count, false, nil
}

func (s *Store) WindowCount(ctx context.Context, key delivery.WindowKey) (int64, error) {
	const op = "pgstore.WindowCount"

	query, args, err := s.sb.Select("count").
		From("rate_limit_windows").
		Where(squirrel.Eq{
			"recipient_id":   key.RecipientID,
			"channel":        string(key.Channel),
			"category":       string(key.Category),
			"window_seconds": int32(key.Size / time.Second),
			"window_start":   key.Start,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("%s: build query: %w", op, err)
	}

	var count int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		if pg.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// Purge deletes rate windows that ended more than retain ago and expired
// dedup keys. It returns the number of removed rows.
func (s *Store) Purge(ctx context.Context, now time.Time, retain time.Duration) (int64, error) {
	const op = "pgstore.Purge"

	windows, err := s.db.Exec(ctx, "DELETE FROM rate_limit_windows WHERE window_end < $1", now.Add(-retain))
	if err != nil {
		return 0, fmt.Errorf("%s: windows: %w", op, err)
	}
	dedup, err := s.db.Exec(ctx, "DELETE FROM notification_dedup WHERE expires_at <= $1", now)
	if err != nil {
		return windows.RowsAffected(), fmt.Errorf("%s: dedup: %w", op, err)
	}
	return windows.RowsAffected() + dedup.RowsAffected(), nil
}
