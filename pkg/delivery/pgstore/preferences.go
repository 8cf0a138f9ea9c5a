package pgstore

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// GetPreference returns nil, nil when the recipient has no explicit preference.
func (s *Store) GetPreference(ctx context.Context, recipientID string, ch delivery.Channel, cat delivery.Category) (*delivery.Preference, error) {
	const op = "pgstore.GetPreference"

	query, args, err := s.sb.Select("enabled", "quiet_start", "quiet_end", "quiet_tz", "daily_cap", "updated_at").
		From("notification_preferences").
		Where(squirrel.Eq{"recipient_id": recipientID, "channel": string(ch), "category": string(cat)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	p := delivery.Preference{RecipientID: recipientID, Channel: ch, Category: cat}
	var start, end, tz *string
	err = s.db.QueryRow(ctx, query, args...).Scan(&p.Enabled, &start, &end, &tz, &p.DailyCap, &p.UpdatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if start != nil && end != nil {
		p.QuietHours = &delivery.QuietHours{Start: *start, End: *end}
		if tz != nil {
			p.QuietHours.Timezone = *tz
		}
	}
	return &p, nil
}

// SetPreference creates or replaces the preference for its tuple.
func (s *Store) SetPreference(ctx context.Context, p delivery.Preference) error {
	const op = "pgstore.SetPreference"

	var start, end, tz *string
	if p.QuietHours != nil {
		start, end, tz = &p.QuietHours.Start, &p.QuietHours.End, &p.QuietHours.Timezone
	}

	query, args, err := s.sb.Insert("notification_preferences").
		Columns("recipient_id", "channel", "category", "enabled", "quiet_start", "quiet_end", "quiet_tz", "daily_cap", "updated_at").
		Values(p.RecipientID, string(p.Channel), string(p.Category), p.Enabled, start, end, tz, p.DailyCap, squirrel.Expr("NOW()")).
		Suffix(`ON CONFLICT (recipient_id, channel, category) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			quiet_tz = EXCLUDED.quiet_tz,
			daily_cap = EXCLUDED.daily_cap,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetOptOut returns nil, nil when no opt-out was ever recorded.
func (s *Store) GetOptOut(ctx context.Context, recipientID string, ch delivery.Channel) (*delivery.OptOut, error) {
	const op = "pgstore.GetOptOut"

	query, args, err := s.sb.Select("active", "effective_at", "source").
		From("notification_opt_outs").
		Where(squirrel.Eq{"recipient_id": recipientID, "channel": string(ch)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	o := delivery.OptOut{RecipientID: recipientID, Channel: ch}
	if err := s.db.QueryRow(ctx, query, args...).Scan(&o.Active, &o.EffectiveAt, &o.Source); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &o, nil
}

// SetOptOut creates or replaces the opt-out for its recipient and channel.
func (s *Store) SetOptOut(ctx context.Context, o delivery.OptOut) error {
	const op = "pgstore.SetOptOut"

	query, args, err := s.sb.Insert("notification_opt_outs").
		Columns("recipient_id", "channel", "active", "effective_at", "source").
		Values(o.RecipientID, string(o.Channel), o.Active, o.EffectiveAt, o.Source).
		Suffix(`ON CONFLICT (recipient_id, channel) DO UPDATE SET
			active = EXCLUDED.active,
			effective_at = EXCLUDED.effective_at,
			source = EXCLUDED.source`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
