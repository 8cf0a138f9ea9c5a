package pgstore

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/pg"
)

// Directory resolves recipients from the notification_recipients table.
type Directory struct {
	db DB
	sb squirrel.StatementBuilderType
}

// NewDirectory creates a directory over db.
func NewDirectory(db DB) *Directory {
	return &Directory{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (d *Directory) ResolveRecipient(ctx context.Context, recipientID string) (*delivery.Contact, error) {
	const op = "pgstore.ResolveRecipient"

	query, args, err := d.sb.Select("addresses", "timezone").
		From("notification_recipients").
		Where(squirrel.Eq{"recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}

	var addresses map[string]string
	c := delivery.Contact{RecipientID: recipientID}
	if err := d.db.QueryRow(ctx, query, args...).Scan(&addresses, &c.Timezone); err != nil {
		if pg.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", delivery.ErrRecipientUnknown, recipientID)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	c.Addresses = make(map[delivery.Channel]string, len(addresses))
	for ch, addr := range addresses {
		c.Addresses[delivery.Channel(ch)] = addr
	}
	return &c, nil
}

// Upsert creates or replaces a recipient's contact data.
func (d *Directory) Upsert(ctx context.Context, c delivery.Contact) error {
	const op = "pgstore.UpsertRecipient"

	addresses := make(map[string]string, len(c.Addresses))
	for ch, addr := range c.Addresses {
		addresses[string(ch)] = addr
	}

	query, args, err := d.sb.Insert("notification_recipients").
		Columns("recipient_id", "addresses", "timezone", "updated_at").
		Values(c.RecipientID, addresses, c.Timezone, squirrel.Expr("NOW()")).
		Suffix(`ON CONFLICT (recipient_id) DO UPDATE SET
			addresses = EXCLUDED.addresses,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}
	if _, err := d.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
