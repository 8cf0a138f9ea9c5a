package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationStore persists notification records.
type NotificationStore interface {
	// CreateNotification inserts a new record. Version is set to 1.
	CreateNotification(ctx context.Context, n *Notification) error

	// GetNotification returns a copy of the record or ErrNotFound.
	GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error)

	// FindByExternalRef returns the record accepted by a channel under ref or ErrNotFound.
	FindByExternalRef(ctx context.Context, ch Channel, ref string) (*Notification, error)

	// ListDue returns records due at now ordered by priority (highest first)
	// then due time (earliest first).
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)

	// ListStale returns dispatching records not updated since before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Notification, error)

	// SwapNotification stores n if the stored version equals expectedVersion,
	// otherwise it returns ErrVersionConflict. On success n.Version is advanced.
	SwapNotification(ctx context.Context, n *Notification, expectedVersion int64) error
}

// EventStore is the append-only delivery history.
type EventStore interface {
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, notificationID uuid.UUID) ([]*Event, error)
}

// PreferenceStore gives read access to recipient preferences and opt-outs.
// Both getters return nil without error when no record exists.
type PreferenceStore interface {
	GetPreference(ctx context.Context, recipientID string, ch Channel, cat Category) (*Preference, error)
	GetOptOut(ctx context.Context, recipientID string, ch Channel) (*OptOut, error)
}

// OptOutWriter records opt-outs. It is implemented by the settings surface
// and optionally used to react to bounces and complaints.
type OptOutWriter interface {
	SetOptOut(ctx context.Context, o OptOut) error
}

// WindowStore keeps fixed window counters.
type WindowStore interface {
	// IncrementBelow atomically increments the window counter if it is below
	// limit and reports the resulting count. A limit <= 0 means unlimited.
	// When the limit is reached the current count is returned with ok=false.
	IncrementBelow(ctx context.Context, key WindowKey, limit int64, now time.Time) (count int64, ok bool, err error)

	// WindowCount returns the current counter value, zero for unknown windows.
	WindowCount(ctx context.Context, key WindowKey) (int64, error)
}

// DedupStore remembers dedup keys per channel for a limited window.
type DedupStore interface {
	// ReserveDedup claims (key, channel) for id until now+window. It returns
	// false if an unexpired reservation already exists.
	ReserveDedup(ctx context.Context, key string, ch Channel, id uuid.UUID, now time.Time, window time.Duration) (bool, error)

	// ReleaseDedup drops a reservation held by id.
	ReleaseDedup(ctx context.Context, key string, ch Channel, id uuid.UUID) error
}

// Directory resolves recipients to contact details.
type Directory interface {
	// ResolveRecipient returns ErrRecipientUnknown for unknown recipients.
	ResolveRecipient(ctx context.Context, recipientID string) (*Contact, error)
}

// Stores bundles the storage dependencies of the engine. Backends can be
// mixed, e.g. Postgres for records and Redis for windows and dedup keys.
type Stores struct {
	Notifications NotificationStore
	Events        EventStore
	Preferences   PreferenceStore
	Windows       WindowStore
	Dedup         DedupStore
}

func (s Stores) validate() error {
	if s.Notifications == nil || s.Events == nil || s.Preferences == nil || s.Windows == nil || s.Dedup == nil {
		return ErrStoreNil
	}
	return nil
}
