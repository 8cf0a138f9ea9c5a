package delivery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements every store interface in memory.
// Intended for tests, local development and single-process deployments.
type MemoryStorage struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*Notification
	events        map[uuid.UUID][]*Event
	externalRefs  map[string]uuid.UUID
	preferences   map[string]*Preference
	optOuts       map[string]*OptOut
	windows       map[string]*memoryWindow
	dedup         map[string]memoryDedup
}

type memoryWindow struct {
	count int64
	end   time.Time
}

type memoryDedup struct {
	id        uuid.UUID
	expiresAt time.Time
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		notifications: make(map[uuid.UUID]*Notification),
		events:        make(map[uuid.UUID][]*Event),
		externalRefs:  make(map[string]uuid.UUID),
		preferences:   make(map[string]*Preference),
		optOuts:       make(map[string]*OptOut),
		windows:       make(map[string]*memoryWindow),
		dedup:         make(map[string]memoryDedup),
	}
}

// Stores returns the storage as a Stores bundle.
func (ms *MemoryStorage) Stores() Stores {
	return Stores{
		Notifications: ms,
		Events:        ms,
		Preferences:   ms,
		Windows:       ms,
		Dedup:         ms,
	}
}

func (ms *MemoryStorage) CreateNotification(_ context.Context, n *Notification) error {
	if n == nil {
		return errors.New("notification cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.notifications[n.ID]; exists {
		return fmt.Errorf("notification with ID %s already exists", n.ID)
	}

	n.Version = 1
	ms.notifications[n.ID] = n.Clone()
	if n.ExternalRef != "" {
		ms.externalRefs[refKey(n.Channel, n.ExternalRef)] = n.ID
	}
	return nil
}

func (ms *MemoryStorage) GetNotification(_ context.Context, id uuid.UUID) (*Notification, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n, ok := ms.notifications[id]
	if !ok {
		return nil, ErrNotFound
	}
	return n.Clone(), nil
}

func (ms *MemoryStorage) FindByExternalRef(_ context.Context, ch Channel, ref string) (*Notification, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	id, ok := ms.externalRefs[refKey(ch, ref)]
	if !ok {
		return nil, ErrNotFound
	}
	return ms.notifications[id].Clone(), nil
}

func (ms *MemoryStorage) ListDue(_ context.Context, now time.Time, limit int) ([]*Notification, error) {
	ms.mu.RLock()
	due := make([]*Notification, 0)
	for _, n := range ms.notifications {
		if n.IsDue(now) {
			due = append(due, n.Clone())
		}
	}
	ms.mu.RUnlock()

	SortDue(due)
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (ms *MemoryStorage) ListStale(_ context.Context, before time.Time, limit int) ([]*Notification, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stale := make([]*Notification, 0)
	for _, n := range ms.notifications {
		if n.Status == StatusDispatching && n.UpdatedAt.Before(before) {
			stale = append(stale, n.Clone())
		}
	}
	slices.SortFunc(stale, func(a, b *Notification) int {
		return a.UpdatedAt.Compare(b.UpdatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (ms *MemoryStorage) SwapNotification(_ context.Context, n *Notification, expectedVersion int64) error {
	if n == nil {
		return errors.New("notification cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	current, ok := ms.notifications[n.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expectedVersion {
		return ErrVersionConflict
	}

	n.Version = expectedVersion + 1
	ms.notifications[n.ID] = n.Clone()
	if n.ExternalRef != "" {
		ms.externalRefs[refKey(n.Channel, n.ExternalRef)] = n.ID
	}
	return nil
}

func (ms *MemoryStorage) AppendEvent(_ context.Context, e *Event) error {
	if e == nil {
		return errors.New("event cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	c := *e
	c.Detail = maps.Clone(e.Detail)
	ms.events[e.NotificationID] = append(ms.events[e.NotificationID], &c)
	return nil
}

func (ms *MemoryStorage) ListEvents(_ context.Context, notificationID uuid.UUID) ([]*Event, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stored := ms.events[notificationID]
	out := make([]*Event, 0, len(stored))
	for _, e := range stored {
		c := *e
		c.Detail = maps.Clone(e.Detail)
		out = append(out, &c)
	}
	return out, nil
}

func (ms *MemoryStorage) GetPreference(_ context.Context, recipientID string, ch Channel, cat Category) (*Preference, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	p, ok := ms.preferences[prefKey(recipientID, ch, cat)]
	if !ok {
		return nil, nil
	}
	c := *p
	if p.QuietHours != nil {
		qh := *p.QuietHours
		c.QuietHours = &qh
	}
	return &c, nil
}

// SetPreference creates or replaces the preference for its (recipient, channel, category) tuple.
func (ms *MemoryStorage) SetPreference(_ context.Context, p Preference) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if p.QuietHours != nil {
		qh := *p.QuietHours
		p.QuietHours = &qh
	}
	ms.preferences[prefKey(p.RecipientID, p.Channel, p.Category)] = &p
	return nil
}

func (ms *MemoryStorage) GetOptOut(_ context.Context, recipientID string, ch Channel) (*OptOut, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	o, ok := ms.optOuts[optOutKey(recipientID, ch)]
	if !ok {
		return nil, nil
	}
	c := *o
	return &c, nil
}

// SetOptOut creates or replaces the opt-out for its (recipient, channel) pair.
func (ms *MemoryStorage) SetOptOut(_ context.Context, o OptOut) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.optOuts[optOutKey(o.RecipientID, o.Channel)] = &o
	return nil
}

func (ms *MemoryStorage) IncrementBelow(_ context.Context, key WindowKey, limit int64, now time.Time) (int64, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.evictWindows(now)

	k := key.String()
	w, ok := ms.windows[k]
	if !ok {
		w = &memoryWindow{end: key.End()}
		ms.windows[k] = w
	}
	if limit > 0 && w.count >= limit {
		return w.count, false, nil
	}
	w.count++
	return w.count, true, nil
}

func (ms *MemoryStorage) WindowCount(_ context.Context, key WindowKey) (int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if w, ok := ms.windows[key.String()]; ok {
		return w.count, nil
	}
	return 0, nil
}

// evictWindows drops windows that ended more than a day ago. Caller holds the lock.
func (ms *MemoryStorage) evictWindows(now time.Time) {
	horizon := now.Add(-24 * time.Hour)
	for k, w := range ms.windows {
		if w.end.Before(horizon) {
			delete(ms.windows, k)
		}
	}
}

func (ms *MemoryStorage) ReserveDedup(_ context.Context, key string, ch Channel, id uuid.UUID, now time.Time, window time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := dedupKey(key, ch)
	if existing, ok := ms.dedup[k]; ok && now.Before(existing.expiresAt) {
		return false, nil
	}
	ms.dedup[k] = memoryDedup{id: id, expiresAt: now.Add(window)}
	return true, nil
}

func (ms *MemoryStorage) ReleaseDedup(_ context.Context, key string, ch Channel, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	k := dedupKey(key, ch)
	if existing, ok := ms.dedup[k]; ok && existing.id == id {
		delete(ms.dedup, k)
	}
	return nil
}

// SortDue orders records by priority (highest first) then due time (earliest first).
func SortDue(list []*Notification) {
	slices.SortStableFunc(list, func(a, b *Notification) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		if c := a.DueAt().Compare(b.DueAt()); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func refKey(ch Channel, ref string) string {
	return string(ch) + "|" + ref
}

func prefKey(recipientID string, ch Channel, cat Category) string {
	return recipientID + "|" + string(ch) + "|" + string(cat)
}

func optOutKey(recipientID string, ch Channel) string {
	return recipientID + "|" + string(ch)
}

func dedupKey(key string, ch Channel) string {
	return string(ch) + "|" + key
}

// MemoryDirectory is a static in-memory recipient directory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewMemoryDirectory creates a directory seeded with contacts.
func NewMemoryDirectory(contacts ...Contact) *MemoryDirectory {
	d := &MemoryDirectory{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		d.contacts[c.RecipientID] = c
	}
	return d
}

// Add registers or replaces a contact.
func (d *MemoryDirectory) Add(c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[c.RecipientID] = c
}

// Upsert is Add with the signature shared by persistent directories.
func (d *MemoryDirectory) Upsert(_ context.Context, c Contact) error {
	d.Add(c)
	return nil
}

func (d *MemoryDirectory) ResolveRecipient(_ context.Context, recipientID string) (*Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.contacts[recipientID]
	if !ok {
		return nil, ErrRecipientUnknown
	}
	c.Addresses = maps.Clone(c.Addresses)
	return &c, nil
}
