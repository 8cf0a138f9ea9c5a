package inbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage keeps items per recipient in memory.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]Item
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]Item)}
}

func (s *MemoryStorage) Create(_ context.Context, item Item) error {
	if item.RecipientID == "" {
		return ErrRecipientRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items[item.RecipientID] {
		if existing.ID == item.ID {
			return ErrDuplicateItem
		}
	}
	s.items[item.RecipientID] = append(s.items[item.RecipientID], item.clone())
	return nil
}

func (s *MemoryStorage) Get(_ context.Context, recipientID string, id uuid.UUID) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, it := range s.items[recipientID] {
		if it.ID == id {
			return it.clone(), nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (s *MemoryStorage) List(_ context.Context, recipientID string, opts ListOptions) ([]Item, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.RLock()
	filtered := make([]Item, 0, len(s.items[recipientID]))
	for _, it := range s.items[recipientID] {
		if it.IsExpired(now) {
			continue
		}
		if opts.OnlyUnread && it.Read {
			continue
		}
		if opts.Since != nil && it.CreatedAt.Before(*opts.Since) {
			continue
		}
		filtered = append(filtered, it.clone())
	}
	s.mu.RUnlock()

	slices.SortStableFunc(filtered, func(a, b Item) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if opts.Offset >= len(filtered) {
		return []Item{}, nil
	}
	end := len(filtered)
	if opts.Limit > 0 && opts.Offset+opts.Limit < end {
		end = opts.Offset + opts.Limit
	}
	return filtered[opts.Offset:end], nil
}

func (s *MemoryStorage) MarkRead(_ context.Context, recipientID string, now time.Time, ids ...uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.items[recipientID]
	changed := 0
	for i := range items {
		if items[i].Read || !slices.Contains(ids, items[i].ID) {
			continue
		}
		items[i].markRead(now)
		changed++
	}
	return changed, nil
}

func (s *MemoryStorage) CountUnread(_ context.Context, recipientID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, it := range s.items[recipientID] {
		if !it.Read && !it.IsExpired(now) {
			count++
		}
	}
	return count, nil
}
