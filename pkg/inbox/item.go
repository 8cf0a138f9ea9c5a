package inbox

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// Item is an in-app notification as shown in a recipient's inbox.
type Item struct {
	ID             uuid.UUID         `json:"id"`
	RecipientID    string            `json:"recipient_id"`
	NotificationID uuid.UUID         `json:"notification_id"`
	Category       string            `json:"category"`
	Priority       string            `json:"priority,omitempty"`
	Title          string            `json:"title"`
	Body           string            `json:"body"`
	Data           map[string]string `json:"data,omitempty"`
	Read           bool              `json:"read"`
	ReadAt         *time.Time        `json:"read_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
}

// IsExpired reports whether the item stopped being visible at now.
func (i *Item) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

func (i *Item) markRead(now time.Time) {
	if i.Read {
		return
	}
	i.Read = true
	i.ReadAt = &now
}

func (i Item) clone() Item {
	i.Data = maps.Clone(i.Data)
	if i.ReadAt != nil {
		t := *i.ReadAt
		i.ReadAt = &t
	}
	if i.ExpiresAt != nil {
		t := *i.ExpiresAt
		i.ExpiresAt = &t
	}
	return i
}
