package delivery

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is the transport a notification is delivered through.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Category classifies notifications for preference and rate limit purposes.
type Category string

const (
	CategoryMarketing     Category = "marketing"
	CategoryTransactional Category = "transactional"
	CategorySystem        Category = "system"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryMarketing, CategoryTransactional, CategorySystem:
		return true
	}
	return false
}

// Priority orders due work within a poll cycle. Higher values are served first.
// The zero value means "not set" and is treated as normal by the enqueuer.
type Priority int8

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"low", "normal", "high", "urgent"}

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

func (p Priority) String() string {
	if !p.Valid() {
		return fmt.Sprintf("priority(%d)", int8(p))
	}
	return priorityNames[p-1]
}

// ParsePriority converts a priority name into a Priority. The empty string maps to normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i + 1), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", int8(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Status is the lifecycle state of a notification record.
type Status string

const (
	StatusPending        Status = "pending"
	StatusScheduled      Status = "scheduled"
	StatusDispatching    Status = "dispatching"
	StatusSent           Status = "sent"
	StatusRetryScheduled Status = "retry_scheduled"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Name implements statemachine.State.
func (s Status) Name() string {
	return string(s)
}

// Terminal reports whether no further dispatch will happen for the status.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Reason explains a policy denial, a deferral or a terminal outcome.
type Reason string

const (
	ReasonOptedOut           Reason = "OptedOut"
	ReasonPreferenceDisabled Reason = "PreferenceDisabled"
	ReasonQuietHours         Reason = "QuietHours"
	ReasonFrequencyCapped    Reason = "FrequencyCapped"
	ReasonRateLimited        Reason = "RateLimited"
	ReasonTransportRetry     Reason = "TransportRetry"
	ReasonRetriesExhausted   Reason = "RetriesExhausted"
	ReasonExpired            Reason = "Expired"
	ReasonNoAdapter          Reason = "NoAdapter"
	ReasonClaimExpired       Reason = "ClaimExpired"
	ReasonPolicyUnavailable  Reason = "PolicyUnavailable"
)

// Notification is a unit of intended communication.
//
// NextAttemptAt is set only while Status is retry_scheduled and LastError only
// when Status is failed or cancelled. Version is bumped by every stored
// transition and guards claims.
type Notification struct {
	ID            uuid.UUID         `json:"id"`
	RecipientID   string            `json:"recipient_id"`
	Channel       Channel           `json:"channel"`
	Category      Category          `json:"category"`
	Priority      Priority          `json:"priority"`
	Status        Status            `json:"status"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Data          map[string]string `json:"data,omitempty"`
	DedupKey      string            `json:"dedup_key,omitempty"`
	Address       string            `json:"address,omitempty"`
	Timezone      string            `json:"timezone,omitempty"`
	ScheduledAt   *time.Time        `json:"scheduled_at,omitempty"`
	AttemptCount  int               `json:"attempt_count"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	ExternalRef   string            `json:"external_ref,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// DueAt returns the time the record becomes eligible for dispatch.
// The zero time is returned for statuses that are never due. An expiry
// earlier than the schedule or retry time wins, so cancelled and expired
// records are selected (and closed) at the next poll.
func (n *Notification) DueAt() time.Time {
	var due time.Time
	switch n.Status {
	case StatusPending, StatusScheduled:
		due = n.CreatedAt
		if n.ScheduledAt != nil {
			due = *n.ScheduledAt
		}
	case StatusRetryScheduled:
		if n.NextAttemptAt != nil {
			due = *n.NextAttemptAt
		}
	default:
		return time.Time{}
	}

	if n.ExpiresAt != nil && (due.IsZero() || n.ExpiresAt.Before(due)) {
		return *n.ExpiresAt
	}
	return due
}

// IsDue reports whether the record should be picked up by a poll at now.
func (n *Notification) IsDue(now time.Time) bool {
	switch n.Status {
	case StatusPending, StatusScheduled, StatusRetryScheduled:
		due := n.DueAt()
		return !due.IsZero() && !due.After(now)
	}
	return false
}

// IsExpired reports whether the expiry time has been reached at now.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}

// Clone returns a deep copy of the record.
func (n *Notification) Clone() *Notification {
	c := *n
	c.Data = maps.Clone(n.Data)
	c.ScheduledAt = cloneTime(n.ScheduledAt)
	c.NextAttemptAt = cloneTime(n.NextAttemptAt)
	c.ExpiresAt = cloneTime(n.ExpiresAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// EventKind identifies an entry in the delivery history.
type EventKind string

const (
	EventCreated    EventKind = "created"
	EventAttempt    EventKind = "attempt"
	EventSent       EventKind = "sent"
	EventDelivered  EventKind = "delivered"
	EventOpened     EventKind = "opened"
	EventClicked    EventKind = "clicked"
	EventFailed     EventKind = "failed"
	EventCancelled  EventKind = "cancelled"
	EventDeferred   EventKind = "deferred"
	EventBounced    EventKind = "bounced"
	EventComplained EventKind = "complained"
)

// External reports whether the kind may be reported by a channel-side callback.
func (k EventKind) External() bool {
	switch k {
	case EventDelivered, EventOpened, EventClicked, EventBounced, EventComplained:
		return true
	}
	return false
}

// Event is an append-only entry in a notification's delivery history.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	NotificationID uuid.UUID      `json:"notification_id"`
	Kind           EventKind      `json:"kind"`
	Detail         map[string]any `json:"detail,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// QuietHours is a daily time-of-day window during which nothing is sent.
// Start and End use "HH:MM"; a window with Start after End wraps midnight.
type QuietHours struct {
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// Preference holds a recipient's settings for one channel and category.
type Preference struct {
	RecipientID string      `json:"recipient_id"`
	Channel     Channel     `json:"channel"`
	Category    Category    `json:"category"`
	Enabled     bool        `json:"enabled"`
	QuietHours  *QuietHours `json:"quiet_hours,omitempty"`
	DailyCap    int         `json:"daily_cap,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// OptOut blocks every category on a channel for a recipient while active.
type OptOut struct {
	RecipientID string    `json:"recipient_id"`
	Channel     Channel   `json:"channel"`
	Active      bool      `json:"active"`
	EffectiveAt time.Time `json:"effective_at"`
	Source      string    `json:"source,omitempty"`
}

// Contact is the directory's view of a recipient.
type Contact struct {
	RecipientID string             `json:"recipient_id"`
	Addresses   map[Channel]string `json:"addresses"`
	Timezone    string             `json:"timezone,omitempty"`
}

// WindowKey identifies a fixed rate limit window for one recipient tuple.
type WindowKey struct {
	RecipientID string
	Channel     Channel
	Category    Category
	Size        time.Duration
	Start       time.Time
}

// NewWindowKey returns the key of the window of the given size containing now.
func NewWindowKey(recipientID string, ch Channel, cat Category, size time.Duration, now time.Time) WindowKey {
	return WindowKey{
		RecipientID: recipientID,
		Channel:     ch,
		Category:    cat,
		Size:        size,
		Start:       now.UTC().Truncate(size),
	}
}

// End returns the first instant after the window.
func (k WindowKey) End() time.Time {
	return k.Start.Add(k.Size)
}

func (k WindowKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d:%d", k.RecipientID, k.Channel, k.Category, int64(k.Size/time.Second), k.Start.Unix())
}
