package delivery

import (
	"context"
	"errors"
	"time"
)

// DayWindow is the window size used for daily frequency caps.
const DayWindow = 24 * time.Hour

// LimitScope selects the tuples a limit applies to. An empty Category
// matches every category of the channel.
type LimitScope struct {
	Channel  Channel
	Category Category
}

// LimitPolicy configures the fixed window rate limiter.
type LimitPolicy struct {
	// Window is the fixed window size. Defaults to one hour.
	Window time.Duration

	// Max is the number of sends allowed per tuple and window. 0 means unlimited.
	Max int64

	// Overrides take precedence over Max. A channel+category scope wins over
	// a channel-only scope.
	Overrides map[LimitScope]int64
}

// LimitFor returns the configured max for a tuple.
func (p LimitPolicy) LimitFor(ch Channel, cat Category) int64 {
	if v, ok := p.Overrides[LimitScope{Channel: ch, Category: cat}]; ok {
		return v
	}
	if v, ok := p.Overrides[LimitScope{Channel: ch}]; ok {
		return v
	}
	return p.Max
}

// Reservation is the result of a TryReserve call.
type Reservation struct {
	Allowed bool
	Limit   int64
	Count   int64

	// RetryAfter is the end of the current window when the reservation was denied.
	RetryAfter time.Time
}

// Limiter is a fixed window rate limiter keyed by (recipient, channel, category).
//
// Window boundaries are now truncated to the window size, so bursts at window
// edges can reach twice the limit across two adjacent windows. The dispatcher
// reserves only after it has won the claim on a record, so a lost race never
// consumes quota. Reservations are never rolled back: a failed send still
// consumes quota.
type Limiter struct {
	store  WindowStore
	policy LimitPolicy
}

// NewLimiter creates a limiter backed by store.
func NewLimiter(store WindowStore, policy LimitPolicy) (*Limiter, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if policy.Window <= 0 {
		policy.Window = time.Hour
	}
	return &Limiter{store: store, policy: policy}, nil
}

// Policy returns the active policy.
func (l *Limiter) Policy() LimitPolicy {
	return l.policy
}

// TryReserve consumes one slot in the current window if the tuple is below its
// limit. Every accepted reservation also counts toward the day window read by
// the gate's frequency cap.
func (l *Limiter) TryReserve(ctx context.Context, recipientID string, ch Channel, cat Category, now time.Time) (Reservation, error) {
	limit := l.policy.LimitFor(ch, cat)
	key := NewWindowKey(recipientID, ch, cat, l.policy.Window, now)

	count, ok, err := l.store.IncrementBelow(ctx, key, limit, now)
	if err != nil {
		return Reservation{}, errors.Join(ErrPolicyCheckFailed, err)
	}
	if !ok {
		return Reservation{Allowed: false, Limit: limit, Count: count, RetryAfter: key.End()}, nil
	}

	if l.policy.Window != DayWindow {
		day := NewWindowKey(recipientID, ch, cat, DayWindow, now)
		if _, _, err := l.store.IncrementBelow(ctx, day, 0, now); err != nil {
			return Reservation{}, errors.Join(ErrPolicyCheckFailed, err)
		}
	}

	return Reservation{Allowed: true, Limit: limit, Count: count}, nil
}

// DailyCount returns the number of reservations in the UTC day containing now
// and the end of that day.
func (l *Limiter) DailyCount(ctx context.Context, recipientID string, ch Channel, cat Category, now time.Time) (int64, time.Time, error) {
	key := NewWindowKey(recipientID, ch, cat, DayWindow, now)
	count, err := l.store.WindowCount(ctx, key)
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrPolicyCheckFailed, err)
	}
	return count, key.End(), nil
}
