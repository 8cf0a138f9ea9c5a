package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Decision is the gate's verdict for one send.
type Decision struct {
	Allow  bool
	Reason Reason

	// RetryAfter is set for temporary denials. A denied decision without it is permanent.
	RetryAfter time.Time
}

// Permanent reports whether the denial should end the notification's lifecycle.
func (d Decision) Permanent() bool {
	return !d.Allow && d.RetryAfter.IsZero()
}

// DailyCounter reports how many sends a tuple had in the current day window.
// Limiter implements it.
type DailyCounter interface {
	DailyCount(ctx context.Context, recipientID string, ch Channel, cat Category, now time.Time) (int64, time.Time, error)
}

// Gate decides whether a recipient may receive a notification right now.
// It only reads preferences, opt-outs and counters.
type Gate struct {
	prefs   PreferenceStore
	counter DailyCounter
}

// NewGate creates a gate. counter may be nil when daily caps are not used.
func NewGate(prefs PreferenceStore, counter DailyCounter) (*Gate, error) {
	if prefs == nil {
		return nil, ErrStoreNil
	}
	return &Gate{prefs: prefs, counter: counter}, nil
}

// MaySend evaluates, in order: channel opt-out, disabled preference, quiet
// hours and the daily frequency cap. tz is the recipient's timezone used when
// the quiet hours window has none.
//
// The daily cap is a read of the counter the Limiter increments later, not a
// reservation. Dispatchers that evaluate the same recipient concurrently can
// all see cap-1 and all send, so the cap may be exceeded by up to the number
// of concurrent dispatchers minus one. Rate limits are the hard bound; the
// cap is a preference and tolerates that overshoot.
func (g *Gate) MaySend(ctx context.Context, recipientID string, ch Channel, cat Category, tz string, now time.Time) (Decision, error) {
	optOut, err := g.prefs.GetOptOut(ctx, recipientID, ch)
	if err != nil {
		return Decision{}, errors.Join(ErrPolicyCheckFailed, err)
	}
	if optOut != nil && optOut.Active && !optOut.EffectiveAt.After(now) {
		return Decision{Reason: ReasonOptedOut}, nil
	}

	pref, err := g.prefs.GetPreference(ctx, recipientID, ch, cat)
	if err != nil {
		return Decision{}, errors.Join(ErrPolicyCheckFailed, err)
	}
	if pref == nil {
		return Decision{Allow: true}, nil
	}
	if !pref.Enabled {
		return Decision{Reason: ReasonPreferenceDisabled}, nil
	}

	if pref.QuietHours != nil {
		zone := pref.QuietHours.Timezone
		if zone == "" {
			zone = tz
		}
		if end, inside := quietWindowEnd(*pref.QuietHours, zone, now); inside {
			return Decision{Reason: ReasonQuietHours, RetryAfter: end}, nil
		}
	}

	if pref.DailyCap > 0 && g.counter != nil {
		count, end, err := g.counter.DailyCount(ctx, recipientID, ch, cat, now)
		if err != nil {
			return Decision{}, err
		}
		if count >= int64(pref.DailyCap) {
			return Decision{Reason: ReasonFrequencyCapped, RetryAfter: end}, nil
		}
	}

	return Decision{Allow: true}, nil
}

// quietWindowEnd reports whether now falls inside the quiet hours window and,
// if so, the instant the window ends. Unknown timezones fall back to UTC and
// malformed or empty windows never match.
func quietWindowEnd(qh QuietHours, tz string, now time.Time) (time.Time, bool) {
	start, err := parseClock(qh.Start)
	if err != nil {
		return time.Time{}, false
	}
	end, err := parseClock(qh.End)
	if err != nil || start == end {
		return time.Time{}, false
	}

	loc := time.UTC
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	y, m, d := local.Date()
	endToday := time.Date(y, m, d, end/60, end%60, 0, 0, loc)

	if start < end {
		if minute >= start && minute < end {
			return endToday, true
		}
		return time.Time{}, false
	}

	// wraps midnight
	switch {
	case minute >= start:
		return time.Date(y, m, d+1, end/60, end%60, 0, 0, loc), true
	case minute < end:
		return endToday, true
	}
	return time.Time{}, false
}

// parseClock parses "HH:MM" into minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
