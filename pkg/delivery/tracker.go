package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// EventSink receives every appended delivery event, e.g. to stream history
// to analytics. Publish failures are logged and never fail the append.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

// StatusReport is the caller-facing view of a notification.
type StatusReport struct {
	Notification *Notification `json:"notification"`

	// State is the lifecycle status, or for sent records the furthest
	// channel-side event (delivered, opened, clicked, bounced, complained).
	State  string   `json:"state"`
	Events []*Event `json:"events"`
}

// Tracker records delivery events and answers status queries.
// It never mutates notification records.
type Tracker struct {
	events        EventStore
	notifications NotificationStore
	sink          EventSink
	logger        *slog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithEventSink forwards appended events to sink.
func WithEventSink(sink EventSink) TrackerOption {
	return func(t *Tracker) {
		t.sink = sink
	}
}

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a tracker.
func NewTracker(events EventStore, notifications NotificationStore, opts ...TrackerOption) (*Tracker, error) {
	if events == nil || notifications == nil {
		return nil, ErrStoreNil
	}
	t := &Tracker{
		events:        events,
		notifications: notifications,
		logger:        logger.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Record appends an event for a notification. It returns ErrNotFound for unknown ids.
func (t *Tracker) Record(ctx context.Context, id uuid.UUID, kind EventKind, detail map[string]any, now time.Time) error {
	if _, err := t.notifications.GetNotification(ctx, id); err != nil {
		return err
	}
	_, err := t.append(ctx, id, kind, detail, now)
	return err
}

// append stores the event without checking that the notification exists.
func (t *Tracker) append(ctx context.Context, id uuid.UUID, kind EventKind, detail map[string]any, now time.Time) (*Event, error) {
	e := &Event{
		ID:             newID(),
		NotificationID: id,
		Kind:           kind,
		Detail:         detail,
		CreatedAt:      now,
	}
	if err := t.events.AppendEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("append %s event for %s: %w", kind, id, err)
	}

	if t.sink != nil {
		if err := t.sink.Publish(ctx, *e); err != nil {
			t.logger.LogAttrs(ctx, slog.LevelWarn, "failed to publish delivery event",
				logger.NotificationID(id),
				logger.Event(string(kind)),
				logger.Error(err))
		}
	}
	return e, nil
}

// Status returns the record, its effective state and full event history.
func (t *Tracker) Status(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	n, err := t.notifications.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	events, err := t.events.ListEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", id, err)
	}

	return &StatusReport{
		Notification: n,
		State:        effectiveState(n.Status, events),
		Events:       events,
	}, nil
}

var engagementRank = map[EventKind]int{
	EventDelivered:  1,
	EventOpened:     2,
	EventClicked:    3,
	EventBounced:    4,
	EventComplained: 5,
}

func effectiveState(status Status, events []*Event) string {
	if status != StatusSent {
		return string(status)
	}
	state, best := string(status), 0
	for _, e := range events {
		if r := engagementRank[e.Kind]; r > best {
			state, best = string(e.Kind), r
		}
	}
	return state
}

func newID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
