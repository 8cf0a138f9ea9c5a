package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// EnqueueRequest is a notification intent with pre-rendered content.
type EnqueueRequest struct {
	RecipientID string            `json:"recipient_id" validate:"required,max=255"`
	Channel     Channel           `json:"channel" validate:"required"`
	Category    Category          `json:"category" validate:"required"`
	Priority    Priority          `json:"priority,omitempty"`
	Title       string            `json:"title" validate:"required,max=1000"`
	Body        string            `json:"body" validate:"required"`
	Data        map[string]string `json:"data,omitempty"`
	DedupKey    string            `json:"dedup_key,omitempty" validate:"max=255"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// Enqueuer validates requests and admits them into storage.
type Enqueuer struct {
	store       NotificationStore
	dedup       DedupStore
	directory   Directory
	tracker     *Tracker
	validate    *validator.Validate
	dedupWindow time.Duration
	clockSkew   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// NewEnqueuer creates an Enqueuer.
func NewEnqueuer(store NotificationStore, dedup DedupStore, directory Directory, tracker *Tracker, opts ...EnqueuerOption) (*Enqueuer, error) {
	if store == nil || dedup == nil || tracker == nil {
		return nil, ErrStoreNil
	}
	if directory == nil {
		return nil, ErrDirectoryNil
	}

	options := &enqueuerOptions{
		dedupWindow: 24 * time.Hour,
		clockSkew:   time.Minute,
		now:         time.Now,
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		store:       store,
		dedup:       dedup,
		directory:   directory,
		tracker:     tracker,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		dedupWindow: options.dedupWindow,
		clockSkew:   options.clockSkew,
		now:         options.now,
		logger:      options.logger,
	}, nil
}

// Enqueue admits a request and returns the new notification id.
//
// Errors: ErrValidationFailed (joined with ValidationErrors),
// ErrRecipientUnknown, ErrDuplicateRequest, or a storage error.
func (e *Enqueuer) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	now := e.now()

	if err := e.validateRequest(req, now); err != nil {
		return uuid.Nil, err
	}
	if req.Priority == 0 {
		req.Priority = PriorityNormal
	}

	contact, err := e.directory.ResolveRecipient(ctx, req.RecipientID)
	if err != nil {
		if errors.Is(err, ErrRecipientUnknown) {
			return uuid.Nil, err
		}
		return uuid.Nil, errors.Join(ErrRecipientUnknown, err)
	}
	address := contact.Addresses[req.Channel]
	if address == "" && req.Channel != ChannelInApp {
		return uuid.Nil, fmt.Errorf("%w: no %s address for recipient %s", ErrRecipientUnknown, req.Channel, req.RecipientID)
	}

	n := &Notification{
		ID:          newID(),
		RecipientID: req.RecipientID,
		Channel:     req.Channel,
		Category:    req.Category,
		Priority:    req.Priority,
		Status:      StatusPending,
		Title:       req.Title,
		Body:        req.Body,
		Data:        maps.Clone(req.Data),
		DedupKey:    req.DedupKey,
		Address:     address,
		Timezone:    contact.Timezone,
		ScheduledAt: cloneTime(req.ScheduledAt),
		ExpiresAt:   cloneTime(req.ExpiresAt),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if n.ScheduledAt != nil && n.ScheduledAt.After(now) {
		n.Status = StatusScheduled
	}

	if n.DedupKey != "" {
		ok, err := e.dedup.ReserveDedup(ctx, n.DedupKey, n.Channel, n.ID, now, e.dedupWindow)
		if err != nil {
			return uuid.Nil, fmt.Errorf("reserve dedup key: %w", err)
		}
		if !ok {
			return uuid.Nil, ErrDuplicateRequest
		}
	}

	if err := e.store.CreateNotification(ctx, n); err != nil {
		if n.DedupKey != "" {
			if rerr := e.dedup.ReleaseDedup(ctx, n.DedupKey, n.Channel, n.ID); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		return uuid.Nil, fmt.Errorf("create notification: %w", err)
	}

	detail := map[string]any{"status": string(n.Status)}
	if n.ScheduledAt != nil {
		detail["scheduled_at"] = n.ScheduledAt.UTC().Format(time.RFC3339)
	}
	if _, err := e.tracker.append(ctx, n.ID, EventCreated, detail, now); err != nil {
		e.logger.LogAttrs(ctx, slog.LevelError, "failed to record created event",
			logger.NotificationID(n.ID),
			logger.Error(err))
	}

	e.logger.LogAttrs(ctx, slog.LevelDebug, "notification enqueued",
		logger.NotificationID(n.ID),
		logger.RecipientID(n.RecipientID),
		logger.Channel(n.Channel),
		logger.Category(n.Category),
		logger.Status(n.Status))

	return n.ID, nil
}

func (e *Enqueuer) validateRequest(req EnqueueRequest, now time.Time) error {
	verrs := ValidationErrors{}

	if err := e.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return errors.Join(ErrValidationFailed, err)
		}
		for _, fe := range fieldErrs {
			verrs[jsonFieldName(fe.Field())] = describeTag(fe)
		}
	}

	if req.Channel != "" && !req.Channel.Valid() {
		verrs["channel"] = "must be one of email, sms, push, in_app"
	}
	if req.Category != "" && !req.Category.Valid() {
		verrs["category"] = "must be one of marketing, transactional, system"
	}
	if req.Priority != 0 && !req.Priority.Valid() {
		verrs["priority"] = "must be one of low, normal, high, urgent"
	}
	if _, ok := verrs["title"]; !ok && strings.TrimSpace(req.Title) == "" {
		verrs["title"] = "must not be blank"
	}
	if _, ok := verrs["body"]; !ok && strings.TrimSpace(req.Body) == "" {
		verrs["body"] = "must not be blank"
	}
	if req.ScheduledAt != nil && req.ScheduledAt.Before(now.Add(-e.clockSkew)) {
		verrs["scheduled_at"] = "must not be in the past"
	}
	if req.ExpiresAt != nil {
		switch {
		case !req.ExpiresAt.After(now):
			verrs["expires_at"] = "must be in the future"
		case req.ScheduledAt != nil && !req.ExpiresAt.After(*req.ScheduledAt):
			verrs["expires_at"] = "must be after scheduled_at"
		}
	}

	if len(verrs) > 0 {
		return errors.Join(ErrValidationFailed, verrs)
	}
	return nil
}

var requestFieldNames = map[string]string{
	"RecipientID": "recipient_id",
	"Channel":     "channel",
	"Category":    "category",
	"Title":       "title",
	"Body":        "body",
	"DedupKey":    "dedup_key",
}

func jsonFieldName(field string) string {
	if name, ok := requestFieldNames[field]; ok {
		return name
	}
	return strings.ToLower(field)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// EnqueuerOption is a functional option for configuring an Enqueuer
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	dedupWindow time.Duration
	clockSkew   time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

// WithDedupWindow sets how long a dedup key blocks re-submission.
func WithDedupWindow(d time.Duration) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if d > 0 {
			o.dedupWindow = d
		}
	}
}

// WithClockSkew sets how far in the past scheduled_at may be.
func WithClockSkew(d time.Duration) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if d >= 0 {
			o.clockSkew = d
		}
	}
}

// WithEnqueuerClock overrides the time source.
func WithEnqueuerClock(now func() time.Time) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithEnqueuerLogger sets the logger.
func WithEnqueuerLogger(l *slog.Logger) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
