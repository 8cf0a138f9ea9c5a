package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// Engine wires the gate, limiter, tracker, enqueuer and dispatcher over a set
// of stores and exposes the operations used by collaborators.
type Engine struct {
	stores     Stores
	enqueuer   *Enqueuer
	dispatcher *Dispatcher
	tracker    *Tracker
	gate       *Gate
	limiter    *Limiter
	optOuts    OptOutWriter
	now        func() time.Time
	logger     *slog.Logger
}

// NewEngine builds an engine from stores, a recipient directory and channel adapters.
func NewEngine(stores Stores, directory Directory, adapters Adapters, opts ...Option) (*Engine, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if directory == nil {
		return nil, ErrDirectoryNil
	}

	options := &engineOptions{
		config: DefaultConfig(),
		now:    time.Now,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}
	cfg := options.config

	policy := cfg.LimitPolicy()
	if options.policy != nil {
		policy = *options.policy
	}
	backoff := cfg.Backoff()
	if options.backoff != nil {
		backoff = *options.backoff
	}

	limiter, err := NewLimiter(stores.Windows, policy)
	if err != nil {
		return nil, err
	}
	gate, err := NewGate(stores.Preferences, limiter)
	if err != nil {
		return nil, err
	}
	tracker, err := NewTracker(stores.Events, stores.Notifications,
		WithEventSink(options.sink),
		WithTrackerLogger(options.logger.With(logger.Component("tracker"))))
	if err != nil {
		return nil, err
	}
	enqueuer, err := NewEnqueuer(stores.Notifications, stores.Dedup, directory, tracker,
		WithDedupWindow(cfg.DedupWindow),
		WithClockSkew(cfg.ClockSkew),
		WithEnqueuerClock(options.now),
		WithEnqueuerLogger(options.logger.With(logger.Component("enqueuer"))))
	if err != nil {
		return nil, err
	}

	dispatcherOpts := []DispatcherOption{
		WithBatchSize(cfg.BatchSize),
		WithPollInterval(cfg.PollInterval),
		WithWorkers(cfg.Workers),
		WithStaleClaimAfter(cfg.StaleClaimAfter),
		WithSendTimeout(cfg.SendTimeout),
		WithBackoff(backoff),
		WithDispatcherClock(options.now),
		WithDispatcherLogger(options.logger),
	}
	for ch, d := range cfg.Timeouts() {
		dispatcherOpts = append(dispatcherOpts, WithChannelTimeout(ch, d))
	}
	dispatcher, err := NewDispatcher(stores.Notifications, gate, limiter, adapters, tracker, dispatcherOpts...)
	if err != nil {
		return nil, err
	}

	return &Engine{
		stores:     stores,
		enqueuer:   enqueuer,
		dispatcher: dispatcher,
		tracker:    tracker,
		gate:       gate,
		limiter:    limiter,
		optOuts:    options.optOuts,
		now:        options.now,
		logger:     options.logger,
	}, nil
}

// Enqueue admits a notification request. See Enqueuer.Enqueue.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	return e.enqueuer.Enqueue(ctx, req)
}

// Status returns the lifecycle state and history of a notification.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (*StatusReport, error) {
	return e.tracker.Status(ctx, id)
}

// Cancel sets the notification's expiry to now so the dispatcher cancels it
// at its next selection. Terminal records are left untouched.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	for range 5 {
		n, err := e.stores.Notifications.GetNotification(ctx, id)
		if err != nil {
			return err
		}
		if n.Status.Terminal() {
			return nil
		}

		now := e.now()
		next := n.Clone()
		next.ExpiresAt = &now
		next.UpdatedAt = now
		err = e.stores.Notifications.SwapNotification(ctx, next, n.Version)
		if err == nil {
			e.logger.LogAttrs(ctx, slog.LevelInfo, "notification cancel requested",
				logger.NotificationID(id),
				logger.Status(n.Status))
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("cancel notification %s: %w", id, err)
		}
	}
	return ErrVersionConflict
}

// ReportExternalEvent records a channel-side event (delivered, opened,
// clicked, bounced, complained) for the notification accepted under
// externalRef. Bounces and complaints are forwarded to the opt-out writer
// when one is configured.
func (e *Engine) ReportExternalEvent(ctx context.Context, ch Channel, externalRef string, kind EventKind, detail map[string]any) error {
	if !kind.External() {
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, kind)
	}
	if externalRef == "" {
		return errors.Join(ErrValidationFailed, ValidationErrors{"external_ref": "is required"})
	}

	n, err := e.stores.Notifications.FindByExternalRef(ctx, ch, externalRef)
	if err != nil {
		return err
	}

	now := e.now()
	if err := e.tracker.Record(ctx, n.ID, kind, detail, now); err != nil {
		return err
	}

	if (kind == EventBounced || kind == EventComplained) && e.optOuts != nil {
		err := e.optOuts.SetOptOut(ctx, OptOut{
			RecipientID: n.RecipientID,
			Channel:     n.Channel,
			Active:      true,
			EffectiveAt: now,
			Source:      string(kind),
		})
		if err != nil {
			return fmt.Errorf("record opt-out after %s: %w", kind, err)
		}
		e.logger.LogAttrs(ctx, slog.LevelInfo, "recipient opted out by channel feedback",
			logger.RecipientID(n.RecipientID),
			logger.Channel(n.Channel),
			logger.Event(string(kind)))
	}
	return nil
}

// Dispatcher returns the engine's dispatcher for running the poll loop.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Gate returns the engine's preference and consent gate.
func (e *Engine) Gate() *Gate {
	return e.gate
}

// Limiter returns the engine's rate limiter.
func (e *Engine) Limiter() *Limiter {
	return e.limiter
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	config  Config
	policy  *LimitPolicy
	backoff *Backoff
	sink    EventSink
	optOuts OptOutWriter
	now     func() time.Time
	logger  *slog.Logger
}

// WithConfig sets engine settings.
func WithConfig(cfg Config) Option {
	return func(o *engineOptions) {
		o.config = cfg
	}
}

// WithLimitPolicy overrides the policy derived from Config.
func WithLimitPolicy(p LimitPolicy) Option {
	return func(o *engineOptions) {
		o.policy = &p
	}
}

// WithRetryPolicy overrides the backoff derived from Config.
func WithRetryPolicy(b Backoff) Option {
	return func(o *engineOptions) {
		o.backoff = &b
	}
}

// WithEventStream forwards every delivery event to sink.
func WithEventStream(sink EventSink) Option {
	return func(o *engineOptions) {
		o.sink = sink
	}
}

// WithBounceOptOut records an opt-out whenever a bounce or complaint is reported.
func WithBounceOptOut(w OptOutWriter) Option {
	return func(o *engineOptions) {
		o.optOuts = w
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger of every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
