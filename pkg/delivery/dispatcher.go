package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/statemachine"
)

// CycleStats summarises one poll cycle.
type CycleStats struct {
	Recovered int
	Selected  int
	Claimed   int
	Sent      int
	Deferred  int
	Retried   int
	Failed    int
	Cancelled int
	Skipped   int
}

// Dispatcher polls due notifications, applies the gate, claims records and
// reserves rate limit slots for them, then hands them to a bounded pool of
// senders.
//
// Selection and transition decisions run sequentially in the polling
// goroutine. Each record is claimed by a compare-and-swap on its version, so
// several dispatchers (in one or many processes) can share a store without
// attempting the same record twice. Only the winner of a claim touches the
// limiter. Every status change is checked against the lifecycle table before
// it is stored.
type Dispatcher struct {
	store    NotificationStore
	gate     *Gate
	limiter  *Limiter
	adapters Adapters
	tracker  *Tracker
	backoff  Backoff

	batchSize       int
	pollInterval    time.Duration
	staleClaimAfter time.Duration
	sendTimeout     time.Duration
	timeouts        map[Channel]time.Duration
	sem             chan struct{}
	now             func() time.Time
	logger          *slog.Logger
	id              string

	running atomic.Bool
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(store NotificationStore, gate *Gate, limiter *Limiter, adapters Adapters, tracker *Tracker, opts ...DispatcherOption) (*Dispatcher, error) {
	if store == nil || gate == nil || limiter == nil || tracker == nil {
		return nil, ErrStoreNil
	}

	options := &dispatcherOptions{
		batchSize:       100,
		pollInterval:    time.Second,
		workers:         10,
		staleClaimAfter: 10 * time.Minute,
		sendTimeout:     10 * time.Second,
		timeouts:        make(map[Channel]time.Duration),
		backoff:         DefaultBackoff(),
		now:             time.Now,
		logger:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(options)
	}

	hostname, _ := os.Hostname()

	return &Dispatcher{
		store:           store,
		gate:            gate,
		limiter:         limiter,
		adapters:        adapters,
		tracker:         tracker,
		backoff:         options.backoff,
		batchSize:       options.batchSize,
		pollInterval:    options.pollInterval,
		staleClaimAfter: options.staleClaimAfter,
		sendTimeout:     options.sendTimeout,
		timeouts:        options.timeouts,
		sem:             make(chan struct{}, options.workers),
		now:             options.now,
		logger:          options.logger.With(logger.Component("dispatcher")),
		id:              fmt.Sprintf("%s/%d/%s", hostname, os.Getpid(), uuid.NewString()[:8]),
	}, nil
}

// Run polls until ctx is cancelled and returns a function suitable for errgroup.
// In-flight sends of the current cycle are allowed to finish.
func (d *Dispatcher) Run(ctx context.Context) func() error {
	return func() error {
		if !d.running.CompareAndSwap(false, true) {
			return ErrDispatcherRunning
		}
		defer d.running.Store(false)

		d.logger.InfoContext(ctx, "dispatcher started",
			slog.String("dispatcher_id", d.id),
			slog.Duration("poll_interval", d.pollInterval),
			slog.Int("workers", cap(d.sem)))

		ticker := time.NewTicker(d.pollInterval)
		defer ticker.Stop()

		for {
			d.poll(ctx)

			select {
			case <-ctx.Done():
				d.logger.Info("dispatcher stopped", slog.String("dispatcher_id", d.id))
				return nil
			case <-ticker.C:
			}
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	start := time.Now()
	stats, err := d.RunCycle(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.LogAttrs(ctx, slog.LevelError, "poll cycle aborted", logger.Error(err))
	}
	if stats.Selected > 0 || stats.Recovered > 0 {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "poll cycle finished",
			slog.Int("selected", stats.Selected),
			slog.Int("sent", stats.Sent),
			slog.Int("retried", stats.Retried),
			slog.Int("deferred", stats.Deferred),
			slog.Int("failed", stats.Failed),
			slog.Int("cancelled", stats.Cancelled),
			slog.Int("skipped", stats.Skipped),
			logger.Duration(time.Since(start)))
	}
}

// RunCycle performs a single poll: it recovers stale claims, selects due
// records, applies policy and dispatches sends, then waits for those sends to
// settle. A storage failure aborts the remaining selection and is returned;
// records already claimed are still settled.
func (d *Dispatcher) RunCycle(ctx context.Context) (CycleStats, error) {
	c := &cycle{}
	now := d.now()

	if err := d.recoverStale(ctx, now, c); err != nil {
		return c.snapshot(), err
	}

	due, err := d.store.ListDue(ctx, now, d.batchSize)
	if err != nil {
		return c.snapshot(), errors.Join(ErrPollFailed, err)
	}
	c.update(func(s *CycleStats) { s.Selected = len(due) })

	var (
		wg       sync.WaitGroup
		cycleErr error
	)

loop:
	for _, n := range due {
		proceed, err := d.admit(ctx, n, now, c)
		if err != nil {
			cycleErr = err
			break loop
		}
		if !proceed {
			continue
		}

		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			cycleErr = ctx.Err()
			break loop
		}

		claimed, err := d.claim(ctx, n, now, c)
		if err == nil && claimed != nil {
			var reserved bool
			reserved, err = d.reserve(ctx, claimed, now, c)
			if !reserved {
				claimed = nil
			}
		}
		if err != nil || claimed == nil {
			<-d.sem
			if err != nil {
				cycleErr = err
				break loop
			}
			continue
		}

		wg.Add(1)
		go func(n *Notification) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.deliver(context.WithoutCancel(ctx), n, c)
		}(claimed)
	}

	wg.Wait()
	return c.snapshot(), cycleErr
}

// admit applies expiry and the gate. It reports whether the record should be
// claimed.
func (d *Dispatcher) admit(ctx context.Context, n *Notification, now time.Time, c *cycle) (bool, error) {
	if n.IsExpired(now) {
		return false, d.terminate(ctx, n, now, StatusCancelled, string(ReasonExpired), EventCancelled,
			map[string]any{"reason": string(ReasonExpired)}, c)
	}

	decision, err := d.gate.MaySend(ctx, n.RecipientID, n.Channel, n.Category, n.Timezone, now)
	if err != nil {
		return false, err
	}
	if !decision.Allow {
		if decision.Permanent() {
			return false, d.terminate(ctx, n, now, StatusCancelled, string(decision.Reason), EventCancelled,
				map[string]any{"reason": string(decision.Reason)}, c)
		}
		return false, d.postpone(ctx, n, now, stepDefer, decision.Reason, decision.RetryAfter, nil, c)
	}

	return true, nil
}

// claim stamps the record as dispatching and counts the attempt. A nil record
// without error means another dispatcher won the race.
func (d *Dispatcher) claim(ctx context.Context, n *Notification, now time.Time, c *cycle) (*Notification, error) {
	next, err := d.swap(ctx, n, now, stepClaim, func(x *Notification) {
		x.AttemptCount++
		x.NextAttemptAt = nil
		x.LastError = ""
	})
	if err != nil {
		return nil, d.skipOnConflict(ctx, n, err, c)
	}

	c.update(func(s *CycleStats) { s.Claimed++ })
	return next, nil
}

// reserve takes a rate limit slot for a claimed record and records the
// attempt. When the limiter denies, the claim is released to the end of the
// window without counting the attempt. A limiter failure releases the claim
// for the next poll and is returned.
func (d *Dispatcher) reserve(ctx context.Context, n *Notification, now time.Time, c *cycle) (bool, error) {
	res, err := d.limiter.TryReserve(ctx, n.RecipientID, n.Channel, n.Category, now)
	if err != nil {
		if rerr := d.release(ctx, n, now, ReasonPolicyUnavailable, now, nil, c); rerr != nil {
			return false, errors.Join(err, rerr)
		}
		return false, err
	}
	if !res.Allowed {
		return false, d.release(ctx, n, now, ReasonRateLimited, res.RetryAfter,
			map[string]any{"limit": res.Limit}, c)
	}

	d.emit(ctx, n.ID, EventAttempt, map[string]any{
		"attempt":    n.AttemptCount,
		"dispatcher": d.id,
	}, now)
	return true, nil
}

// deliver sends a claimed record and stores the outcome.
func (d *Dispatcher) deliver(ctx context.Context, n *Notification, c *cycle) {
	start := time.Now()

	var (
		out    Outcome
		reason Reason
	)
	adapter, ok := d.adapters[n.Channel]
	if !ok {
		out = PermanentFailure("no adapter registered for channel " + string(n.Channel))
		reason = ReasonNoAdapter
	} else {
		out = d.send(ctx, adapter, n)
	}

	now := d.now()
	attrs := []slog.Attr{
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel),
		logger.Attempt(n.AttemptCount),
		logger.Duration(time.Since(start)),
	}

	switch {
	case out.Accepted:
		if _, err := d.settle(ctx, n, now, stepSend, func(x *Notification) {
			x.ExternalRef = out.ExternalRef
			x.NextAttemptAt = nil
			x.LastError = ""
		}); err != nil {
			d.settleFailed(ctx, n, err)
			return
		}
		c.update(func(s *CycleStats) { s.Sent++ })
		d.emit(ctx, n.ID, EventSent, map[string]any{"external_ref": out.ExternalRef, "attempt": n.AttemptCount}, now)
		d.logger.LogAttrs(ctx, slog.LevelInfo, "notification sent", append(attrs, logger.ExternalRef(out.ExternalRef))...)

	case out.Retryable && !d.backoff.Exhausted(n.AttemptCount):
		at := now.Add(d.backoff.NextAttempt(n.AttemptCount))
		if _, err := d.settle(ctx, n, now, stepRetry, func(x *Notification) {
			x.NextAttemptAt = &at
			x.LastError = ""
		}); err != nil {
			d.settleFailed(ctx, n, err)
			return
		}
		c.update(func(s *CycleStats) { s.Retried++ })
		d.emit(ctx, n.ID, EventDeferred, map[string]any{
			"reason":      string(ReasonTransportRetry),
			"error":       out.ErrorDetail,
			"attempt":     n.AttemptCount,
			"retry_after": at.UTC().Format(time.RFC3339Nano),
		}, now)
		d.logger.LogAttrs(ctx, slog.LevelWarn, "send failed, retry scheduled",
			append(attrs, slog.String("error", out.ErrorDetail), slog.Time("retry_after", at))...)

	default:
		lastErr := out.ErrorDetail
		detail := map[string]any{"error": out.ErrorDetail, "attempt": n.AttemptCount}
		switch {
		case out.Retryable:
			lastErr = string(ReasonRetriesExhausted)
			detail["reason"] = string(ReasonRetriesExhausted)
		case reason != "":
			detail["reason"] = string(reason)
		}
		if lastErr == "" {
			lastErr = "delivery failed"
		}

		if _, err := d.settle(ctx, n, now, stepFail, func(x *Notification) {
			x.NextAttemptAt = nil
			x.LastError = lastErr
		}); err != nil {
			d.settleFailed(ctx, n, err)
			return
		}
		c.update(func(s *CycleStats) { s.Failed++ })
		d.emit(ctx, n.ID, EventFailed, detail, now)
		d.logger.LogAttrs(ctx, slog.LevelWarn, "notification failed",
			append(attrs, slog.String("error", lastErr), logger.Reason(reason))...)
	}
}

// send calls the adapter bounded by the channel timeout. Timeouts and panics
// are reported as retryable failures.
func (d *Dispatcher) send(ctx context.Context, a Adapter, n *Notification) Outcome {
	timeout := d.timeoutFor(n.Channel)
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.LogAttrs(ctx, slog.LevelError, "adapter panicked",
					logger.NotificationID(n.ID),
					logger.Channel(n.Channel),
					slog.Any("panic", r))
				result <- RetryableFailure(fmt.Sprintf("adapter panic: %v", r))
			}
		}()
		result <- a.Send(sendCtx, *n.Clone())
	}()

	select {
	case out := <-result:
		if !out.Accepted && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			out.Retryable = true
			if out.ErrorDetail == "" {
				out.ErrorDetail = fmt.Sprintf("send timed out after %s", timeout)
			}
		}
		return out
	case <-sendCtx.Done():
		select {
		case out := <-result:
			if out.Accepted {
				return out
			}
		default:
		}
		return RetryableFailure(fmt.Sprintf("send timed out after %s", timeout))
	}
}

func (d *Dispatcher) timeoutFor(ch Channel) time.Duration {
	if t, ok := d.timeouts[ch]; ok && t > 0 {
		return t
	}
	return d.sendTimeout
}

// recoverStale returns records stuck in dispatching (e.g. after a crash
// mid-send) to the retry path.
func (d *Dispatcher) recoverStale(ctx context.Context, now time.Time, c *cycle) error {
	if d.staleClaimAfter <= 0 {
		return nil
	}

	stale, err := d.store.ListStale(ctx, now.Add(-d.staleClaimAfter), d.batchSize)
	if err != nil {
		return errors.Join(ErrPollFailed, err)
	}

	for _, n := range stale {
		var err error
		if d.backoff.Exhausted(n.AttemptCount) {
			err = d.terminate(ctx, n, now, StatusFailed, string(ReasonRetriesExhausted), EventFailed,
				map[string]any{"reason": string(ReasonRetriesExhausted), "error": "claim expired", "attempt": n.AttemptCount}, c)
		} else {
			err = d.postpone(ctx, n, now, stepRetry, ReasonClaimExpired, now, map[string]any{"attempt": n.AttemptCount}, c)
		}
		if err != nil {
			return err
		}
		c.update(func(s *CycleStats) { s.Recovered++ })
	}
	return nil
}

// postpone moves a record to retry_scheduled at the given time.
func (d *Dispatcher) postpone(ctx context.Context, n *Notification, now time.Time, step statemachine.Event, reason Reason, at time.Time, extra map[string]any, c *cycle) error {
	next, err := d.swap(ctx, n, now, step, func(x *Notification) {
		x.NextAttemptAt = &at
		x.LastError = ""
	})
	if err != nil {
		return d.skipOnConflict(ctx, n, err, c)
	}
	d.deferred(ctx, next, now, reason, at, extra, c)
	return nil
}

// release hands a claim back as retry_scheduled and takes back its attempt.
func (d *Dispatcher) release(ctx context.Context, n *Notification, now time.Time, reason Reason, at time.Time, extra map[string]any, c *cycle) error {
	next, err := d.settle(ctx, n, now, stepRelease, func(x *Notification) {
		x.AttemptCount = n.AttemptCount - 1
		x.NextAttemptAt = &at
		x.LastError = ""
	})
	if err != nil {
		return d.skipOnConflict(ctx, n, err, c)
	}
	d.deferred(ctx, next, now, reason, at, extra, c)
	return nil
}

func (d *Dispatcher) deferred(ctx context.Context, n *Notification, now time.Time, reason Reason, at time.Time, extra map[string]any, c *cycle) {
	detail := map[string]any{
		"reason":      string(reason),
		"retry_after": at.UTC().Format(time.RFC3339Nano),
	}
	for k, v := range extra {
		detail[k] = v
	}
	c.update(func(s *CycleStats) { s.Deferred++ })
	d.emit(ctx, n.ID, EventDeferred, detail, now)
	d.logger.LogAttrs(ctx, slog.LevelDebug, "notification deferred",
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel),
		logger.Reason(reason),
		slog.Time("retry_after", at))
}

// terminate moves a record into a terminal status.
func (d *Dispatcher) terminate(ctx context.Context, n *Notification, now time.Time, status Status, lastErr string, kind EventKind, detail map[string]any, c *cycle) error {
	step := stepFail
	if status == StatusCancelled {
		step = stepCancel
	}
	next, err := d.swap(ctx, n, now, step, func(x *Notification) {
		x.NextAttemptAt = nil
		x.LastError = lastErr
	})
	if err != nil {
		return d.skipOnConflict(ctx, n, err, c)
	}

	c.update(func(s *CycleStats) {
		if status == StatusCancelled {
			s.Cancelled++
		} else {
			s.Failed++
		}
	})
	d.emit(ctx, next.ID, kind, detail, now)
	d.logger.LogAttrs(ctx, slog.LevelInfo, "notification closed",
		logger.NotificationID(n.ID),
		logger.Channel(n.Channel),
		logger.Status(status),
		logger.Reason(lastErr))
	return nil
}

// swap applies mutate to a copy of n, moves it through step and stores it
// guarded by n's version. Steps the lifecycle does not allow are never stored.
func (d *Dispatcher) swap(ctx context.Context, n *Notification, now time.Time, step statemachine.Event, mutate func(*Notification)) (*Notification, error) {
	next := n.Clone()
	mutate(next)
	if err := advance(ctx, step, n, next); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := d.store.SwapNotification(ctx, next, n.Version); err != nil {
		return nil, err
	}
	return next, nil
}

// settle stores the outcome of a send. A version conflict caused by a
// concurrent expiry update is retried against the fresh record as long as it
// is still this attempt's claim.
func (d *Dispatcher) settle(ctx context.Context, n *Notification, now time.Time, step statemachine.Event, mutate func(*Notification)) (*Notification, error) {
	current := n
	for range 3 {
		next, err := d.swap(ctx, current, now, step, mutate)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}

		fresh, err := d.store.GetNotification(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != StatusDispatching || fresh.AttemptCount != n.AttemptCount {
			return nil, ErrVersionConflict
		}
		current = fresh
	}
	return nil, ErrVersionConflict
}

func (d *Dispatcher) settleFailed(ctx context.Context, n *Notification, err error) {
	d.logger.LogAttrs(ctx, slog.LevelError, "failed to store send outcome",
		logger.NotificationID(n.ID),
		logger.Attempt(n.AttemptCount),
		logger.Error(err))
}

// skipOnConflict swallows lost races and wraps every other storage error.
func (d *Dispatcher) skipOnConflict(ctx context.Context, n *Notification, err error, c *cycle) error {
	if errors.Is(err, ErrVersionConflict) {
		c.update(func(s *CycleStats) { s.Skipped++ })
		d.logger.LogAttrs(ctx, slog.LevelDebug, "lost claim race",
			logger.NotificationID(n.ID))
		return nil
	}
	return errors.Join(ErrTransitionFailed, err)
}

func (d *Dispatcher) emit(ctx context.Context, id uuid.UUID, kind EventKind, detail map[string]any, now time.Time) {
	if _, err := d.tracker.append(ctx, id, kind, detail, now); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "failed to record delivery event",
			logger.NotificationID(id),
			logger.Event(string(kind)),
			logger.Error(err))
	}
}

type cycle struct {
	mu    sync.Mutex
	stats CycleStats
}

func (c *cycle) update(fn func(*CycleStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *cycle) snapshot() CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// DispatcherOption is a functional option for configuring a Dispatcher
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	batchSize       int
	pollInterval    time.Duration
	workers         int
	staleClaimAfter time.Duration
	sendTimeout     time.Duration
	timeouts        map[Channel]time.Duration
	backoff         Backoff
	now             func() time.Time
	logger          *slog.Logger
}

// WithBatchSize sets how many due records a cycle selects at most.
func WithBatchSize(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithPollInterval sets how often Run polls for due work.
func WithPollInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithWorkers sets the maximum number of concurrent adapter calls.
func WithWorkers(n int) DispatcherOption {
	return func(o *dispatcherOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithStaleClaimAfter sets how long a record may stay dispatching before it
// is returned to the retry path. Zero disables recovery.
func WithStaleClaimAfter(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d >= 0 {
			o.staleClaimAfter = d
		}
	}
}

// WithSendTimeout sets the timeout for channels without a specific one.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// WithChannelTimeout sets the send timeout for one channel.
func WithChannelTimeout(ch Channel, d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.timeouts[ch] = d
		}
	}
}

// WithBackoff sets the retry policy.
func WithBackoff(b Backoff) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.backoff = b
	}
}

// WithDispatcherClock overrides the time source.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(o *dispatcherOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if l != nil {
			o.logger = l
		}
	}
}
