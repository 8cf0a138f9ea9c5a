package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

func TestDispatcher_SMSWithoutPreferenceIsSentInOneCycle(t *testing.T) {
	t.Parallel()

	sms := newScriptedAdapter(delivery.ChannelSMS)
	env := newTestEnv(t, delivery.NewAdapters(sms))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS, Category: delivery.CategoryMarketing})

	stats := env.cycle(t)
	assert.Equal(t, 1, stats.Selected)
	assert.Equal(t, 1, stats.Sent)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusSent, n.Status)
	assert.Equal(t, 1, n.AttemptCount)
	assert.Equal(t, "ext-"+id.String(), n.ExternalRef)
	assert.Nil(t, n.NextAttemptAt)
	assert.Empty(t, n.LastError)
	assert.Equal(t, 1, sms.Calls())
	assert.Equal(t, []delivery.EventKind{delivery.EventCreated, delivery.EventAttempt, delivery.EventSent}, env.eventKinds(t, id))
}

func TestDispatcher_OptedOutRecipientIsCancelled(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail)
	env := newTestEnv(t, delivery.NewAdapters(email))
	require.NoError(t, env.store.SetOptOut(context.Background(), delivery.OptOut{
		RecipientID: "user-1",
		Channel:     delivery.ChannelEmail,
		Active:      true,
		EffectiveAt: testStart.Add(-time.Hour),
	}))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusCancelled, n.Status)
	assert.Equal(t, string(delivery.ReasonOptedOut), n.LastError)
	assert.Equal(t, 0, n.AttemptCount)
	assert.Equal(t, 0, email.Calls())
	assert.Equal(t, []delivery.EventKind{delivery.EventCreated, delivery.EventCancelled}, env.eventKinds(t, id))
}

func TestDispatcher_DisabledPreferenceIsCancelled(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail)
	env := newTestEnv(t, delivery.NewAdapters(email))
	require.NoError(t, env.store.SetPreference(context.Background(), delivery.Preference{
		RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategoryMarketing, Enabled: false,
	}))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusCancelled, n.Status)
	assert.Equal(t, string(delivery.ReasonPreferenceDisabled), n.LastError)
	assert.Equal(t, 0, email.Calls())
}

func TestDispatcher_RetryableFailuresThenAccepted(t *testing.T) {
	t.Parallel()

	push := newScriptedAdapter(delivery.ChannelPush,
		delivery.RetryableFailure("gateway 503"),
		delivery.RetryableFailure("gateway 503"),
		delivery.Accepted("push-42"),
	)
	env := newTestEnv(t, delivery.NewAdapters(push),
		delivery.WithRetryPolicy(delivery.Backoff{Base: 30 * time.Second, Cap: time.Hour, MaxRetries: 5}))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelPush})

	env.cycle(t)
	n := env.get(t, id)
	require.Equal(t, delivery.StatusRetryScheduled, n.Status)
	require.NotNil(t, n.NextAttemptAt)
	assert.Equal(t, testStart.Add(time.Minute), *n.NextAttemptAt)
	assert.Equal(t, 1, n.AttemptCount)

	// Not due yet.
	stats := env.cycle(t)
	assert.Equal(t, 0, stats.Selected)

	env.clock.Advance(time.Minute)
	env.cycle(t)
	n = env.get(t, id)
	require.Equal(t, delivery.StatusRetryScheduled, n.Status)
	assert.Equal(t, env.clock.Now().Add(2*time.Minute), *n.NextAttemptAt)

	env.clock.Advance(2 * time.Minute)
	env.cycle(t)

	n = env.get(t, id)
	assert.Equal(t, delivery.StatusSent, n.Status)
	assert.Equal(t, 3, n.AttemptCount)
	assert.Equal(t, "push-42", n.ExternalRef)
	assert.Nil(t, n.NextAttemptAt)
	assert.Equal(t, 3, push.Calls())
}

func TestDispatcher_RetriesExhausted(t *testing.T) {
	t.Parallel()

	sms := newScriptedAdapter(delivery.ChannelSMS, delivery.RetryableFailure("carrier timeout"))
	env := newTestEnv(t, delivery.NewAdapters(sms),
		delivery.WithRetryPolicy(delivery.Backoff{Base: time.Second, Cap: time.Minute, MaxRetries: 3}))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})

	for range 10 {
		env.cycle(t)
		env.clock.Advance(time.Hour)
	}

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusFailed, n.Status)
	assert.Equal(t, string(delivery.ReasonRetriesExhausted), n.LastError)
	assert.Equal(t, 3, n.AttemptCount)
	assert.Nil(t, n.NextAttemptAt)
	assert.Equal(t, 3, sms.Calls())

	kinds := env.eventKinds(t, id)
	assert.Equal(t, delivery.EventFailed, kinds[len(kinds)-1])
}

func TestDispatcher_PermanentFailure(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail, delivery.PermanentFailure("invalid address"))
	env := newTestEnv(t, delivery.NewAdapters(email))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusFailed, n.Status)
	assert.Equal(t, "invalid address", n.LastError)
	assert.Equal(t, 1, n.AttemptCount)
}

func TestDispatcher_RateLimitDefersToNextWindow(t *testing.T) {
	t.Parallel()

	sms := newScriptedAdapter(delivery.ChannelSMS)
	env := newTestEnv(t, delivery.NewAdapters(sms),
		delivery.WithLimitPolicy(delivery.LimitPolicy{Window: time.Hour, Max: 1}))

	first := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})
	second := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})

	env.cycle(t)

	var sent, deferred *delivery.Notification
	for _, id := range []uuid.UUID{first, second} {
		n := env.get(t, id)
		switch n.Status {
		case delivery.StatusSent:
			sent = n
		case delivery.StatusRetryScheduled:
			deferred = n
		}
	}
	require.NotNil(t, sent)
	require.NotNil(t, deferred)
	assert.Equal(t, 1, sms.Calls())
	assert.Equal(t, 0, deferred.AttemptCount)
	assert.Equal(t, time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC), *deferred.NextAttemptAt)

	env.clock.Advance(40 * time.Minute)
	env.cycle(t)
	assert.Equal(t, delivery.StatusSent, env.get(t, deferred.ID).Status)
}

func TestDispatcher_QuietHoursDeferWithoutCountingAttempt(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail)
	env := newTestEnv(t, delivery.NewAdapters(email))
	require.NoError(t, env.store.SetPreference(context.Background(), delivery.Preference{
		RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategoryMarketing, Enabled: true,
		QuietHours: &delivery.QuietHours{Start: "09:00", End: "12:00"},
	}))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.cycle(t)

	n := env.get(t, id)
	require.Equal(t, delivery.StatusRetryScheduled, n.Status)
	assert.Equal(t, 0, n.AttemptCount)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), *n.NextAttemptAt)
	assert.Equal(t, 0, email.Calls())

	events, err := env.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, delivery.EventDeferred, last.Kind)
	assert.Equal(t, string(delivery.ReasonQuietHours), last.Detail["reason"])

	env.clock.Advance(2 * time.Hour)
	env.cycle(t)
	assert.Equal(t, delivery.StatusSent, env.get(t, id).Status)
}

func TestDispatcher_ExpiredRecordIsNeverDispatched(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail)
	env := newTestEnv(t, delivery.NewAdapters(email))

	expires := testStart.Add(5 * time.Minute)
	scheduled := testStart.Add(10 * time.Minute)
	_, err := env.engine.Enqueue(context.Background(), delivery.EnqueueRequest{
		RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem,
		Title: "t", Body: "b", ScheduledAt: &scheduled, ExpiresAt: &expires,
	})
	require.ErrorIs(t, err, delivery.ErrValidationFailed)

	expires = testStart.Add(time.Minute)
	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, ExpiresAt: &expires})
	env.clock.Advance(2 * time.Minute)
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusCancelled, n.Status)
	assert.Equal(t, string(delivery.ReasonExpired), n.LastError)
	assert.Equal(t, 0, n.AttemptCount)
	assert.Equal(t, 0, email.Calls())
	assert.NotContains(t, env.eventKinds(t, id), delivery.EventAttempt)
}

func TestDispatcher_ScheduledRecordWaitsUntilDue(t *testing.T) {
	t.Parallel()

	push := newScriptedAdapter(delivery.ChannelPush)
	env := newTestEnv(t, delivery.NewAdapters(push))

	at := testStart.Add(30 * time.Minute)
	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelPush, ScheduledAt: &at})
	assert.Equal(t, delivery.StatusScheduled, env.get(t, id).Status)

	env.cycle(t)
	assert.Equal(t, 0, push.Calls())

	env.clock.Advance(30 * time.Minute)
	env.cycle(t)
	assert.Equal(t, delivery.StatusSent, env.get(t, id).Status)
}

func TestDispatcher_PriorityOrdering(t *testing.T) {
	t.Parallel()

	email := newScriptedAdapter(delivery.ChannelEmail)
	cfg := delivery.DefaultConfig()
	cfg.Workers = 1
	env := newTestEnv(t, delivery.NewAdapters(email), delivery.WithConfig(cfg))

	low := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, Priority: delivery.PriorityLow})
	env.clock.Advance(time.Second)
	normalOld := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.clock.Advance(time.Second)
	urgent := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, Priority: delivery.PriorityUrgent})
	env.clock.Advance(time.Second)
	normalNew := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	high := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, Priority: delivery.PriorityHigh})

	env.cycle(t)

	assert.Equal(t, []uuid.UUID{urgent, high, normalOld, normalNew, low}, email.SentIDs())
}

func TestDispatcher_TimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	push := newScriptedAdapter(delivery.ChannelPush)
	push.delay = time.Second

	cfg := delivery.DefaultConfig()
	cfg.BackoffJitter = 0
	cfg.PushTimeout = 20 * time.Millisecond
	env := newTestEnv(t, delivery.NewAdapters(push), delivery.WithConfig(cfg))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelPush})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusRetryScheduled, n.Status)
	assert.Equal(t, 1, n.AttemptCount)
}

func TestDispatcher_AdapterPanicIsRetryable(t *testing.T) {
	t.Parallel()

	sms := newScriptedAdapter(delivery.ChannelSMS)
	sms.panicMsg = "nil transport"
	env := newTestEnv(t, delivery.NewAdapters(sms))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusRetryScheduled, n.Status)

	events, err := env.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	assert.Contains(t, events[len(events)-1].Detail["error"], "nil transport")
}

func TestDispatcher_MissingAdapterFails(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.NewAdapters(newScriptedAdapter(delivery.ChannelSMS)))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail})
	env.cycle(t)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusFailed, n.Status)
	assert.Contains(t, n.LastError, "no adapter")
}

func TestDispatcher_ConcurrentDispatchersClaimOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := delivery.NewMemoryStorage()
	directory := delivery.NewMemoryDirectory(delivery.Contact{
		RecipientID: "user-1",
		Addresses:   map[delivery.Channel]string{delivery.ChannelEmail: "user1@example.com"},
	})
	clock := newFakeClock(testStart)
	email := newScriptedAdapter(delivery.ChannelEmail, delivery.RetryableFailure("busy"))

	limiter, err := delivery.NewLimiter(store, delivery.LimitPolicy{})
	require.NoError(t, err)
	gate, err := delivery.NewGate(store, limiter)
	require.NoError(t, err)
	tracker, err := delivery.NewTracker(store, store)
	require.NoError(t, err)
	enqueuer, err := delivery.NewEnqueuer(store, store, directory, tracker, delivery.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	const records = 40
	ids := make([]uuid.UUID, 0, records)
	for range records {
		id, err := enqueuer.Enqueue(ctx, delivery.EnqueueRequest{
			RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategoryTransactional,
			Title: "Receipt", Body: "Thanks",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	const dispatchers = 6
	var wg sync.WaitGroup
	for range dispatchers {
		d, err := delivery.NewDispatcher(store, gate, limiter, delivery.NewAdapters(email), tracker,
			delivery.WithWorkers(3),
			delivery.WithDispatcherClock(clock.Now))
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RunCycle(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, id := range ids {
		events, err := store.ListEvents(ctx, id)
		require.NoError(t, err)
		attempts := 0
		for _, e := range events {
			if e.Kind == delivery.EventAttempt {
				attempts++
			}
		}
		assert.Equal(t, 1, attempts, "notification %s", id)

		n, err := store.GetNotification(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, n.AttemptCount)
	}
	assert.Equal(t, records, email.Calls())
}

type failingDueStore struct {
	*delivery.MemoryStorage
}

func (s failingDueStore) ListDue(context.Context, time.Time, int) ([]*delivery.Notification, error) {
	return nil, errors.New("connection reset")
}

func TestDispatcher_StorageFailureAbortsCycle(t *testing.T) {
	t.Parallel()

	store := delivery.NewMemoryStorage()
	limiter, err := delivery.NewLimiter(store, delivery.LimitPolicy{})
	require.NoError(t, err)
	gate, err := delivery.NewGate(store, limiter)
	require.NoError(t, err)
	tracker, err := delivery.NewTracker(store, store)
	require.NoError(t, err)

	d, err := delivery.NewDispatcher(failingDueStore{store}, gate, limiter, delivery.Adapters{}, tracker)
	require.NoError(t, err)

	_, err = d.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, delivery.ErrPollFailed)
}

func TestDispatcher_RecoversStaleClaims(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sms := newScriptedAdapter(delivery.ChannelSMS)
	env := newTestEnv(t, delivery.NewAdapters(sms))

	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})

	// Simulate a dispatcher that crashed after claiming.
	n := env.get(t, id)
	claimed := n.Clone()
	claimed.Status = delivery.StatusDispatching
	claimed.AttemptCount = 1
	claimed.UpdatedAt = testStart
	require.NoError(t, env.store.SwapNotification(ctx, claimed, n.Version))

	env.clock.Advance(time.Minute)
	stats := env.cycle(t)
	assert.Equal(t, 0, stats.Recovered)
	assert.Equal(t, delivery.StatusDispatching, env.get(t, id).Status)

	env.clock.Advance(15 * time.Minute)
	stats = env.cycle(t)
	assert.Equal(t, 1, stats.Recovered)

	n = env.get(t, id)
	assert.Equal(t, delivery.StatusSent, n.Status)
	assert.Equal(t, 2, n.AttemptCount)
}

func TestDispatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	sms := newScriptedAdapter(delivery.ChannelSMS)
	cfg := delivery.DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	env := newTestEnv(t, delivery.NewAdapters(sms), delivery.WithConfig(cfg))
	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelSMS})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.engine.Dispatcher().Run(ctx)() }()

	require.Eventually(t, func() bool {
		return env.get(t, id).Status == delivery.StatusSent
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// conflictingStore makes the first n swaps lose the version check, as if
// another dispatcher had claimed the record first.
type conflictingStore struct {
	*delivery.MemoryStorage
	remaining atomic.Int64
}

func (s *conflictingStore) SwapNotification(ctx context.Context, n *delivery.Notification, expectedVersion int64) error {
	if s.remaining.Add(-1) >= 0 {
		return delivery.ErrVersionConflict
	}
	return s.MemoryStorage.SwapNotification(ctx, n, expectedVersion)
}

type dispatchFixture struct {
	store    *delivery.MemoryStorage
	gate     *delivery.Gate
	limiter  *delivery.Limiter
	tracker  *delivery.Tracker
	enqueuer *delivery.Enqueuer
	clock    *fakeClock
}

func newDispatchFixture(t *testing.T, policy delivery.LimitPolicy) *dispatchFixture {
	t.Helper()

	store := delivery.NewMemoryStorage()
	directory := delivery.NewMemoryDirectory(delivery.Contact{
		RecipientID: "user-1",
		Addresses: map[delivery.Channel]string{
			delivery.ChannelEmail: "user1@example.com",
			delivery.ChannelSMS:   "+15550001",
		},
	})
	clock := newFakeClock(testStart)

	limiter, err := delivery.NewLimiter(store, policy)
	require.NoError(t, err)
	gate, err := delivery.NewGate(store, limiter)
	require.NoError(t, err)
	tracker, err := delivery.NewTracker(store, store)
	require.NoError(t, err)
	enqueuer, err := delivery.NewEnqueuer(store, store, directory, tracker, delivery.WithEnqueuerClock(clock.Now))
	require.NoError(t, err)

	return &dispatchFixture{store: store, gate: gate, limiter: limiter, tracker: tracker, enqueuer: enqueuer, clock: clock}
}

func (f *dispatchFixture) enqueueSMS(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.enqueuer.Enqueue(context.Background(), delivery.EnqueueRequest{
		RecipientID: "user-1", Channel: delivery.ChannelSMS, Category: delivery.CategoryMarketing,
		Title: "Spring drop", Body: "New items are live.",
	})
	require.NoError(t, err)
	return id
}

func TestDispatcher_LostClaimDoesNotConsumeQuota(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newDispatchFixture(t, delivery.LimitPolicy{Window: time.Hour, Max: 1})
	id := f.enqueueSMS(t)

	racing := &conflictingStore{MemoryStorage: f.store}
	racing.remaining.Store(1)

	sms := newScriptedAdapter(delivery.ChannelSMS)
	d, err := delivery.NewDispatcher(racing, f.gate, f.limiter, delivery.NewAdapters(sms), f.tracker,
		delivery.WithDispatcherClock(f.clock.Now))
	require.NoError(t, err)

	stats, err := d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, sms.Calls())

	key := delivery.NewWindowKey("user-1", delivery.ChannelSMS, delivery.CategoryMarketing, time.Hour, testStart)
	count, err := f.store.WindowCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	n, err := f.store.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, n.Status)

	// The next poll wins the claim and uses the only slot of the window.
	stats, err = d.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)

	n, err = f.store.GetNotification(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSent, n.Status)
	assert.Equal(t, 1, n.AttemptCount)

	count, err = f.store.WindowCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDispatcher_ConcurrentDispatchersShareRateLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const (
		limit       = 3
		records     = 12
		dispatchers = 6
	)
	f := newDispatchFixture(t, delivery.LimitPolicy{Window: time.Hour, Max: limit})

	ids := make([]uuid.UUID, 0, records)
	for range records {
		ids = append(ids, f.enqueueSMS(t))
	}

	sms := newScriptedAdapter(delivery.ChannelSMS)
	var wg sync.WaitGroup
	for range dispatchers {
		d, err := delivery.NewDispatcher(f.store, f.gate, f.limiter, delivery.NewAdapters(sms), f.tracker,
			delivery.WithWorkers(2),
			delivery.WithDispatcherClock(f.clock.Now))
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.RunCycle(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, sms.Calls())

	key := delivery.NewWindowKey("user-1", delivery.ChannelSMS, delivery.CategoryMarketing, time.Hour, testStart)
	count, err := f.store.WindowCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), count)

	windowEnd := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	sent, deferred := 0, 0
	for _, id := range ids {
		n, err := f.store.GetNotification(ctx, id)
		require.NoError(t, err)

		attempts := 0
		events, err := f.store.ListEvents(ctx, id)
		require.NoError(t, err)
		for _, e := range events {
			if e.Kind == delivery.EventAttempt {
				attempts++
			}
		}

		switch n.Status {
		case delivery.StatusSent:
			sent++
			assert.Equal(t, 1, n.AttemptCount)
			assert.Equal(t, 1, attempts)
		case delivery.StatusRetryScheduled:
			deferred++
			assert.Equal(t, 0, n.AttemptCount, "a rate limit denial is not an attempt")
			assert.Equal(t, 0, attempts)
			require.NotNil(t, n.NextAttemptAt)
			assert.Equal(t, windowEnd, *n.NextAttemptAt)
		default:
			t.Errorf("notification %s left in %s", id, n.Status)
		}
	}
	assert.Equal(t, limit, sent)
	assert.Equal(t, records-limit, deferred)
}
