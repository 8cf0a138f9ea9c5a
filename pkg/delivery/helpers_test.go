package delivery_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedAdapter returns outcomes in order; the last one repeats.
type scriptedAdapter struct {
	channel  delivery.Channel
	outcomes []delivery.Outcome
	delay    time.Duration
	panicMsg string

	mu    sync.Mutex
	calls atomic.Int64
	sent  []uuid.UUID
}

func newScriptedAdapter(ch delivery.Channel, outcomes ...delivery.Outcome) *scriptedAdapter {
	if len(outcomes) == 0 {
		outcomes = []delivery.Outcome{delivery.Accepted("")}
	}
	return &scriptedAdapter{channel: ch, outcomes: outcomes}
}

func (a *scriptedAdapter) Channel() delivery.Channel { return a.channel }

func (a *scriptedAdapter) Send(ctx context.Context, n delivery.Notification) delivery.Outcome {
	call := int(a.calls.Add(1))

	a.mu.Lock()
	a.sent = append(a.sent, n.ID)
	a.mu.Unlock()

	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return delivery.RetryableFailure(ctx.Err().Error())
		}
	}

	idx := min(call, len(a.outcomes)) - 1
	out := a.outcomes[idx]
	if out.Accepted && out.ExternalRef == "" {
		out.ExternalRef = "ext-" + n.ID.String()
	}
	return out
}

func (a *scriptedAdapter) Calls() int {
	return int(a.calls.Load())
}

func (a *scriptedAdapter) SentIDs() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.sent...)
}

type testEnv struct {
	engine    *delivery.Engine
	store     *delivery.MemoryStorage
	directory *delivery.MemoryDirectory
	clock     *fakeClock
}

var testStart = time.Date(2026, 3, 10, 10, 20, 0, 0, time.UTC)

func newTestEnv(t *testing.T, adapters delivery.Adapters, opts ...delivery.Option) *testEnv {
	t.Helper()

	store := delivery.NewMemoryStorage()
	directory := delivery.NewMemoryDirectory(
		delivery.Contact{
			RecipientID: "user-1",
			Addresses: map[delivery.Channel]string{
				delivery.ChannelEmail: "user1@example.com",
				delivery.ChannelSMS:   "+15550001",
				delivery.ChannelPush:  "device-token-1",
			},
			Timezone: "UTC",
		},
		delivery.Contact{
			RecipientID: "user-2",
			Addresses: map[delivery.Channel]string{
				delivery.ChannelEmail: "user2@example.com",
			},
		},
	)
	clock := newFakeClock(testStart)

	cfg := delivery.DefaultConfig()
	cfg.BackoffJitter = 0
	cfg.Workers = 4

	all := append([]delivery.Option{
		delivery.WithConfig(cfg),
		delivery.WithClock(clock.Now),
	}, opts...)

	engine, err := delivery.NewEngine(store.Stores(), directory, adapters, all...)
	require.NoError(t, err)

	return &testEnv{engine: engine, store: store, directory: directory, clock: clock}
}

func (e *testEnv) enqueue(t *testing.T, req delivery.EnqueueRequest) uuid.UUID {
	t.Helper()
	if req.RecipientID == "" {
		req.RecipientID = "user-1"
	}
	if req.Category == "" {
		req.Category = delivery.CategoryMarketing
	}
	if req.Title == "" {
		req.Title = "Spring drop"
	}
	if req.Body == "" {
		req.Body = "New items are live."
	}
	id, err := e.engine.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return id
}

func (e *testEnv) cycle(t *testing.T) delivery.CycleStats {
	t.Helper()
	stats, err := e.engine.Dispatcher().RunCycle(context.Background())
	require.NoError(t, err)
	return stats
}

func (e *testEnv) get(t *testing.T, id uuid.UUID) *delivery.Notification {
	t.Helper()
	n, err := e.store.GetNotification(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (e *testEnv) eventKinds(t *testing.T, id uuid.UUID) []delivery.EventKind {
	t.Helper()
	events, err := e.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	kinds := make([]delivery.EventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
