package delivery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

func TestEnqueuer_Validation(t *testing.T) {
	t.Parallel()

	past := testStart.Add(-time.Hour)
	soon := testStart.Add(time.Minute)

	tests := []struct {
		name  string
		req   delivery.EnqueueRequest
		field string
	}{
		{
			name:  "missing recipient",
			req:   delivery.EnqueueRequest{Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t", Body: "b"},
			field: "recipient_id",
		},
		{
			name:  "unknown channel",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: "fax", Category: delivery.CategorySystem, Title: "t", Body: "b"},
			field: "channel",
		},
		{
			name:  "unknown category",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: "promo", Title: "t", Body: "b"},
			field: "category",
		},
		{
			name:  "bad priority",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Priority: 9, Title: "t", Body: "b"},
			field: "priority",
		},
		{
			name:  "blank title",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "   ", Body: "b"},
			field: "title",
		},
		{
			name:  "missing body",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t"},
			field: "body",
		},
		{
			name:  "scheduled in the past",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t", Body: "b", ScheduledAt: &past},
			field: "scheduled_at",
		},
		{
			name:  "expired on arrival",
			req:   delivery.EnqueueRequest{RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t", Body: "b", ExpiresAt: &past},
			field: "expires_at",
		},
		{
			name: "expires before schedule",
			req: delivery.EnqueueRequest{
				RecipientID: "user-1", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t", Body: "b",
				ScheduledAt: ptr(testStart.Add(time.Hour)), ExpiresAt: &soon,
			},
			field: "expires_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := newTestEnv(t, delivery.Adapters{})
			_, err := env.engine.Enqueue(context.Background(), tt.req)
			require.ErrorIs(t, err, delivery.ErrValidationFailed)

			var verrs delivery.ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs, tt.field)
		})
	}
}

func TestEnqueuer_ScheduledAtWithinClockSkewIsAccepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})
	at := testStart.Add(-30 * time.Second)
	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, ScheduledAt: &at})

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusPending, n.Status)
	assert.True(t, n.IsDue(testStart))
}

func TestEnqueuer_CreatesPendingRecord(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})
	id := env.enqueue(t, delivery.EnqueueRequest{
		Channel:  delivery.ChannelSMS,
		Category: delivery.CategoryTransactional,
		Data:     map[string]string{"order_id": "A-17"},
	})
	require.NotEqual(t, uuid.Nil, id)

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusPending, n.Status)
	assert.Equal(t, delivery.PriorityNormal, n.Priority)
	assert.Equal(t, "+15550001", n.Address)
	assert.Equal(t, "UTC", n.Timezone)
	assert.Equal(t, 0, n.AttemptCount)
	assert.Equal(t, "A-17", n.Data["order_id"])
	assert.Equal(t, testStart, n.CreatedAt)

	events, err := env.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, delivery.EventCreated, events[0].Kind)
	assert.Equal(t, "pending", events[0].Detail["status"])
}

func TestEnqueuer_FutureScheduleIsScheduled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})
	at := testStart.Add(2 * time.Hour)
	id := env.enqueue(t, delivery.EnqueueRequest{Channel: delivery.ChannelEmail, ScheduledAt: &at})

	n := env.get(t, id)
	assert.Equal(t, delivery.StatusScheduled, n.Status)
	assert.Equal(t, at, n.DueAt())

	events, err := env.store.ListEvents(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, at.Format(time.RFC3339), events[0].Detail["scheduled_at"])
}

func TestEnqueuer_UnknownRecipient(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})

	_, err := env.engine.Enqueue(context.Background(), delivery.EnqueueRequest{
		RecipientID: "ghost", Channel: delivery.ChannelEmail, Category: delivery.CategorySystem, Title: "t", Body: "b",
	})
	assert.ErrorIs(t, err, delivery.ErrRecipientUnknown)

	// user-2 has no phone number.
	_, err = env.engine.Enqueue(context.Background(), delivery.EnqueueRequest{
		RecipientID: "user-2", Channel: delivery.ChannelSMS, Category: delivery.CategorySystem, Title: "t", Body: "b",
	})
	assert.ErrorIs(t, err, delivery.ErrRecipientUnknown)

	// In-app needs no address.
	_, err = env.engine.Enqueue(context.Background(), delivery.EnqueueRequest{
		RecipientID: "user-2", Channel: delivery.ChannelInApp, Category: delivery.CategorySystem, Title: "t", Body: "b",
	})
	assert.NoError(t, err)
}

func TestEnqueuer_DedupKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})
	req := delivery.EnqueueRequest{Channel: delivery.ChannelEmail, DedupKey: "order-17-shipped"}

	first := env.enqueue(t, req)

	req.RecipientID, req.Category, req.Title, req.Body = "user-1", delivery.CategoryMarketing, "again", "again"
	_, err := env.engine.Enqueue(context.Background(), req)
	assert.ErrorIs(t, err, delivery.ErrDuplicateRequest)

	// Same key on another channel is a different request.
	req.Channel = delivery.ChannelSMS
	second, err := env.engine.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The key frees up once the window has passed.
	env.clock.Advance(25 * time.Hour)
	req.Channel = delivery.ChannelEmail
	_, err = env.engine.Enqueue(context.Background(), req)
	assert.NoError(t, err)
}

func TestEnqueuer_ConcurrentDuplicatesAdmitOne(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, delivery.Adapters{})
	req := delivery.EnqueueRequest{
		RecipientID: "user-1", Channel: delivery.ChannelPush, Category: delivery.CategoryTransactional,
		Title: "Your code", Body: "123456", DedupKey: "otp-1",
	}

	const n = 32
	results := make(chan error, n)
	for range n {
		go func() {
			_, err := env.engine.Enqueue(context.Background(), req)
			results <- err
		}()
	}

	admitted := 0
	for range n {
		err := <-results
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, delivery.ErrDuplicateRequest)
	}
	assert.Equal(t, 1, admitted)
}

func TestNewEnqueuer_NilDependencies(t *testing.T) {
	t.Parallel()

	store := delivery.NewMemoryStorage()
	tracker, err := delivery.NewTracker(store, store)
	require.NoError(t, err)

	_, err = delivery.NewEnqueuer(nil, store, delivery.NewMemoryDirectory(), tracker)
	assert.ErrorIs(t, err, delivery.ErrStoreNil)

	_, err = delivery.NewEnqueuer(store, store, nil, tracker)
	assert.ErrorIs(t, err, delivery.ErrDirectoryNil)
}

func ptr[T any](v T) *T {
	return &v
}
