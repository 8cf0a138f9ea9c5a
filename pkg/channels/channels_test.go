package channels_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/channels"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/inbox"
)

func notification(ch delivery.Channel, address string) delivery.Notification {
	return delivery.Notification{
		ID:          uuid.New(),
		RecipientID: "user-1",
		Channel:     ch,
		Category:    delivery.CategoryTransactional,
		Priority:    delivery.PriorityHigh,
		Status:      delivery.StatusSending,
		Title:       "Your code",
		Body:        "123456",
		Address:     address,
		CreatedAt:   time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	id   string
	err  error
}

func (f *fakeMailer) SendEmail(_ context.Context, msg email.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.id, f.err
}

func TestEmailAdapter(t *testing.T) {
	t.Parallel()

	t.Run("accepted", func(t *testing.T) {
		t.Parallel()
		mailer := &fakeMailer{id: "pm-1"}
		adapter := channels.NewEmail(mailer)
		assert.Equal(t, delivery.ChannelEmail, adapter.Channel())

		n := notification(delivery.ChannelEmail, "a@example.com")
		n.Data = map[string]string{channels.DataHTMLBody: "<p>123456</p>"}
		out := adapter.Send(t.Context(), n)

		assert.Equal(t, delivery.Accepted("pm-1"), out)
		require.Len(t, mailer.sent, 1)
		msg := mailer.sent[0]
		assert.Equal(t, "a@example.com", msg.To)
		assert.Equal(t, "Your code", msg.Subject)
		assert.Equal(t, "123456", msg.TextBody)
		assert.Equal(t, "<p>123456</p>", msg.HTMLBody)
		assert.Equal(t, "transactional", msg.Tag)
		assert.Equal(t, n.ID.String(), msg.Metadata["notification_id"])
	})

	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"rejected recipient", fmt.Errorf("%w: inactive", email.ErrRecipientRejected), false},
		{"invalid message", email.ErrInvalidMessage, false},
		{"provider outage", errors.Join(email.ErrFailedToSendEmail, errors.New("503")), true},
		{"deadline", fmt.Errorf("dial: %w", context.DeadlineExceeded), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := channels.NewEmail(&fakeMailer{err: tt.err}).Send(t.Context(), notification(delivery.ChannelEmail, "a@example.com"))
			assert.False(t, out.Accepted)
			assert.Equal(t, tt.retryable, out.Retryable)
			assert.NotEmpty(t, out.ErrorDetail)
		})
	}
}

func TestInAppAdapter(t *testing.T) {
	t.Parallel()

	box := inbox.New(inbox.NewMemoryStorage())
	t.Cleanup(box.Close)
	adapter := channels.NewInApp(box)
	assert.Equal(t, delivery.ChannelInApp, adapter.Channel())

	sub, err := box.Subscribe(t.Context(), "user-1")
	require.NoError(t, err)

	n := notification(delivery.ChannelInApp, "")
	out := adapter.Send(t.Context(), n)
	assert.Equal(t, delivery.Accepted(n.ID.String()), out)

	select {
	case item := <-sub.Items():
		assert.Equal(t, n.ID, item.NotificationID)
		assert.Equal(t, "Your code", item.Title)
		assert.Equal(t, "high", item.Priority)
	case <-time.After(time.Second):
		t.Fatal("item was not streamed")
	}

	// a retried attempt for the same notification is idempotent
	again := adapter.Send(t.Context(), n)
	assert.True(t, again.Accepted)

	count, err := box.CountUnread(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	missing := notification(delivery.ChannelInApp, "")
	missing.RecipientID = ""
	out = adapter.Send(t.Context(), missing)
	assert.False(t, out.Accepted)
	assert.False(t, out.Retryable)
}
