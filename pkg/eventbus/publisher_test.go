package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
	deadline bool
}

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	messages   []published
	declareErr error
	publishErr error
	closed     int
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, _ amqp.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return f.declareErr
	}
	if kind != amqp.ExchangeTopic || !durable || autoDelete || internal || noWait {
		return errors.New("unexpected exchange flags")
	}
	f.declared = append(f.declared, name)
	return nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	_, hasDeadline := ctx.Deadline()
	f.messages = append(f.messages, published{exchange: exchange, key: key, msg: msg, deadline: hasDeadline})
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func testEvent(kind delivery.EventKind) delivery.Event {
	return delivery.Event{
		ID:             uuid.New(),
		NotificationID: uuid.New(),
		Kind:           kind,
		Detail:         map[string]any{"external_ref": "pm-1"},
		CreatedAt:      time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC),
	}
}

func TestPublisherDeclaresTopicExchange(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	_, err := newPublisher(ch, Config{}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, []string{"notifykit.events"}, ch.declared)

	failing := &fakeChannel{declareErr: errors.New("access refused")}
	_, err = newPublisher(failing, Config{Exchange: "x"}, logger.Discard())
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, 1, failing.closed)
}

func TestPublisherPublish(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, Config{Exchange: "events", PublishTimeout: time.Second}, logger.Discard())
	require.NoError(t, err)

	e := testEvent(delivery.EventDelivered)
	require.NoError(t, p.Publish(t.Context(), e))

	require.Len(t, ch.messages, 1)
	got := ch.messages[0]
	assert.Equal(t, "events", got.exchange)
	assert.Equal(t, "notification.delivered", got.key)
	assert.True(t, got.deadline)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, e.ID.String(), got.msg.MessageId)
	assert.Equal(t, e.CreatedAt, got.msg.Timestamp)
	assert.Equal(t, "delivered", got.msg.Type)
	assert.Equal(t, e.NotificationID.String(), got.msg.Headers["notification_id"])

	var decoded delivery.Event
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Kind, decoded.Kind)
	assert.Equal(t, "pm-1", decoded.Detail["external_ref"])
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{publishErr: errors.New("channel/connection is not open")}
	p, err := newPublisher(ch, Config{}, logger.Discard())
	require.NoError(t, err)

	err = p.Publish(t.Context(), testEvent(delivery.EventSent))
	assert.ErrorIs(t, err, ErrPublishFailed)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, ch.closed)

	assert.ErrorIs(t, p.Publish(t.Context(), testEvent(delivery.EventSent)), ErrClosed)
	assert.ErrorIs(t, p.Healthcheck(t.Context()), ErrClosed)
}

func TestPublisherAsEngineEventStream(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{}
	p, err := newPublisher(ch, Config{}, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, p.Healthcheck(t.Context()))

	var sink delivery.EventSink = p
	store := delivery.NewMemoryStorage()
	tracker, err := delivery.NewTracker(store, store, delivery.WithEventSink(sink))
	require.NoError(t, err)

	n := &delivery.Notification{
		ID:          uuid.New(),
		RecipientID: "user-1",
		Channel:     delivery.ChannelEmail,
		Category:    delivery.CategoryTransactional,
		Priority:    delivery.PriorityNormal,
		Status:      delivery.StatusPending,
		Title:       "t",
		Body:        "b",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.CreateNotification(t.Context(), n))
	require.NoError(t, tracker.Record(t.Context(), n.ID, delivery.EventCreated, nil, n.CreatedAt))

	require.Len(t, ch.messages, 1)
	assert.Equal(t, "notification.created", ch.messages[0].key)
}

func TestDialRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Dial(t.Context(), Config{}, nil)
	assert.ErrorIs(t, err, ErrEmptyURL)
	assert.False(t, Config{}.Enabled())
}
