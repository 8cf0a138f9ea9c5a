package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/logger"
)

// RoutingKeyPrefix prefixes the event kind in routing keys,
// e.g. "notification.delivered".
const RoutingKeyPrefix = "notification."

// channel is the part of *amqp.Channel the publisher needs.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher streams delivery events to a durable topic exchange.
// It implements delivery.EventSink.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	timeout  time.Duration
	closed   bool
	logger   *slog.Logger
}

// Dial connects to the broker and declares the exchange.
func Dial(ctx context.Context, cfg Config, log *slog.Logger) (*Publisher, error) {
	const op = "eventbus.Dial"

	if cfg.URL == "" {
		return nil, ErrEmptyURL
	}
	if log == nil {
		log = logger.Discard()
	}

	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(cfg.ConnectionName)

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat:  cfg.Heartbeat,
		Properties: props,
		Dial:       amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, fmt.Errorf("%s: dial: %w", op, err))
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Join(ErrConnectionFailed, fmt.Errorf("%s: open channel: %w", op, err))
	}

	p, err := newPublisher(ch, cfg, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn

	log.InfoContext(ctx, "connected to AMQP broker",
		slog.String("exchange", p.exchange),
		slog.String("connection_name", cfg.ConnectionName))

	return p, nil
}

func newPublisher(ch channel, cfg Config, log *slog.Logger) (*Publisher, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "notifykit.events"
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, errors.Join(ErrConnectionFailed, fmt.Errorf("declare exchange %q: %w", exchange, err))
	}

	return &Publisher{
		ch:       ch,
		exchange: exchange,
		timeout:  cfg.PublishTimeout,
		logger:   log.With(logger.Component("eventbus")),
	}, nil
}

// RoutingKey returns the routing key used for an event kind.
func RoutingKey(kind delivery.EventKind) string {
	return RoutingKeyPrefix + string(kind)
}

// Publish sends e as persistent JSON. The event id is the AMQP message id so
// consumers can deduplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, e delivery.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(e.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID.String(),
		Timestamp:    e.CreatedAt,
		Type:         string(e.Kind),
		Headers: amqp.Table{
			"notification_id": e.NotificationID.String(),
		},
		Body: body,
	})
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}

	p.logger.LogAttrs(ctx, slog.LevelDebug, "delivery event published",
		logger.NotificationID(e.NotificationID),
		logger.Event(string(e.Kind)))

	return nil
}

// Healthcheck fails once the broker connection is gone.
func (p *Publisher) Healthcheck(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.conn != nil && p.conn.IsClosed()) {
		return ErrClosed
	}
	return nil
}

// Close closes the channel and connection. It is safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
