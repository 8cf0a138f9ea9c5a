package eventbus

import "errors"

var (
	ErrEmptyURL         = errors.New("eventbus: AMQP URL is empty")
	ErrConnectionFailed = errors.New("eventbus: failed to connect to broker")
	ErrPublishFailed    = errors.New("eventbus: failed to publish event")
	ErrClosed           = errors.New("eventbus: publisher is closed")
)
