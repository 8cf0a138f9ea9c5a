package delivery

import "context"

// Outcome is an adapter's verdict on a single send.
type Outcome struct {
	Accepted    bool
	ExternalRef string
	Retryable   bool
	ErrorDetail string
}

// Accepted reports a successful hand-off to the transport.
func Accepted(externalRef string) Outcome {
	return Outcome{Accepted: true, ExternalRef: externalRef}
}

// RetryableFailure reports a transient failure such as a timeout or 5xx.
func RetryableFailure(detail string) Outcome {
	return Outcome{Retryable: true, ErrorDetail: detail}
}

// PermanentFailure reports a failure that retrying cannot fix, such as an invalid address.
func PermanentFailure(detail string) Outcome {
	return Outcome{ErrorDetail: detail}
}

// Adapter delivers notifications over one channel.
//
// Send must be safe for concurrent use by dispatcher workers and must honour
// ctx cancellation. Adapters decide whether a failure is retryable; any
// transport quota throttling is their own concern.
type Adapter interface {
	Channel() Channel
	Send(ctx context.Context, n Notification) Outcome
}

// Adapters routes notifications to the adapter registered for their channel.
type Adapters map[Channel]Adapter

// NewAdapters indexes adapters by channel. Later adapters replace earlier ones.
func NewAdapters(adapters ...Adapter) Adapters {
	m := make(Adapters, len(adapters))
	for _, a := range adapters {
		if a != nil {
			m[a.Channel()] = a
		}
	}
	return m
}
