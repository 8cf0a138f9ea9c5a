package pgstore_test

import (
	"context"
	"sync/atomic"

	"github.com/dmitrymomot/notifykit/pkg/delivery"
)

type countingAdapter struct {
	calls atomic.Int64
}

func (a *countingAdapter) Channel() delivery.Channel { return delivery.ChannelSMS }

func (a *countingAdapter) Send(_ context.Context, n delivery.Notification) delivery.Outcome {
	a.calls.Add(1)
	return delivery.Accepted("sns-" + n.ID.String())
}
