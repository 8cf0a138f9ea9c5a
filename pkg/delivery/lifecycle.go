package delivery

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/notifykit/pkg/statemachine"
)

// Lifecycle steps. A step names why a record changes status; the table below
// decides which status it lands in.
const (
	stepClaim   = statemachine.StringEvent("claim")
	stepDefer   = statemachine.StringEvent("defer")
	stepRelease = statemachine.StringEvent("release")
	stepRetry   = statemachine.StringEvent("retry")
	stepSend    = statemachine.StringEvent("send")
	stepFail    = statemachine.StringEvent("fail")
	stepCancel  = statemachine.StringEvent("cancel")
)

// change is the guard payload: the stored record and its proposed successor.
type change struct {
	from *Notification
	to   *Notification
}

func guardChange(fn func(c change) bool) statemachine.Guard {
	return func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		c, ok := data.(change)
		return ok && c.from != nil && c.to != nil && fn(c)
	}
}

var (
	countsAttempt = guardChange(func(c change) bool {
		return c.to.AttemptCount == c.from.AttemptCount+1
	})
	returnsAttempt = guardChange(func(c change) bool {
		return c.from.AttemptCount > 0 && c.to.AttemptCount == c.from.AttemptCount-1
	})
	keepsAttempts = guardChange(func(c change) bool {
		return c.to.AttemptCount == c.from.AttemptCount
	})
	hasNextAttempt = guardChange(func(c change) bool {
		return c.to.NextAttemptAt != nil
	})
)

// lifecycle is the delivery state machine:
//
//	pending|scheduled|retry_scheduled --claim--> dispatching
//	pending|scheduled|retry_scheduled --defer--> retry_scheduled
//	pending|scheduled|retry_scheduled --cancel-> cancelled
//	dispatching --send----> sent
//	dispatching --retry---> retry_scheduled  (transport failure, stale claim)
//	dispatching --release-> retry_scheduled  (rate limited after the claim)
//	dispatching --fail----> failed
//
// Terminal statuses have no outgoing transitions.
var lifecycle = buildLifecycle()

func buildLifecycle() *statemachine.Table {
	var defs []statemachine.Transition
	for _, from := range []Status{StatusPending, StatusScheduled, StatusRetryScheduled} {
		defs = append(defs,
			statemachine.Transition{From: from, To: StatusDispatching, Event: stepClaim,
				Guards: []statemachine.Guard{countsAttempt}},
			statemachine.Transition{From: from, To: StatusRetryScheduled, Event: stepDefer,
				Guards: []statemachine.Guard{keepsAttempts, hasNextAttempt}},
			statemachine.Transition{From: from, To: StatusCancelled, Event: stepCancel,
				Guards: []statemachine.Guard{keepsAttempts}},
		)
	}
	defs = append(defs,
		statemachine.Transition{From: StatusDispatching, To: StatusSent, Event: stepSend,
			Guards: []statemachine.Guard{keepsAttempts}},
		statemachine.Transition{From: StatusDispatching, To: StatusRetryScheduled, Event: stepRetry,
			Guards: []statemachine.Guard{keepsAttempts, hasNextAttempt}},
		statemachine.Transition{From: StatusDispatching, To: StatusRetryScheduled, Event: stepRelease,
			Guards: []statemachine.Guard{returnsAttempt, hasNextAttempt}},
		statemachine.Transition{From: StatusDispatching, To: StatusFailed, Event: stepFail,
			Guards: []statemachine.Guard{keepsAttempts}},
	)
	return statemachine.MustNew(statemachine.WithTransitions(defs))
}

// advance validates step for the change from -> to and sets to.Status to the
// resulting status.
func advance(ctx context.Context, step statemachine.Event, from, to *Notification) error {
	next, err := lifecycle.Next(ctx, from.Status, step, change{from: from, to: to})
	if err != nil {
		return fmt.Errorf("%w: %s on %s record %s: %w", ErrIllegalTransition, step.Name(), from.Status, from.ID, err)
	}
	to.Status = Status(next.Name())
	return nil
}
