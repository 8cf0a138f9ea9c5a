// Package statemachine validates state transitions against a declared table.
//
// States and events are small interfaces; StringState and StringEvent cover
// the common case and any string-based enum can implement Name() itself.
// A Table holds no current state: callers pass the state a record is in and
// the event that should move it, and get back the target state or an error.
// That makes one package-level table usable for every record, from any
// goroutine.
//
//	const (
//	    Draft     = statemachine.StringState("draft")
//	    Published = statemachine.StringState("published")
//	    Publish   = statemachine.StringEvent("publish")
//	)
//
//	table := statemachine.MustNew(
//	    statemachine.WithTransition(Draft, Published, Publish,
//	        statemachine.WithGuard(hasTitle)),
//	)
//
//	to, err := table.Next(ctx, Draft, Publish, doc)
//
// Guards veto a transition based on runtime data. When several transitions
// share a from state and event, the first one whose guards pass wins.
//
// Errors: IsNoTransitionAvailableError reports an undeclared state/event
// pair, IsTransitionRejectedError a declared one that every guard refused.
package statemachine
