package statemachine

import (
	"context"
	"fmt"
)

// Table is a transition table without a current state. Records carry their
// own state, so one table validates transitions for any number of them and
// is safe for concurrent use once built.
type Table struct {
	// [fromState][event][]Transition
	transitions map[string]map[string][]Transition
}

// Option configures a table during construction.
type Option func(*Table) error

// TransitionOption configures a single transition.
type TransitionOption func(*Transition)

// New builds a table from the given options.
func New(opts ...Option) (*Table, error) {
	t := &Table{transitions: make(map[string]map[string][]Transition)}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is like New but panics on error. Meant for package-level tables.
func MustNew(opts ...Option) *Table {
	t, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to build transition table: %v", err))
	}
	return t
}

// WithTransition adds a single transition.
func WithTransition(from, to State, event Event, opts ...TransitionOption) Option {
	return func(t *Table) error {
		tr := Transition{From: from, To: to, Event: event}
		for _, opt := range opts {
			opt(&tr)
		}
		return t.add(tr)
	}
}

// WithTransitions adds several transitions at once.
func WithTransitions(defs []Transition) Option {
	return func(t *Table) error {
		for i, tr := range defs {
			if err := t.add(tr); err != nil {
				return fmt.Errorf("transition[%d]: %w", i, err)
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard(guard Guard) TransitionOption {
	return func(tr *Transition) {
		if guard != nil {
			tr.Guards = append(tr.Guards, guard)
		}
	}
}

// WithGuards adds several guards to a transition.
func WithGuards(guards ...Guard) TransitionOption {
	return func(tr *Transition) {
		for _, g := range guards {
			if g != nil {
				tr.Guards = append(tr.Guards, g)
			}
		}
	}
}

func (t *Table) add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}

	from := tr.From.Name()
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[string][]Transition)
	}
	// Several transitions per from/event allow guard-based branching.
	t.transitions[from][tr.Event.Name()] = append(t.transitions[from][tr.Event.Name()], tr)
	return nil
}

// Next returns the target state for event fired in state from. The first
// transition whose guards all pass wins.
func (t *Table) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil || event == nil {
		return nil, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	for _, tr := range candidates {
		if tr.allowed(ctx, from, event, data) {
			return tr.To, nil
		}
	}
	return nil, NewErrTransitionRejected(from.Name(), event.Name())
}

// CanFire reports whether Next would succeed.
func (t *Table) CanFire(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}
