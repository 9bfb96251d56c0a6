package fsm

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// WrapEvent adapts fn to an fsm.Callback. A returned error is stored on the
// event and surfaces from fsm.Event.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Err = err
		}
	}
}

// Ignorable reports whether err only says that the event did not apply in
// the current state.
func Ignorable(err error) bool {
	var (
		noTransition fsm.NoTransitionError
		invalid      fsm.InvalidEventError
	)
	return errors.As(err, &noTransition) || errors.As(err, &invalid)
}

// ArgError returns the first error found in the event arguments, or nil.
func ArgError(event *fsm.Event) error {
	for _, a := range event.Args {
		if err, ok := a.(error); ok && err != nil {
			return err
		}
	}
	return nil
}
