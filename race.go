package notifyloop

import (
	"context"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// Work is an arbitrary asynchronous operation, expected to respect
	// context cancellation at its suspension points.
	Work func(ctx context.Context) error

	// Race is a combinator that runs a unit of work concurrently with a
	// deadline timer, and commits to whichever resolves first, guaranteeing
	// the loser is cancelled and never observed again.
	//
	// The zero value is ready to use.
	Race struct {
		// Timer is the timer source for the deadline, defaulting to
		// SystemTimer.
		Timer TimerSource
		// Logger may be nil.
		Logger *logiface.Logger[logiface.Event]
	}

	// RaceOutcome is the result of [Race.Run]. Exactly one outcome is
	// produced per race, never zero, never two.
	RaceOutcome int
)

const (
	// RaceSuccess indicates the work completed before the deadline.
	RaceSuccess RaceOutcome = iota
	// RaceTimeout indicates the deadline fired first, and the work was
	// force-cancelled.
	RaceTimeout
	// RaceFailure indicates the work failed with its own error (not a
	// timeout), or the race context itself was cancelled.
	RaceFailure
)

func (o RaceOutcome) String() string {
	switch o {
	case RaceSuccess:
		return `success`
	case RaceTimeout:
		return `timeout`
	case RaceFailure:
		return `failure`
	default:
		return `unknown`
	}
}

// Run starts work and a deadline timer concurrently, returning the outcome of
// whichever resolves first. On timeout, the work is force-cancelled via a
// [Canceler] owned by the race (not the caller), and its eventual result is
// discarded. On success the deadline timer is stopped and drained without
// side effects. An error is returned only alongside RaceFailure, and is the
// work's own (non-cancellation) error, or the race context's cause.
//
// The select below is the "done flag": an outcome is claimed exactly once,
// so a work completion racing the deadline can never produce both.
func (x *Race) Run(ctx context.Context, deadline time.Duration, work Work) (RaceOutcome, error) {
	if work == nil {
		panic(`notifyloop: race work must not be nil`)
	}

	canceler := Canceler{Logger: x.Logger}
	workCtx, release := canceler.Wrap(ctx)
	defer release()

	// buffered, so the loser resolves without anyone listening
	result := make(chan error, 1)
	go func() {
		result <- work(workCtx)
	}()

	w := x.timer().AfterDelay(deadline)

	select {
	case err := <-result:
		w.Stop()
		if err != nil {
			if _, ok := AsCanceled(err); !ok {
				x.Logger.Info().
					Err(err).
					Log(`race work failed`)
				return RaceFailure, err
			}
			// cancelled by the caller's context, not the deadline
			return RaceFailure, err
		}
		x.Logger.Debug().
			Dur(`deadline`, deadline).
			Log(`race work completed`)
		return RaceSuccess, nil

	case <-w.Wait():
		canceler.Cancel(`deadline exceeded`)
		x.Logger.Info().
			Dur(`deadline`, deadline).
			Log(`race timed out`)
		return RaceTimeout, nil

	case <-ctx.Done():
		w.Stop()
		canceler.Cancel(`race context done`)
		return RaceFailure, context.Cause(ctx)
	}
}

func (x *Race) timer() TimerSource {
	if x.Timer != nil {
		return x.Timer
	}
	return SystemTimer
}
