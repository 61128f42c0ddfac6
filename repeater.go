package notifyloop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// Callback is the unit of work invoked on each tick of a [Repeater].
	// Returning a non-nil error terminates the run (logged, not surfaced to
	// the caller of [Repeater.Start]).
	Callback func(ctx context.Context) error

	// Repeater invokes a callback at a fixed interval, until cancelled. It
	// transitions idle → running on [Repeater.Start], running → idle on
	// [Repeater.Cancel] (or on a callback error, or on context
	// cancellation), and may be started again after that, at a new cadence,
	// with no leftover ticks from the previous run.
	//
	// There is never more than one outstanding tick: calling Start while
	// running replaces the interval and callback for subsequent ticks, but
	// does not arm a second chain. Each run owns a fresh [Canceler]; a
	// cancelled run's canceler is never reused.
	//
	// Cancellation is observed at the wait boundary: cancelling mid-wait
	// aborts the wait and suppresses the callback, while cancelling
	// mid-callback lets the current invocation finish (its context is
	// cancelled, cooperatively), then suppresses the re-arm.
	//
	// The zero value is ready to use. Repeater is safe for concurrent use.
	Repeater struct {
		// Timer is the timer source for tick waits, defaulting to
		// SystemTimer.
		Timer TimerSource
		// Logger may be nil.
		Logger *logiface.Logger[logiface.Event]

		mu       sync.Mutex
		canceler *Canceler // nil when idle
		interval time.Duration
		callback Callback
		epoch    uint64        // bumped by each Start, observed by the run loop
		stopped  chan struct{} // closed when the current run's loop exits
	}
)

// Start records the interval and callback, and, if the Repeater is idle,
// transitions it to running and arms the first tick. If already running, the
// new interval and callback take effect from the next tick, and no new chain
// is armed. That holds even when the running tick is about to fail: a Start
// that races a callback error takes over the run at the new cadence. A run
// ending with its context always ends.
//
// The run is additionally bound to ctx: the first of ctx cancellation and
// [Repeater.Cancel] ends it.
func (x *Repeater) Start(ctx context.Context, interval time.Duration, callback Callback) {
	if interval <= 0 {
		panic(`notifyloop: repeater interval must be positive`)
	}
	if callback == nil {
		panic(`notifyloop: repeater callback must not be nil`)
	}

	x.mu.Lock()
	x.interval = interval
	x.callback = callback
	x.epoch++
	if x.canceler != nil {
		x.mu.Unlock()
		x.Logger.Debug().
			Dur(`interval`, interval).
			Log(`repeater already running, cadence replaced`)
		return
	}
	canceler := &Canceler{Logger: x.Logger}
	stopped := make(chan struct{})
	x.canceler = canceler
	x.stopped = stopped
	x.mu.Unlock()

	runCtx, release := canceler.Wrap(ctx)
	go x.run(runCtx, release, canceler, stopped)
}

// Cancel cancels the current run's [Canceler], which aborts any pending wait
// and suppresses further ticks. Safe to call when idle (a no-op, logged), and
// idempotent. A subsequent Start begins a fresh run.
func (x *Repeater) Cancel(reason string) {
	x.mu.Lock()
	canceler := x.canceler
	x.canceler = nil
	x.mu.Unlock()

	if canceler == nil {
		x.Logger.Info().
			Str(`reason`, reason).
			Log(`repeater cancel: not running`)
		return
	}
	canceler.Cancel(reason)
}

// Running returns true if the Repeater has a run in flight.
func (x *Repeater) Running() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.canceler != nil
}

// run is the explicit tick loop for a single generation of work. Wait,
// callback, and re-arm are chained such that a failure or cancellation at any
// stage terminates the chain without re-arming.
func (x *Repeater) run(ctx context.Context, release context.CancelFunc, canceler *Canceler, stopped chan struct{}) {
	defer close(stopped)
	defer release()
	defer func() {
		x.mu.Lock()
		if x.canceler == canceler {
			x.canceler = nil
		}
		x.mu.Unlock()
	}()

	for {
		x.mu.Lock()
		interval := x.interval
		callback := x.callback
		epoch := x.epoch
		x.mu.Unlock()

		w := x.timer().AfterDelay(interval)
		select {
		case <-ctx.Done():
			w.Stop()
			x.logStopped(ctx)
			return
		case <-w.Wait():
		}

		if err := callback(ctx); err != nil {
			if _, ok := AsCanceled(err); ok || errors.Is(err, context.Canceled) {
				x.logStopped(ctx)
				return
			}
			x.Logger.Err().
				Err(err).
				Log(`repeater callback failed`)
			x.mu.Lock()
			if x.canceler == canceler && x.epoch != epoch {
				// a Start landed after this tick's cadence was read, and
				// the run is still current: the replacement takes over
				x.mu.Unlock()
				continue
			}
			if x.canceler == canceler {
				x.canceler = nil
			}
			x.mu.Unlock()
			return
		}
	}
}

func (x *Repeater) logStopped(ctx context.Context) {
	if b := x.Logger.Info(); b.Enabled() {
		if e, ok := CanceledCause(ctx); ok {
			b.Str(`reason`, e.Reason)
		}
		b.Log(`repeater stopped`)
	}
}

func (x *Repeater) timer() TimerSource {
	if x.Timer != nil {
		return x.Timer
	}
	return SystemTimer
}
