package notifyloop

import "time"

type (
	// TimerSource supplies "complete after duration d" primitives, and exists
	// to decouple waiting from the wall clock (e.g. for tests). SystemTimer
	// is the implementation used in practice.
	TimerSource interface {
		// AfterDelay arms a timer which will fire once, at least d after the
		// call. The returned Waiter must either be received from, or stopped.
		AfterDelay(d time.Duration) Waiter
	}

	// Waiter models one in-flight "wait then fire" unit.
	Waiter interface {
		// Wait returns the channel which will receive (once) when the timer
		// fires.
		Wait() <-chan time.Time
		// Stop releases the timer, returning false if it already fired (in
		// which case any unconsumed tick has been drained).
		Stop() bool
	}

	systemTimer struct{}

	systemWaiter struct{ timer *time.Timer }
)

// SystemTimer is a TimerSource backed by [time.Timer].
var SystemTimer TimerSource = systemTimer{}

func (systemTimer) AfterDelay(d time.Duration) Waiter {
	return systemWaiter{timer: time.NewTimer(d)}
}

func (x systemWaiter) Wait() <-chan time.Time { return x.timer.C }

// Stop wraps stopAndDrainTimer, see below.
func (x systemWaiter) Stop() bool { return stopAndDrainTimer(x.timer) }

// Go 1.23 changed the time.Timer.Stop API such that the channel is drained on
// stop, but a tick received prior to the stop still needs to be consumed.
func stopAndDrainTimer(t *time.Timer) (already bool) {
	select {
	case <-t.C:
		return false
	default:
		return t.Stop()
	}
}
