package notifyloop

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
	"testing"
	"time"
)

// checkNumGoroutines is intended to be used to check for errant goroutines,
// like `defer checkNumGoroutines(time.Second * 3)(t)`.
func checkNumGoroutines(max time.Duration) func(t *testing.T) {
	before := runtime.NumGoroutine()
	return func(t *testing.T) {
		if t != nil {
			t.Helper()
		}
		after := waitNumGoroutines(max, func(n int) bool { return n <= before })
		if after > before {
			var b bytes.Buffer
			_ = pprof.Lookup("goroutine").WriteTo(&b, 1)
			testingErrorfOrPanic(t, "%s\n\nstarted with %d goroutines finished with %d", b.Bytes(), before, after)
		}
	}
}

// waitNumGoroutines will block until there are a target number of goroutines
// remaining, or a max duration is exceeded.
func waitNumGoroutines(maxDur time.Duration, fn func(n int) bool) (n int) {
	const minDur = time.Millisecond * 10
	if maxDur < minDur {
		maxDur = minDur
	}
	count := int(maxDur / minDur)
	maxDur /= time.Duration(count)
	n = runtime.NumGoroutine()
	for i := 0; i < count && !fn(n); i++ {
		time.Sleep(maxDur)
		runtime.GC()
		n = runtime.NumGoroutine()
	}
	return
}

func testingErrorfOrPanic(t *testing.T, format string, values ...interface{}) {
	if t == nil {
		panic(fmt.Errorf(format, values...))
	}
	t.Helper()
	t.Errorf(format, values...)
}

type (
	// fakeTimer is a TimerSource with manually fired waiters.
	fakeTimer struct {
		mu      sync.Mutex
		waiters []*fakeWaiter
	}

	fakeWaiter struct {
		parent  *fakeTimer
		d       time.Duration
		ch      chan time.Time
		stopped bool
		fired   bool
	}
)

func (x *fakeTimer) AfterDelay(d time.Duration) Waiter {
	w := &fakeWaiter{parent: x, d: d, ch: make(chan time.Time, 1)}
	x.mu.Lock()
	x.waiters = append(x.waiters, w)
	x.mu.Unlock()
	return w
}

// fire fires the oldest unstopped, unfired waiter, blocking (briefly) until
// one is armed.
func (x *fakeTimer) fire(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		x.mu.Lock()
		for _, w := range x.waiters {
			if w.stopped || w.fired {
				continue
			}
			w.fired = true
			w.ch <- time.Now()
			x.mu.Unlock()
			return
		}
		x.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal(`no waiter armed within deadline`)
}

// waitArmed blocks until a waiter is armed (unstopped, unfired) without
// firing it, joining whatever work precedes the re-arm.
func (x *fakeTimer) waitArmed(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 5)
	for time.Now().Before(deadline) {
		x.mu.Lock()
		for _, w := range x.waiters {
			if !w.stopped && !w.fired {
				x.mu.Unlock()
				return
			}
		}
		x.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal(`no waiter armed within deadline`)
}

func (x *fakeWaiter) Wait() <-chan time.Time { return x.ch }

func (x *fakeWaiter) Stop() bool {
	x.parent.mu.Lock()
	defer x.parent.mu.Unlock()
	x.stopped = true
	return !x.fired
}
