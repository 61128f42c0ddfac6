package notifyloop

import (
	"context"
	"errors"
	"sync"

	"github.com/joeycumines/logiface"
)

type (
	// Canceler is a broadcastable stop signal. Any number of outstanding
	// operations may be wrapped by a single Canceler, and a call to
	// [Canceler.Cancel] forces every currently wrapped operation to resolve
	// early, with a [CanceledError] outcome. Wrapping an already-cancelled
	// Canceler yields an already-cancelled context.
	//
	// A Canceler is single-use, for a given generation of work: after
	// cancellation it stays cancelled, and owners must create a fresh
	// Canceler for a new run (as [Repeater] does, internally).
	//
	// The zero value is ready to use. Canceler is safe for concurrent use.
	Canceler struct {
		// Logger receives the (informational) cancel logs, and may be nil.
		// It must not be modified after first use of the Canceler.
		Logger *logiface.Logger[logiface.Event]

		mu      sync.Mutex
		wrapped map[uint64]context.CancelCauseFunc
		nextID  uint64
		done    chan struct{}
		reason  *CanceledError
	}

	// CanceledError is the distinguished "cancelled" outcome, produced by a
	// [Canceler] on every operation it wraps, after [Canceler.Cancel].
	CanceledError struct {
		// Reason is the value passed to [Canceler.Cancel].
		Reason string
	}
)

func (x *CanceledError) Error() string {
	return `notifyloop: canceled: ` + x.Reason
}

// AsCanceled unpacks a [CanceledError] from an error chain.
func AsCanceled(err error) (*CanceledError, bool) {
	var e *CanceledError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// CanceledCause unpacks a [CanceledError] from a context which was cancelled
// by the [Canceler] that wrapped it.
func CanceledCause(ctx context.Context) (*CanceledError, bool) {
	return AsCanceled(context.Cause(ctx))
}

// Wrap derives a context from parent, which will additionally be cancelled
// (with a [CanceledError] cause) when the Canceler is. The returned release
// func must be called once the wrapped operation resolves, typically via
// defer; it detaches the context from the Canceler, and releases its
// resources.
//
// Wrapping is a broadcast relationship, not a queue: every context wrapped
// and not yet released observes a single Cancel.
func (x *Canceler) Wrap(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	x.mu.Lock()
	if x.reason != nil {
		reason := x.reason
		x.mu.Unlock()
		cancel(reason)
		return ctx, func() { cancel(reason) }
	}
	if x.wrapped == nil {
		x.wrapped = make(map[uint64]context.CancelCauseFunc)
	}
	id := x.nextID
	x.nextID++
	x.wrapped[id] = cancel
	x.mu.Unlock()

	return ctx, func() {
		x.mu.Lock()
		delete(x.wrapped, id)
		x.mu.Unlock()
		cancel(context.Canceled)
	}
}

// Cancel transitions the Canceler to the cancelled state, resolving every
// currently wrapped operation with a [CanceledError] carrying the given
// reason. It is idempotent: cancelling an already-cancelled Canceler is a
// no-op (logged, not an error), and it may be called before anything is
// wrapped, or when nothing is.
func (x *Canceler) Cancel(reason string) {
	x.mu.Lock()
	if x.reason != nil {
		x.mu.Unlock()
		x.Logger.Debug().
			Str(`reason`, reason).
			Log(`canceler already canceled`)
		return
	}
	x.reason = &CanceledError{Reason: reason}
	if x.done != nil {
		close(x.done)
	} else {
		x.done = closedChan
	}
	wrapped := x.wrapped
	x.wrapped = nil
	cause := x.reason
	x.mu.Unlock()

	for _, cancel := range wrapped {
		cancel(cause)
	}

	x.Logger.Info().
		Str(`reason`, reason).
		Int(`wrapped`, len(wrapped)).
		Log(`canceled`)
}

// Done returns a channel which is closed once the Canceler is cancelled.
func (x *Canceler) Done() <-chan struct{} {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.done == nil {
		x.done = make(chan struct{})
	}
	return x.done
}

// Err returns nil, or the [CanceledError] the Canceler was cancelled with.
func (x *Canceler) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.reason == nil {
		return nil
	}
	return x.reason
}

// Canceled returns true if Cancel has been called.
func (x *Canceler) Canceled() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reason != nil
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()
