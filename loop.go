package notifyloop

import (
	"context"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

type (
	// Loop is the thread-safe hand-off primitive for the single-goroutine
	// ownership model: goroutines that originate requests off-loop (e.g.
	// transport handlers) submit closures, which the loop drains and runs,
	// one at a time, on its own goroutine. Loop-owned state (the registry,
	// in particular) must only ever be touched from submitted closures, with
	// the sole exception of [Subscription.Cancel].
	//
	// Loop must be constructed with NewLoop. The Run method runs the loop.
	Loop struct {
		logger  *logiface.Logger[logiface.Event]
		ch      chan func(context.Context)
		running atomic.Int32
	}
)

// NewLoop initialises a [Loop], with the given options.
func NewLoop(options ...Option) (*Loop, error) {
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}
	return &Loop{
		logger: c.logger,
		ch:     make(chan func(context.Context)),
	}, nil
}

// Run drains and runs submitted closures, blocking until the context is
// cancelled. A panic will occur if called concurrently (called again before
// the previous call returns), or if called on a loop which was not
// initialized with NewLoop.
func (x *Loop) Run(ctx context.Context) error {
	if x.ch == nil {
		panic(`notifyloop: loop must be initialized with NewLoop`)
	}

	// prevent more than one run call at a time
	if !x.running.CompareAndSwap(0, 1) {
		panic(`notifyloop: loop already running`)
	}
	defer x.running.Store(0)

	x.logger.Debug().Log(`loop started`)
	defer x.logger.Debug().Log(`loop stopped`)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-x.ch:
			fn(ctx)
		}
	}
}

// Submit hands fn to the loop goroutine, fire-and-forget, blocking until the
// hand-off succeeds or ctx is done. The fn receives the loop's own run
// context.
func (x *Loop) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	if fn == nil {
		panic(`notifyloop: submit fn must not be nil`)
	}
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case x.ch <- fn:
		return nil
	}
}

// Do hands fn to the loop goroutine and blocks until it has run, returning
// its error. The fn receives the loop's own run context.
func (x *Loop) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	out := make(chan error, 1)
	if err := x.Submit(ctx, func(loopCtx context.Context) {
		out <- fn(loopCtx)
	}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case err := <-out:
		return err
	}
}

// Do is like [Loop.Do], but carries a result value back to the caller.
func Do[T any](ctx context.Context, loop *Loop, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}
	out := make(chan result, 1)
	if err := loop.Submit(ctx, func(loopCtx context.Context) {
		var r result
		r.value, r.err = fn(loopCtx)
		out <- r
	}); err != nil {
		var zero T
		return zero, err
	}
	select {
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	case r := <-out:
		return r.value, r.err
	}
}
