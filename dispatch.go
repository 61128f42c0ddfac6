package notifyloop

import (
	"context"
	"time"

	"github.com/joeycumines/logiface"
)

type (
	// DispatchLoop periodically prunes dead subscribers and fans a freshly
	// generated event out to the rest. It is a [Repeater] specialization:
	// once per tick period, it invokes [Registry.Tick], optionally handing
	// the tick off to a [Loop] so registry access stays on the loop
	// goroutine. Ticks are strictly sequential; tick N+1 never starts before
	// tick N's joined deliveries complete.
	//
	// DispatchLoop must be constructed with NewDispatchLoop.
	DispatchLoop struct {
		logger   *logiface.Logger[logiface.Event]
		registry *Registry
		repeater *Repeater
		loop     *Loop
		interval time.Duration
	}
)

// NewDispatchLoop initialises a [DispatchLoop], with the given options. A
// registry is constructed from the same options, unless one is provided via
// [WithRegistry].
func NewDispatchLoop(options ...Option) (*DispatchLoop, error) {
	c, err := newConfig(options)
	if err != nil {
		return nil, err
	}

	registry := c.registry
	if registry == nil {
		registry = c.newRegistry()
	}

	x := DispatchLoop{
		logger:   c.logger,
		registry: registry,
		repeater: &Repeater{
			Timer:  c.timer,
			Logger: c.logger,
		},
		loop:     c.loop,
		interval: c.interval,
	}
	if x.interval == 0 {
		x.interval = DefaultInterval
	}

	return &x, nil
}

// Registry returns the registry the loop dispatches for. Access to it must
// honor the registry's single-goroutine ownership.
func (x *DispatchLoop) Registry() *Registry {
	return x.registry
}

// Start arms the dispatch tick. Calling Start while running is a no-op
// beyond replacing the cadence (see [Repeater.Start]); after Cancel, Start
// begins a fresh run. Panics if the DispatchLoop was not constructed with
// NewDispatchLoop, since dispatching without a registry is a wiring bug.
func (x *DispatchLoop) Start(ctx context.Context) {
	if x.registry == nil || x.repeater == nil {
		panic(`notifyloop: dispatch loop must be initialized with NewDispatchLoop`)
	}
	x.repeater.Start(ctx, x.interval, x.tick)
}

// Cancel stops the dispatch tick. Safe to call when idle, and idempotent. A
// tick in flight completes (including its joined deliveries) before the run
// ends.
func (x *DispatchLoop) Cancel(reason string) {
	x.repeater.Cancel(reason)
}

// Running returns true if a dispatch run is in flight.
func (x *DispatchLoop) Running() bool {
	return x.repeater.Running()
}

func (x *DispatchLoop) tick(ctx context.Context) error {
	if x.loop != nil {
		// hand off to the loop goroutine, joining before the next re-arm
		return x.loop.Do(ctx, func(ctx context.Context) error {
			x.registry.Tick(ctx)
			return nil
		})
	}
	x.registry.Tick(ctx)
	return nil
}
